package sprintboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sprintboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// User is the authenticated account.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Session is returned by sign-up and sign-in.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Room is a shared task board.
type Room struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsPublic    bool    `json:"is_public"`
	RoomCode    string  `json:"room_code"`
	OwnerID     string  `json:"owner_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Member is a granted role in a room.
type Member struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID                 string    `json:"id"`
	Activity           string    `json:"atividade"`
	Epic               string    `json:"epico,omitempty"`
	UserStory          string    `json:"userStory,omitempty"`
	Sprint             string    `json:"sprint,omitempty"`
	Developer          string    `json:"desenvolvedor,omitempty"`
	Priority           string    `json:"prioridade"`
	Status             string    `json:"status"`
	EstimateHours      float64   `json:"estimativa"`
	Reestimates        []float64 `json:"reestimativas"`
	TimeSpent          *float64  `json:"tempoGasto,omitempty"`
	ErrorRate          *float64  `json:"taxaErro,omitempty"`
	TimeSpentValidated *bool     `json:"tempoGastoValidado,omitempty"`
	ErrorReason        string    `json:"motivoErro,omitempty"`
	CreatedAt          string    `json:"createdAt"`
	UpdatedAt          string    `json:"updatedAt"`
}

// TaskPage is a filtered listing with the unpaged total.
type TaskPage struct {
	Items []Task `json:"items"`
	Total int    `json:"total"`
}

// TaskQuery filters task listings. Empty fields are ignored.
type TaskQuery struct {
	Status        string
	Priority      string
	Sprint        string
	Developer     string
	Epic          string
	CreatedAfter  string
	CreatedBefore string
	Limit         int
	Offset        int
}

func (q TaskQuery) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("status", q.Status)
	set("prioridade", q.Priority)
	set("sprint", q.Sprint)
	set("desenvolvedor", q.Developer)
	set("epico", q.Epic)
	set("createdAfter", q.CreatedAfter)
	set("createdBefore", q.CreatedBefore)
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", fmt.Sprint(q.Offset))
	}
	return v
}

// BulkResult reports per-item outcomes of bulk operations.
type BulkResult struct {
	Tasks    []Task `json:"tasks"`
	Failures []struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	} `json:"failures,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SignUp registers an account and keeps its token for later calls.
func (c *Client) SignUp(ctx context.Context, email, password string) (Session, error) {
	return c.signIn(ctx, "auth/signup", email, password)
}

// SignIn authenticates and keeps the token for later calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	return c.signIn(ctx, "auth/signin", email, password)
}

func (c *Client) signIn(ctx context.Context, endpoint, email, password string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.apiPath(endpoint), map[string]any{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, c.apiPath("me"), nil, &resp)
	return resp, err
}

// CreateAPIKey returns the raw key; it is not retrievable later.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("api-keys"), map[string]any{"name": name}, &resp)
	return resp.Key, err
}

// CreateRoom creates a room; an empty code asks the server to generate one.
func (c *Client) CreateRoom(ctx context.Context, name, code string) (Room, error) {
	body := map[string]any{"name": name}
	if code != "" {
		body["room_code"] = code
	}
	var resp Room
	err := c.do(ctx, http.MethodPost, c.apiPath("rooms"), body, &resp)
	return resp, err
}

// JoinRoom joins a room by its shareable code.
func (c *Client) JoinRoom(ctx context.Context, code string) (Room, error) {
	var resp Room
	err := c.do(ctx, http.MethodPost, c.apiPath("rooms/join"), map[string]any{"room_code": code}, &resp)
	return resp, err
}

// Rooms lists the rooms the caller owns or was granted.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp struct {
		Items []Room `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("rooms"), nil, &resp)
	return resp.Items, err
}

// DeleteRoom removes a room with its tasks and grants.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, c.roomPath(roomID, ""), nil, nil)
}

// Members lists granted roles of a room.
func (c *Client) Members(ctx context.Context, roomID string) ([]Member, error) {
	var resp struct {
		Items []Member `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.roomPath(roomID, "members"), nil, &resp)
	return resp.Items, err
}

// ListTasks returns one page of tasks and the total matching count.
func (c *Client) ListTasks(ctx context.Context, roomID string, q TaskQuery) (TaskPage, error) {
	endpoint := c.roomPath(roomID, "tasks")
	if v := q.values(); len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, roomID, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.roomPath(roomID, "tasks/"+url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// CreateTask creates a task from the given fields, keyed by their JSON names.
func (c *Client) CreateTask(ctx context.Context, roomID string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.roomPath(roomID, "tasks"), fields, &resp)
	return resp, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, roomID, taskID string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.roomPath(roomID, "tasks/"+url.PathEscape(taskID)), fields, &resp)
	return resp, err
}

// DeleteTask removes a task and returns what was removed.
func (c *Client) DeleteTask(ctx context.Context, roomID, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodDelete, c.roomPath(roomID, "tasks/"+url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// BulkDeleteTasks deletes several tasks; failures are reported per item.
func (c *Client) BulkDeleteTasks(ctx context.Context, roomID string, ids []string) (BulkResult, error) {
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, c.roomPath(roomID, "tasks/bulk-delete"), map[string]any{"ids": ids}, &resp)
	return resp, err
}

// StatusCounts returns the number of tasks per status.
func (c *Client) StatusCounts(ctx context.Context, roomID string) (map[string]int, error) {
	resp := map[string]int{}
	err := c.do(ctx, http.MethodGet, c.roomPath(roomID, "stats/status"), nil, &resp)
	return resp, err
}

// Export downloads the room's tasks as json or csv.
func (c *Client) Export(ctx context.Context, roomID, format string) ([]byte, error) {
	endpoint := c.roomPath(roomID, "export")
	if format != "" {
		endpoint += "?format=" + url.QueryEscape(format)
	}
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, endpoint, nil, &buf)
	return buf.Bytes(), err
}

// Events returns recent journal entries of a room.
func (c *Client) Events(ctx context.Context, roomID string, limit int) ([]Event, error) {
	endpoint := c.roomPath(roomID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) roomPath(roomID, p string) string {
	room := "rooms/" + url.PathEscape(roomID)
	if p == "" {
		return c.apiPath(room)
	}
	return c.apiPath(room + "/" + strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
