package server

import (
	"encoding/json"

	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
)

// Request payloads

type CredentialsRequest struct {
	Email    string `json:"email" example:"ana@example.com"`
	Password string `json:"password" minLength:"1"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateRoomRequest struct {
	Name        string  `json:"name" example:"Sprint board"`
	Description *string `json:"description,omitempty"`
	IsPublic    bool    `json:"is_public,omitempty"`
	RoomCode    string  `json:"room_code,omitempty" example:"TEAM2024"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"room_code" example:"TEAM2024"`
}

type GrantRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"admin,member"`
}

type BulkUpdateRequest struct {
	Updates []storage.TaskUpdate `json:"updates"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type SetConfigRequest struct {
	Value any `json:"value"`
}

// Response payloads

type AuthResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type RoomListResponse struct {
	Items []domain.Room `json:"items"`
}

type MemberListResponse struct {
	Items []domain.RoomAccess `json:"items"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
	Total int           `json:"total"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ConfigResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

type EventResponse struct {
	ID         string `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RoomID     string `json:"room_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload,omitempty"`
}

func apiKeyResponse(k repo.APIKey, raw string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, Key: raw, CreatedAt: k.CreatedAt}
}

func eventResponse(e events.Entry) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RoomID:     e.RoomID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.PayloadJSON != "" {
		var payload any
		if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err == nil {
			resp.Payload = payload
		} else {
			resp.Payload = e.PayloadJSON
		}
	}
	return resp
}

func rawValue(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func nonNilRooms(items []domain.Room) []domain.Room {
	if items == nil {
		return []domain.Room{}
	}
	return items
}
