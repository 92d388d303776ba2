package domain

// User is the authenticated actor as seen by the storage layer.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
}
