package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// RoomCodeLength is the length of a shareable room code.
const RoomCodeLength = 8

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

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

type RoomAccess struct {
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RoomInput is what a caller supplies to create a room. An empty RoomCode
// asks for a generated one.
type RoomInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsPublic    bool    `json:"is_public,omitempty"`
	RoomCode    string  `json:"room_code,omitempty"`
}

func (in RoomInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if in.RoomCode != "" && !ValidRoomCode(NormalizeRoomCode(in.RoomCode)) {
		return &ValidationError{Field: "room_code", Reason: fmt.Sprintf("must be %d characters of A-Z or 0-9", RoomCodeLength)}
	}
	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode expects an already normalized code.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(roomCodeAlphabet, r) {
			return false
		}
	}
	return true
}

func GenerateRoomCode() (string, error) {
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < RoomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func IsValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}
