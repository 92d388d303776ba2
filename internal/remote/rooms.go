package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"sprintboard/internal/domain"
	"sprintboard/internal/events"
	"sprintboard/internal/repo"
	"sprintboard/internal/storage"
)

func (s *Service) roomActor() (domain.User, error) {
	if err := s.ready(); err != nil {
		return domain.User{}, err
	}
	return s.actor()
}

// CreateRoom makes the actor the owner. An empty code is generated; a
// supplied code that is already taken is a validation error.
func (s *Service) CreateRoom(ctx context.Context, in domain.RoomInput) (domain.Room, error) {
	u, err := s.roomActor()
	if err != nil {
		return domain.Room{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Room{}, err
	}
	now := s.stamp("")
	room := domain.Room{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		IsPublic:    in.IsPublic,
		RoomCode:    domain.NormalizeRoomCode(in.RoomCode),
		OwnerID:     u.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	supplied := room.RoomCode != ""
	for attempt := 1; ; attempt++ {
		if !supplied {
			if room.RoomCode, err = domain.GenerateRoomCode(); err != nil {
				return domain.Room{}, err
			}
		}
		err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.repo.InsertRoom(ctx, tx, room); err != nil {
				return err
			}
			return s.journal.Append(ctx, tx, events.RoomCreated, room.ID, "room", room.ID, u.ID, events.Payload{"room_code": room.RoomCode})
		})
		if !errors.Is(err, repo.ErrConflict) {
			break
		}
		if supplied {
			return domain.Room{}, &domain.ValidationError{Field: "room_code", Reason: "already in use"}
		}
		if attempt == maxCodeAttempts {
			return domain.Room{}, fmt.Errorf("create room: no free room code after %d attempts", attempt)
		}
		s.log.Debug("room code collision", zap.String("code", room.RoomCode))
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	s.log.Info("room created", zap.String("room", room.ID), zap.String("code", room.RoomCode))
	s.bus.Emit(events.RoomCreated, room)
	return room, nil
}

// JoinRoom grants the actor member access. Joining twice, or joining an
// owned room, returns the room without writing a second grant.
func (s *Service) JoinRoom(ctx context.Context, code string) (domain.Room, error) {
	u, err := s.roomActor()
	if err != nil {
		return domain.Room{}, err
	}
	code = domain.NormalizeRoomCode(code)
	if code == "" {
		return domain.Room{}, &domain.ValidationError{Field: "room_code", Reason: "required"}
	}
	var (
		room    domain.Room
		granted bool
	)
	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		room, err = s.repo.GetRoomByCode(ctx, tx, code)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("room %s: %w", code, storage.ErrRoomNotFound)
		}
		if err != nil {
			return err
		}
		if room.OwnerID == u.ID {
			return nil
		}
		granted, err = s.repo.GrantAccess(ctx, tx, domain.RoomAccess{
			RoomID:    room.ID,
			UserID:    u.ID,
			Role:      domain.RoleMember,
			GrantedBy: room.OwnerID,
			CreatedAt: s.stamp(""),
		})
		if err != nil || !granted {
			return err
		}
		return s.journal.Append(ctx, tx, events.RoomJoined, room.ID, "room", room.ID, u.ID, events.Payload{"role": domain.RoleMember})
	})
	if err != nil {
		return domain.Room{}, err
	}
	if granted {
		s.bus.Emit(events.RoomJoined, room)
	}
	return room, nil
}

// FindRoomByCode returns nil when no room has the code.
func (s *Service) FindRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	room, err := s.repo.GetRoomByCode(ctx, nil, domain.NormalizeRoomCode(code))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetUserRooms lists the rooms the actor owns or was granted.
func (s *Service) GetUserRooms(ctx context.Context) ([]domain.Room, error) {
	u, err := s.roomActor()
	if err != nil {
		return nil, err
	}
	return s.repo.ListVisibleRooms(ctx, u.ID)
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	u, err := s.roomActor()
	if err != nil {
		return domain.Room{}, err
	}
	room, err := s.repo.GetVisibleRoom(ctx, nil, roomID, u.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Room{}, fmt.Errorf("room %s: %w", roomID, storage.ErrRoomNotFound)
	}
	return room, err
}

func (s *Service) ListRoomMembers(ctx context.Context, roomID string) ([]domain.RoomAccess, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	u, _ := s.actor()
	return s.repo.ListAccess(ctx, roomID, u.ID)
}

// DeleteRoom is allowed to the owner and to admins. Tasks, grants and
// configs go with the room.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	u, err := s.roomActor()
	if err != nil {
		return err
	}
	err = s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		role, err := s.repo.RoomRole(ctx, tx, roomID, u.ID)
		if errors.Is(err, repo.ErrNotFound) {
			exists, err := s.repo.RoomExists(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("room %s: %w", roomID, storage.ErrRoomNotFound)
			}
			return fmt.Errorf("delete room %s: %w", roomID, storage.ErrPermissionDenied)
		}
		if err != nil {
			return err
		}
		if role != domain.RoleOwner && role != domain.RoleAdmin {
			return fmt.Errorf("delete room %s as %s: %w", roomID, role, storage.ErrPermissionDenied)
		}
		if err := s.repo.DeleteRoom(ctx, tx, roomID); err != nil {
			return err
		}
		return s.journal.Append(ctx, tx, events.RoomDeleted, "", "room", roomID, u.ID, events.Payload{"role": role})
	})
	if err != nil {
		return err
	}
	if s.CurrentRoom() == roomID {
		s.SetCurrentRoom("")
	}
	s.log.Info("room deleted", zap.String("room", roomID))
	s.bus.Emit(events.RoomDeleted, map[string]any{"id": roomID})
	return nil
}

// GrantRole lets an owner or admin add or change another user's role.
// The owner's own role cannot be changed.
func (s *Service) GrantRole(ctx context.Context, roomID, userID, role string) error {
	u, err := s.roomActor()
	if err != nil {
		return err
	}
	if role != domain.RoleAdmin && role != domain.RoleMember {
		return &domain.ValidationError{Field: "role", Reason: "must be admin or member"}
	}
	return s.repo.InTx(ctx, func(tx *sqlx.Tx) error {
		mine, err := s.repo.RoomRole(ctx, tx, roomID, u.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("room %s: %w", roomID, storage.ErrPermissionDenied)
		}
		if err != nil {
			return err
		}
		if mine != domain.RoleOwner && mine != domain.RoleAdmin {
			return fmt.Errorf("grant in room %s: %w", roomID, storage.ErrPermissionDenied)
		}
		room, err := s.repo.GetVisibleRoom(ctx, tx, roomID, u.ID)
		if err != nil {
			return err
		}
		if userID == room.OwnerID {
			return &domain.ValidationError{Field: "userId", Reason: "the owner holds the room without a grant"}
		}
		known, err := s.repo.UserExists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		if err := s.repo.RevokeAccess(ctx, tx, roomID, userID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		_, err = s.repo.GrantAccess(ctx, tx, domain.RoomAccess{RoomID: roomID, UserID: userID, Role: role, GrantedBy: u.ID, CreatedAt: s.stamp("")})
		return err
	})
}
