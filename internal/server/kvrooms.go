package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sprintboard/internal/domain"
	"sprintboard/internal/local"
)

const maxRoomBody = 8 << 20

// kvRooms serves the room-scoped key/value path: a room is its code and its
// tasks are one JSON array. The code is the only credential.
type kvRooms struct {
	rooms local.Rooms
	log   *zap.Logger
}

func (h kvRooms) routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.exists)
	r.Get("/{code}", h.read)
	r.Post("/{code}", h.write)
	r.Delete("/{code}", h.clear)
}

func (h kvRooms) list(w http.ResponseWriter, r *http.Request) {
	codes, err := h.rooms.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": codes})
}

func (h kvRooms) exists(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRoomBody)).Decode(&body); err != nil || body.RoomCode == "" {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "roomCode is required", nil))
		return
	}
	ok, err := h.rooms.Exists(r.Context(), body.RoomCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": ok})
}

func (h kvRooms) read(w http.ResponseWriter, r *http.Request) {
	raw, err := h.rooms.ReadRaw(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (h kvRooms) write(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRoomBody))
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.rooms.WriteRaw(r.Context(), chi.URLParam(r, "code"), data); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h kvRooms) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.rooms.Clear(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h kvRooms) fail(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field}))
		return
	}
	h.log.Error("key/value room request failed", zap.Error(err))
	respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
