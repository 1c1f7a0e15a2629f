// Package api serves the operational HTTP surface next to the WebSocket
// endpoint: health, room inspection, chat history and class shutdown.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"liveclass/internal/room"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
	"liveclass/pkg/types"
)

// Coordinator is the slice of the hub the API needs
type Coordinator interface {
	Directory() *room.Directory
	CloseRoom(roomID, reason string) int
	Stats() map[string]any
}

// Classes resolves and ends class records
type Classes interface {
	GetClass(ctx context.Context, classID string) (*types.LiveClass, error)
	EndClass(ctx context.Context, classID string) error
	Stats() map[string]any
}

// Server routes API requests; it holds no business logic
type Server struct {
	hub     Coordinator
	classes Classes
	store   interfaces.ClassStore
	mux     *http.ServeMux
	handler http.Handler
	started time.Time
	log     *slog.Logger
}

// NewServer wires routes. ws is mounted at /ws outside the CORS wrapper
func NewServer(hub Coordinator, classes Classes, store interfaces.ClassStore, ws http.Handler, allowedOrigins []string, log *slog.Logger) *Server {
	s := &Server{
		hub:     hub,
		classes: classes,
		store:   store,
		mux:     http.NewServeMux(),
		started: time.Now(),
		log:     log,
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /health", s.healthCheck)
	api.HandleFunc("GET /api/rooms", s.listRooms)
	api.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	api.HandleFunc("GET /api/rooms/{id}/chat", s.roomHistory)
	api.HandleFunc("POST /api/rooms/{id}/close", s.closeRoom)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})
	s.mux.Handle("/", c.Handler(jsonMiddleware(api)))
	s.mux.Handle("GET /metrics", metrics.Handler())
	if ws != nil {
		s.mux.Handle("/ws", ws)
	}
	s.handler = s.mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Database    string         `json:"database"`
	Coordinator map[string]any `json:"coordinator"`
	Classes     map[string]any `json:"classes,omitempty"`
}

type RoomResponse struct {
	RoomID              string           `json:"room_id"`
	Live                bool             `json:"live"`
	MemberCount         int              `json:"member_count"`
	Members             []types.Member   `json:"members"`
	WhiteboardUpdatedAt *time.Time       `json:"whiteboard_updated_at,omitempty"`
	Class               *types.LiveClass `json:"class,omitempty"`
}

type ListRoomsResponse struct {
	Rooms []room.Info `json:"rooms"`
}

type HistoryResponse struct {
	RoomID   string               `json:"room_id"`
	Messages []*types.ChatMessage `json:"messages"`
}

type CloseRequest struct {
	Reason string `json:"reason"`
}

type CloseResponse struct {
	RoomID  string `json:"room_id"`
	Evicted int    `json:"evicted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health; 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Database:    "healthy",
		Coordinator: s.hub.Stats(),
	}
	if s.classes != nil {
		resp.Classes = s.classes.Stats()
	}

	code := http.StatusOK
	switch {
	case s.store == nil:
		resp.Database = "disabled"
	default:
		if err := s.store.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, resp)
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ListRoomsResponse{Rooms: s.hub.Directory().Rooms()})
}

// GET /api/rooms/{id}. A room with no members is reported when a class
// record exists for it
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dir := s.hub.Directory()

	resp := RoomResponse{RoomID: id, Members: dir.MembersOf(id)}
	if resp.Members == nil {
		resp.Members = []types.Member{}
	}
	resp.MemberCount = len(resp.Members)
	resp.Live = resp.MemberCount > 0
	if snap, ok := dir.SnapshotOf(id); ok {
		at := snap.UpdatedAt
		resp.WhiteboardUpdatedAt = &at
	}

	if s.classes != nil {
		class, err := s.classes.GetClass(r.Context(), id)
		switch {
		case err == nil:
			resp.Class = class
		case errors.Is(err, interfaces.ErrClassNotFound):
		default:
			s.log.Warn("class lookup failed", "room", id, "error", err)
		}
	}

	if !resp.Live && resp.Class == nil {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /api/rooms/{id}/chat?limit=N
func (s *Server) roomHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.sendError(w, "Chat history is not available", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.store.GetRoomHistory(r.Context(), id, limit)
	if err != nil {
		s.log.Error("history query failed", "room", id, "error", err)
		s.sendError(w, "Failed to load chat history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*types.ChatMessage{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{RoomID: id, Messages: msgs})
}

// POST /api/rooms/{id}/close ends the class and evicts every member.
// Closing an already ended class, or a room with no class record, still
// empties the room
func (s *Server) closeRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req CloseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "class ended"
	}

	if s.classes != nil {
		err := s.classes.EndClass(r.Context(), id)
		switch {
		case err == nil, errors.Is(err, session.ErrClassAlreadyEnded), errors.Is(err, session.ErrNoStore):
		case errors.Is(err, interfaces.ErrClassNotFound):
			if len(s.hub.Directory().MembersOf(id)) == 0 {
				s.sendError(w, "Room not found", http.StatusNotFound)
				return
			}
		default:
			s.log.Error("failed to end class", "room", id, "error", err)
			s.sendError(w, "Failed to end class", http.StatusInternalServerError)
			return
		}
	}

	evicted := s.hub.CloseRoom(id, req.Reason)
	s.writeJSON(w, http.StatusOK, CloseResponse{RoomID: id, Evicted: evicted})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
