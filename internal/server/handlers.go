package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/realtime"
)

const maxNotifyBody = 64 * 1024

// Handler serves the WebSocket endpoint and the small JSON API around the hub.
type Handler struct {
	hub      *Hub
	cfg      ServerConfig
	origins  *originPolicy
	upgrader websocket.Upgrader
	members  *membershipLookup
	logger   *slog.Logger
}

// NewHandler builds the HTTP handlers. resolver may be nil, in which case
// message recipients come from the message payload.
func NewHandler(hub *Hub, cfg Config, resolver MembershipResolver, logger *slog.Logger) *Handler {
	logger = logger.With(slog.String("component", "http"))
	origins := newOriginPolicy(cfg.Server.AllowedOrigins, logger)
	return &Handler{
		hub:     hub,
		cfg:     cfg.Server,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		members: newMembershipLookup(resolver, cfg.Membership.LookupTimeout, logger),
		logger:  logger,
	}
}

// WebSocket upgrades the request and registers the connection with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg, h.members)
	if err := h.hub.Register(client); err != nil {
		h.logger.Warn("Rejecting connection", slog.Any("error", err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Health reports that the process is serving.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chatrelay server is running")
}

type presenceResponse struct {
	Online []string `json:"online"`
}

// Presence returns the online user snapshot.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	users, err := h.hub.OnlineUsers(r.Context())
	if err != nil {
		h.hubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{Online: users})
}

// Stats returns the hub counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hub.Stats(r.Context())
	if err != nil {
		h.hubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type notifyResponse struct {
	Delivered int `json:"delivered"`
}

// NotifyAddedToGroup lets the REST side tell a user's live sessions that they
// were added to a chat. The body is {userId, chat, addedBy}.
func (h *Handler) NotifyAddedToGroup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotifyBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	ev, err := realtime.Decode(realtime.Envelope{Event: realtime.EventAddedToGroup, Payload: body})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.hub.NotifyAddedToGroup(r.Context(), ev.(realtime.AddedToGroup))
	if err != nil {
		h.hubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, notifyResponse{Delivered: n})
}

func (h *Handler) hubError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrHubClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	h.logger.Warn("Hub request failed",
		slog.String("requestID", middleware.GetReqID(r.Context())),
		slog.Any("error", err))
	writeError(w, http.StatusServiceUnavailable, "hub unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Write JSON response failed", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": msg}})
}
