package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/realtime"
)

// ErrHubClosed is returned when work is submitted to a stopped hub.
var ErrHubClosed = errors.New("hub closed")

type inboundEvent struct {
	client *Client
	event  realtime.Inbound
}

// Hub owns the realtime router and every client connection. All router state
// is touched from the Run goroutine only.
type Hub struct {
	router     *realtime.Router
	logger     *slog.Logger
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	tasks      chan func(*realtime.Router)
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub with its own router. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "hub"))
	return &Hub{
		router:     realtime.NewRouter(logger),
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		tasks:      make(chan func(*realtime.Router)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; !ok {
				continue
			}
			h.router.Dispatch(in.client.id, in.event)

		case task := <-h.tasks:
			task(h.router)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("Received nil client registration; skipping")
		return
	}

	h.clients[client] = struct{}{}
	h.router.Connect(client.id, client)
	h.logger.Info("Client registered",
		slog.String("connID", string(client.id)),
		slog.String("remote", client.addr),
		slog.Int("clients", len(h.clients)))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.router.Disconnect(client.id)
	client.closeSend()
	h.logger.Info("Client unregistered",
		slog.String("connID", string(client.id)),
		slog.String("remote", client.addr),
		slog.Int("clients", len(h.clients)))
}

// Register hands a new client to the loop, which starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) deliver(client *Client, ev realtime.Inbound) bool {
	select {
	case h.inbound <- inboundEvent{client: client, event: ev}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Do runs fn inside the loop and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func(*realtime.Router)) error {
	finished := make(chan struct{})
	task := func(r *realtime.Router) {
		defer close(finished)
		fn(r)
	}

	select {
	case h.tasks <- task:
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// OnlineUsers returns a snapshot of the online user ids.
func (h *Hub) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := h.Do(ctx, func(r *realtime.Router) { users = r.OnlineUsers() })
	return users, err
}

// Stats returns the router counters.
func (h *Hub) Stats(ctx context.Context) (realtime.Stats, error) {
	var stats realtime.Stats
	err := h.Do(ctx, func(r *realtime.Router) { stats = r.Stats() })
	return stats, err
}

// NotifyAddedToGroup delivers added-to-group to the user's connections and
// returns how many received it.
func (h *Hub) NotifyAddedToGroup(ctx context.Context, ev realtime.AddedToGroup) (int, error) {
	var n int
	err := h.Do(ctx, func(r *realtime.Router) { n = r.NotifyAddedToGroup(ev) })
	return n, err
}

// shutdownClients closes every connection; the pumps exit on their own.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections")

	count := h.router.DisconnectAll()
	for client := range h.clients {
		client.closeSend()
		client.closeConn()
	}
	clear(h.clients)

	h.logger.Info("Closed client connections", slog.Int("count", count))
}

// Shutdown stops the loop and waits for client goroutines until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
