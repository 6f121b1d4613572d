package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket
// ============================================================================
//
// Browser control surfaces connect to /ws. On connect they get a "state_init"
// snapshot, then a stream of {type, ts, data} frames built from the reducer's
// broadcasts: pantilt_changed, settings_changed, monitoring_changed, toast and
// toast_dismissed. Frames they send back are decoded as actions (joystick drag,
// hold buttons, monitoring, settings) and posted to the daemon.
//
// The daemon goroutine owns all state. The snapshot is requested through the
// event loop like any other event; nothing here reads DaemonState directly.
//
// Each client has its own bounded send queue. A client whose queue is full when
// a frame is fanned out is dropped rather than slowing the others down. When a
// client goes away, any drag or hold it started is released.
//
// ============================================================================

// wsMessageSnapshot is the "state_init" payload.
type wsMessageSnapshot struct {
	PanTilt   *PanTiltState `json:"pantilt"`
	PanTiltAt *time.Time    `json:"pantilt_at,omitempty"`

	Monitoring bool       `json:"monitoring"`
	Plan       *SweepPlan `json:"plan,omitempty"`

	Settings      CameraSettings `json:"settings"`
	Confirmed     CameraSettings `json:"confirmed"`
	SettingsKnown bool           `json:"settings_known"`

	Toasts      []Toast `json:"toasts"`
	NudgeSource string  `json:"nudge_source"`
}

func newWSMessageSnapshot(snap StateSnapshot) wsMessageSnapshot {
	out := wsMessageSnapshot{
		PanTilt:       snap.PanTilt,
		Monitoring:    snap.Monitoring,
		Plan:          snap.Plan,
		Settings:      snap.Settings,
		Confirmed:     snap.Confirmed,
		SettingsKnown: snap.SettingsKnown,
		Toasts:        snap.Toasts,
		NudgeSource:   snap.NudgeSource,
	}
	if out.Toasts == nil {
		out.Toasts = []Toast{}
	}
	if !snap.PanTiltAt.IsZero() {
		at := snap.PanTiltAt.UTC()
		out.PanTiltAt = &at
	}
	return out
}

// wsPanTiltChangedData is the "pantilt_changed" payload.
// PanTilt is null when the rig has become unavailable.
type wsPanTiltChangedData struct {
	PanTilt *PanTiltState `json:"pantilt"`
}

type wsSettingsChangedData struct {
	Settings  CameraSettings `json:"settings"`
	Confirmed CameraSettings `json:"confirmed"`
}

type wsMonitoringChangedData struct {
	Monitoring bool       `json:"monitoring"`
	Plan       *SweepPlan `json:"plan,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

type wsToastDismissedData struct {
	ID string `json:"id"`
}

// wsErrorData is the "error" payload, sent only to the client whose message
// could not be decoded.
type wsErrorData struct {
	Message string `json:"message"`
}

// wsOutboundEvent is a broadcast translated to its wire type and payload.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero: stamped with the send time
}

// envelope is the frame format in both directions.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// encodeFrame marshals ev into a text frame.
func encodeFrame(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

// Hub fans encoded frames out to every connected client.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client queue length (default 32).
	SendBuf int
	// BroadcastBuf is the hub's inbound frame queue length (default 128).
	BroadcastBuf int
}

// NewHub creates a hub; it does nothing until Run is called.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run serves registrations and fan-out until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopped")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			for _, c := range h.fanOut(msg) {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// fanOut queues msg for every client and returns the ones whose queue was full.
func (h *Hub) fanOut(msg []byte) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var full []*Client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			full = append(full, c)
		}
	}
	return full
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// The write pump exits when its queue is closed.
	safeCloseChan(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // already closed
	}()
	close(ch)
}

// BroadcastBytes queues an encoded frame for every client. It drops the frame
// instead of blocking when the hub is backed up.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub queue full; frame dropped", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// events receives decoded inbound actions. Nil makes the client read-only.
	events chan<- Event

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, events chan<- Event, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		events:     events,
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	// A browser tab that stops answering pings is dropped after pongWait.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxMessageSize bounds inbound client messages (settings patches are the largest).
	maxMessageSize = 16 * 1024

	// wsPanTiltCoalesceWindow is how often, at most, pan/tilt positions are sent
	// while they are changing. Only the newest position in a window is sent.
	wsPanTiltCoalesceWindow = 50 * time.Millisecond
)

// closeStatus returns the close code and reason carried by err, if any.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" done (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" done ("+what+" error)", "remote_addr", c.remoteAddr, "error", err)
}

// writePump sends queued frames and keepalive pings until the queue is closed
// or a write fails.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping", err)
				return
			}
		}
	}
}

// readPump decodes inbound action envelopes and forwards them to the daemon.
// On exit it releases any continuous input, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	defer func() {
		// A vanished joystick must not keep the rig moving.
		c.post(ctx, DragRelease{})
		c.post(ctx, HoldRelease{})
		if c.hub != nil {
			c.hub.unregister <- c
		}
	}()

	for ctx.Err() == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read", err)
			return
		}

		ev, err := UnmarshalEvent(data)
		if err != nil {
			c.logger.Debug("ws message rejected", "remote_addr", c.remoteAddr, "error", err)
			c.sendError(err)
			continue
		}
		c.post(ctx, ev)
	}
}

func (c *Client) post(ctx context.Context, ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// sendError queues an "error" frame for this client only. Dropped if the client is slow.
func (c *Client) sendError(err error) {
	msg, mErr := encodeFrame(wsOutboundEvent{Type: "error", Data: wsErrorData{Message: err.Error()}})
	if mErr != nil {
		return
	}
	defer func() {
		_ = recover() // the hub may have closed send
	}()
	select {
	case c.send <- msg:
	default:
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger

	// ctx bounds forwarding of inbound actions; it outlives individual requests.
	ctx context.Context

	hub      *Hub
	upgrader websocket.Upgrader

	// events carries snapshot requests and inbound client actions to the daemon.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig

	// AllowedOrigins lists the browser origins (scheme://host[:port]) that may
	// open the socket. Empty accepts any origin. Requests without an Origin
	// header (non-browser tools) are always accepted.
	AllowedOrigins []string
}

// NewServer wires a hub to the daemon's event channel. The caller runs
// Hub().Run and RunBroadcaster and mounts the handler with Register.
func NewServer(ctx context.Context, logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		ctx:      ctx,
		hub:      NewHub(logger, cfg.Hub),
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
		events:   events,
	}
}

// originChecker returns a CheckOrigin func accepting the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	norm := make([]string, 0, len(allowed))
	for _, o := range allowed {
		norm = append(norm, strings.ToLower(strings.TrimRight(o, "/")))
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return slices.Contains(norm, strings.ToLower(u.Scheme+"://"+u.Host))
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the websocket handler at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

// handleStateWS upgrades the connection, starts the client's pumps and sends
// the initial snapshot.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(s.hub, conn, s.events, r.RemoteAddr, s.logger)

	// Registered before the snapshot is taken, so no broadcast after it is missed.
	s.hub.register <- client

	// The pumps outlive this handler: r.Context() ends when it returns.
	// The hub and socket errors end them instead.
	go client.writePump(context.Background())
	go client.readPump(s.ctx)

	if s.events == nil {
		return
	}
	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "remote_addr", r.RemoteAddr, "error", err)
		}
		return
	}

	initMsg, err := encodeFrame(wsOutboundEvent{Type: "state_init", Data: newWSMessageSnapshot(snap)})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// requestSnapshot asks the daemon loop for a snapshot, giving up after a second
// unless ctx already carries a deadline.
func (s *Server) requestSnapshot(ctx context.Context) (StateSnapshot, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case s.events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// panTiltThrottle holds back pan/tilt frames so at most one is sent per window
// while positions keep changing. The timer is not pushed back by new updates.
type panTiltThrottle struct {
	window  time.Duration
	pending *wsOutboundEvent
	timer   *time.Timer
}

// C is nil while no timer is running, which blocks forever in a select.
func (t *panTiltThrottle) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *panTiltThrottle) hold(ev wsOutboundEvent) {
	t.pending = &ev
	if t.timer == nil {
		t.timer = time.NewTimer(t.window)
	}
}

// take returns the pending frame, if any, and clears it.
func (t *panTiltThrottle) take() (wsOutboundEvent, bool) {
	if t.pending == nil {
		return wsOutboundEvent{}, false
	}
	ev := *t.pending
	t.pending = nil
	return ev, true
}

// fired is called after C delivered; the timer keeps running only while
// another frame is pending.
func (t *panTiltThrottle) fired() {
	if t.pending == nil {
		t.timer = nil
		return
	}
	t.timer.Reset(t.window)
}

func (t *panTiltThrottle) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// RunBroadcaster turns reducer broadcasts into frames for every hub client.
// Run it in one goroutine; it returns when ctx is done or src is closed.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	send := func(ev wsOutboundEvent) {
		msg, err := encodeFrame(ev)
		if err != nil {
			logger.Warn("ws broadcast marshal failed", "type", ev.Type, "error", err)
			return
		}
		hub.BroadcastBytes(msg)
	}
	pt := &panTiltThrottle{window: wsPanTiltCoalesceWindow}
	flushPanTilt := func() {
		if ev, ok := pt.take(); ok {
			send(ev)
		}
	}
	defer pt.stop()

	for {
		select {
		case <-ctx.Done():
			flushPanTilt()
			return

		case <-pt.C():
			flushPanTilt()
			pt.fired()

		case b, ok := <-src:
			if !ok {
				flushPanTilt()
				logger.Info("ws broadcaster stopped (source closed)")
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if ev.Type == "pantilt_changed" {
				pt.hold(ev)
				continue
			}
			// Anything else goes out after the position it followed.
			flushPanTilt()
			pt.stop()
			send(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastPanTiltChanged:
		return wsOutboundEvent{
			Type: "pantilt_changed",
			Data: wsPanTiltChangedData{PanTilt: ev.State},
			At:   ev.At,
		}, true

	case BroadcastSettingsChanged:
		return wsOutboundEvent{
			Type: "settings_changed",
			Data: wsSettingsChangedData{Settings: ev.Settings, Confirmed: ev.Confirmed},
			At:   ev.At,
		}, true

	case BroadcastMonitoringChanged:
		return wsOutboundEvent{
			Type: "monitoring_changed",
			Data: wsMonitoringChangedData{Monitoring: ev.Active, Plan: ev.Plan, Reason: ev.Reason},
			At:   ev.At,
		}, true

	case BroadcastToast:
		return wsOutboundEvent{
			Type: "toast",
			Data: ev.Toast,
			At:   ev.Toast.CreatedAt,
		}, true

	case BroadcastToastDismissed:
		return wsOutboundEvent{
			Type: "toast_dismissed",
			Data: wsToastDismissedData{ID: ev.ID},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}

// broadcastType returns the wire type of a broadcast, for logs.
func broadcastType(b StateBroadcast) string {
	if ev, ok := convertBroadcast(b); ok {
		return ev.Type
	}
	return "unknown"
}
