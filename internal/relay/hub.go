package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/correlation"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/logging"
	"github.com/RealBhupesh/fictional-carnival/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	commandQueueSize    = 256
	maxFrameSize        = 64 << 10
	defaultAuditTimeout = 3 * time.Second
)

var ErrHubStopped = errors.New("relay hub stopped")

// Config holds the per-instance limits of the hub.
type Config struct {
	// NodeID identifies this instance on the bridge.
	NodeID string
	// EventsPerSecond and EventBurst bound inbound frames per connection.
	EventsPerSecond float64
	EventBurst      int
	// SendBuffer is the number of frames queued per connection before it is
	// considered slow and evicted.
	SendBuffer   int
	AuditTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = 20
	}
	if c.EventBurst < 1 {
		c.EventBurst = 40
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 64
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = defaultAuditTimeout
	}
	return c
}

// Member describes one local connection of a room.
type Member struct {
	ConnID      uuid.UUID   `json:"connId"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name,omitempty"`
	Role        domain.Role `json:"role"`
	ConnectedAt time.Time   `json:"connectedAt"`
}

type connection struct {
	id          uuid.UUID
	claim       domain.Claim
	rooms       []domain.Room
	writer      *connWriter
	connectedAt time.Time
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type joinCmd struct {
	baseHubCmd
	conn  *connection
	reply chan struct{}
}

type leaveCmd struct {
	baseHubCmd
	id uuid.UUID
}

type inboundCmd struct {
	baseHubCmd
	from  uuid.UUID
	event domain.Event
}

type publishCmd struct {
	baseHubCmd
	room  domain.Room
	event domain.Event
	reply chan error
}

type remoteCmd struct {
	baseHubCmd
	env Envelope
}

type membersCmd struct {
	baseHubCmd
	room  domain.Room
	reply chan []Member
}

type roomSizeCmd struct {
	baseHubCmd
	room  domain.Room
	reply chan int
}

type roomsCmd struct {
	baseHubCmd
	id    uuid.UUID
	reply chan []domain.Room
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the process-wide broadcast hub. Construct one with NewHub at
// startup and pass it to whatever needs to publish.
type Hub struct {
	cfg      Config
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	conns    map[uuid.UUID]*connection
	rooms    map[domain.Room]map[uuid.UUID]*connection
	evicted  []uuid.UUID
	auditor  domain.AuditRecorder
	bridge   Bridge
	metrics  *metrics.RelayMetrics
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub starts the hub loop. auditor, bridge and m may be nil.
func NewHub(cfg Config, auditor domain.AuditRecorder, bridge Bridge, m *metrics.RelayMetrics, clock clockwork.Clock) *Hub {
	h := &Hub{
		cfg:     cfg.withDefaults(),
		cmdCh:   make(chan hubCmd, commandQueueSize),
		clock:   clock,
		conns:   make(map[uuid.UUID]*connection),
		rooms:   make(map[domain.Room]map[uuid.UUID]*connection),
		auditor: auditor,
		bridge:  bridge,
		metrics: m,
		done:    make(chan struct{}),
	}
	for _, room := range domain.AllRooms {
		h.rooms[room] = make(map[uuid.UUID]*connection)
	}
	go h.run()
	return h
}

// NodeID returns the instance identifier used on the bridge.
func (h *Hub) NodeID() string {
	return h.cfg.NodeID
}

// Serve runs an authenticated connection until the transport closes, ctx is
// cancelled or the hub stops. The claim must already be verified.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, claim domain.Claim) error {
	c := &connection{
		id:          uuid.New(),
		claim:       claim,
		rooms:       claim.Rooms(),
		connectedAt: h.clock.Now(),
	}
	ctx = correlation.WithConnID(ctx, c.id.String())

	conn.SetReadLimit(maxFrameSize)
	c.writer = newConnWriter(conn, h.clock, h.cfg.SendBuffer)

	if err := h.join(c); err != nil {
		c.writer.stop()
		return err
	}
	defer h.submit(leaveCmd{id: c.id})

	go h.recordAudit(ctx, claim)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	limiter := rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.EventBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "Connection closed unexpectedly", "error", err)
			}
			return nil
		}
		c.writer.updateReadDeadline()

		ev, err := protocol.Decode(data)
		if err != nil {
			h.countDrop(metrics.DropMalformed)
			slog.DebugContext(ctx, "Dropping malformed frame", "error", err)
			continue
		}
		if !limiter.Allow() {
			h.countDrop(metrics.DropRateLimited)
			slog.DebugContext(ctx, "Dropping rate limited frame", "event", ev.Name())
			continue
		}

		if !h.submit(inboundCmd{from: c.id, event: ev}) {
			return nil
		}
	}
}

func (h *Hub) join(c *connection) error {
	reply := make(chan struct{}, 1)
	if !h.submit(joinCmd{conn: c, reply: reply}) {
		return ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-reply:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-timer.Chan():
		return fmt.Errorf("join command timed out after %v", commandTimeout)
	}
}

func (h *Hub) recordAudit(ctx context.Context, claim domain.Claim) {
	if h.auditor == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.AuditTimeout)
	defer cancel()

	entry := domain.ActivityLog{
		ID:        uuid.New(),
		UserID:    claim.SubjectID,
		Action:    domain.ActivitySocketConnected,
		Details:   fmt.Sprintf("role=%s", claim.Role),
		CreatedAt: h.clock.Now(),
	}
	if err := h.auditor.Record(ctx, entry); err != nil {
		if h.metrics != nil {
			h.metrics.AuditFailures.Inc()
		}
		slog.WarnContext(ctx, "Failed to record connection audit entry", append(logging.ClaimAttrs(claim), "error", err)...)
	}
}

// Publish delivers ev to every local member of room and forwards it over
// the bridge. It is used by server-side producers, so no one is excluded.
func (h *Hub) Publish(ctx context.Context, room domain.Room, ev domain.Event) error {
	if _, err := domain.ParseRoom(string(room)); err != nil {
		return err
	}

	reply := make(chan error, 1)
	if !h.submit(publishCmd{room: room, event: ev, reply: reply}) {
		return ErrHubStopped
	}

	select {
	case err := <-reply:
		return err
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", ev.Name(), ctx.Err())
	}
}

// DeliverRemote hands a delivery received from another instance to the
// local room members. Envelopes from this instance are ignored.
func (h *Hub) DeliverRemote(env Envelope) {
	if env.Origin == h.cfg.NodeID {
		return
	}
	h.submit(remoteCmd{env: env})
}

// RoomSize returns the number of local connections in room, or -1 if the
// command times out.
func (h *Hub) RoomSize(room domain.Room) int {
	reply := make(chan int, 1)
	if !h.submit(roomSizeCmd{room: room, reply: reply}) {
		return -1
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-h.done:
		return -1
	case <-timer.Chan():
		slog.Warn("RoomSize timed out", "timeout", commandTimeout)
		return -1
	}
}

// Members lists the local connections of room, oldest first.
func (h *Hub) Members(room domain.Room) []Member {
	reply := make(chan []Member, 1)
	if !h.submit(membersCmd{room: room, reply: reply}) {
		return nil
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case members := <-reply:
		return members
	case <-h.done:
		return nil
	case <-timer.Chan():
		slog.Warn("Members timed out", "timeout", commandTimeout)
		return nil
	}
}

// Rooms returns the rooms of a local connection, or nil if it is unknown.
func (h *Hub) Rooms(connID uuid.UUID) []domain.Room {
	reply := make(chan []domain.Room, 1)
	if !h.submit(roomsCmd{id: connID, reply: reply}) {
		return nil
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case rooms := <-reply:
		return rooms
	case <-h.done:
		return nil
	case <-timer.Chan():
		return nil
	}
}

// Stop closes every connection with a close frame and ends the hub loop.
// Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if !h.submit(stopCmd{}) {
			return
		}

		timeout := h.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Relay hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Relay hub stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

// submit queues cmd for the hub loop. It reports false once the loop has exited.
func (h *Hub) submit(cmd hubCmd) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Relay hub panic recovered", "panic", r)
			h.closeAll(websocket.CloseInternalServerErr, "relay failure")
		}
	}()

	for cmd := range h.cmdCh {
		if h.metrics != nil {
			h.metrics.CommandQueueDepth.Set(float64(len(h.cmdCh)))
		}

		switch c := cmd.(type) {
		case joinCmd:
			h.handleJoin(c)
		case leaveCmd:
			h.removeConnection(c.id, "left")
		case inboundCmd:
			h.handleInbound(c)
		case publishCmd:
			c.reply <- h.deliver(target{room: c.room, event: c.event}, uuid.Nil)
		case remoteCmd:
			h.handleRemote(c.env)
		case membersCmd:
			c.reply <- h.members(c.room)
		case roomSizeCmd:
			c.reply <- len(h.rooms[c.room])
		case roomsCmd:
			var rooms []domain.Room
			if conn, ok := h.conns[c.id]; ok {
				rooms = append(rooms, conn.rooms...)
			}
			c.reply <- rooms
		case stopCmd:
			slog.Info("Relay hub shutting down", "connections", len(h.conns))
			h.closeAll(websocket.CloseGoingAway, "server shutting down")
			return
		default:
			slog.Warn("Relay hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}

		h.drainEvictions()
	}
}

func (h *Hub) handleJoin(c joinCmd) {
	conn := c.conn
	h.conns[conn.id] = conn
	for _, room := range conn.rooms {
		h.rooms[room][conn.id] = conn
		h.setRoomGauge(room)
	}

	slog.Debug("Connection joined", append(logging.ClaimAttrs(conn.claim), "conn_id", conn.id.String(), "rooms", conn.rooms)...)
	c.reply <- struct{}{}

	_ = h.deliver(joinedAnnouncement(conn.claim), conn.id)
}

func (h *Hub) handleInbound(c inboundCmd) {
	sender, ok := h.conns[c.from]
	if !ok {
		return
	}

	targets := route(sender.claim, c.event)
	if len(targets) == 0 {
		h.countDrop(metrics.DropUnroutable)
		return
	}
	for _, t := range targets {
		_ = h.deliver(t, sender.id)
	}
}

func (h *Hub) handleRemote(env Envelope) {
	exclude, err := uuid.Parse(env.Exclude)
	if err != nil {
		exclude = uuid.Nil
	}
	if _, ok := h.rooms[env.Room]; !ok {
		slog.Warn("Dropping remote delivery for unknown room", "room", env.Room, "origin", env.Origin)
		return
	}
	h.fanOut(env.Room, env.Event, env.Frame, exclude)
}

// deliver encodes t once, fans it out locally except to exclude and
// forwards it over the bridge.
func (h *Hub) deliver(t target, exclude uuid.UUID) error {
	frame, err := protocol.Encode(t.event)
	if err != nil {
		slog.Error("Failed to encode event", "event", t.event.Name(), "error", err)
		return err
	}

	h.fanOut(t.room, t.event.Name(), frame, exclude)

	if h.bridge != nil {
		env := Envelope{Origin: h.cfg.NodeID, Room: t.room, Event: t.event.Name(), Frame: frame}
		if exclude != uuid.Nil {
			env.Exclude = exclude.String()
		}
		h.bridge.Forward(env)
	}
	return nil
}

func (h *Hub) fanOut(room domain.Room, name domain.EventName, frame []byte, exclude uuid.UUID) {
	for id, conn := range h.rooms[room] {
		if id == exclude {
			continue
		}
		if !conn.writer.enqueue(frame) {
			h.evicted = append(h.evicted, id)
		}
	}
	if h.metrics != nil {
		h.metrics.EventsRelayed.WithLabelValues(string(name), string(room)).Inc()
	}
}

// drainEvictions removes slow connections. Removing one can announce a
// departure, which may in turn find more slow connections.
func (h *Hub) drainEvictions() {
	for len(h.evicted) > 0 {
		id := h.evicted[0]
		h.evicted = h.evicted[1:]
		if _, ok := h.conns[id]; !ok {
			continue
		}
		slog.Warn("Disconnecting slow client", "conn_id", id.String())
		if h.metrics != nil {
			h.metrics.SlowClientsEvicted.Inc()
		}
		h.removeConnection(id, "slow")
	}
}

func (h *Hub) removeConnection(id uuid.UUID, reason string) {
	conn, ok := h.conns[id]
	if !ok {
		return
	}

	conn.writer.stop()
	delete(h.conns, id)
	for _, room := range conn.rooms {
		delete(h.rooms[room], id)
		h.setRoomGauge(room)
	}

	slog.Debug("Connection left", append(logging.ClaimAttrs(conn.claim), "conn_id", id.String(), "reason", reason)...)

	if t, ok := departureAnnouncement(conn.claim); ok {
		_ = h.deliver(t, uuid.Nil)
	}
}

func (h *Hub) members(room domain.Room) []Member {
	members := make([]Member, 0, len(h.rooms[room]))
	for _, conn := range h.rooms[room] {
		members = append(members, Member{
			ConnID:      conn.id,
			UserID:      conn.claim.SubjectID,
			Name:        conn.claim.DisplayName,
			Role:        conn.claim.Role,
			ConnectedAt: conn.connectedAt,
		})
	}
	slices.SortFunc(members, func(a, b Member) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return members
}

// closeAll closes every connection without announcing departures. Writers
// are stopped in parallel so stalled peers cost one closeGrace in total.
func (h *Hub) closeAll(code int, reason string) {
	var wg sync.WaitGroup
	for id, conn := range h.conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.writer.stopGraceful(code, reason)
		}()
		delete(h.conns, id)
	}
	wg.Wait()
	for room := range h.rooms {
		h.rooms[room] = make(map[uuid.UUID]*connection)
		h.setRoomGauge(room)
	}
	h.evicted = nil
}

func (h *Hub) setRoomGauge(room domain.Room) {
	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(string(room)).Set(float64(len(h.rooms[room])))
	}
}

func (h *Hub) countDrop(reason string) {
	if h.metrics != nil {
		h.metrics.FramesDropped.WithLabelValues(reason).Inc()
	}
}
