package relay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/roundsync/internal/protocol"
	"github.com/mcdev12/roundsync/internal/relay/store"
	"github.com/mcdev12/roundsync/internal/timer"
)

const (
	codeLength   = 4
	codeCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 10
)

// EventBridge propagates authoritative room events to other relay
// instances. Nil disables bridging.
type EventBridge interface {
	Publish(roomID uuid.UUID, msg protocol.ServerMessage) error
}

// hubMsg is the hub actor's inbox vocabulary.
type hubMsg interface{ isHubMsg() }

type inboundMsg struct {
	conn *Conn
	msg  protocol.ClientMessage
}

type unregisterMsg struct{ conn *Conn }

type bridgeMsg struct {
	roomID uuid.UUID
	msg    protocol.ServerMessage
}

type closeRoomMsg struct{ roomID uuid.UUID }

func (inboundMsg) isHubMsg()    {}
func (unregisterMsg) isHubMsg() {}
func (bridgeMsg) isHubMsg()     {}
func (closeRoomMsg) isHubMsg()  {}

// Hub is the relay's room registry and fanout loop. All subscription state
// is owned by a single goroutine fed through the inbox, so client handlers
// never race on it.
type Hub struct {
	store  store.Store
	clock  clockwork.Clock
	bridge EventBridge

	inbox chan hubMsg

	// loop-owned state
	subs  map[uuid.UUID]map[*Conn]protocol.AccessLevel
	rooms map[*Conn]uuid.UUID
}

// NewHub builds a hub over the given store. bridge may be nil.
func NewHub(st store.Store, clk clockwork.Clock, bridge EventBridge) *Hub {
	return &Hub{
		store:  st,
		clock:  clk,
		bridge: bridge,
		inbox:  make(chan hubMsg, 256),
		subs:   make(map[uuid.UUID]map[*Conn]protocol.AccessLevel),
		rooms:  make(map[*Conn]uuid.UUID),
	}
}

// Run processes the inbox until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub shutting down")
			return
		case m := <-h.inbox:
			switch msg := m.(type) {
			case inboundMsg:
				h.handleInbound(ctx, msg.conn, msg.msg)
			case unregisterMsg:
				h.dropConn(msg.conn)
			case bridgeMsg:
				h.fanout(msg.roomID, msg.msg)
			case closeRoomMsg:
				h.closeRoom(ctx, msg.roomID)
			}
		}
	}
}

// Inbound hands a parsed client message to the hub loop.
func (h *Hub) Inbound(c *Conn, msg protocol.ClientMessage) {
	h.inbox <- inboundMsg{conn: c, msg: msg}
}

// Unregister removes a disconnected client.
func (h *Hub) Unregister(c *Conn) {
	h.inbox <- unregisterMsg{conn: c}
}

// HandleBridgeEvent re-broadcasts an event that originated on another relay
// instance to local subscribers.
func (h *Hub) HandleBridgeEvent(roomID uuid.UUID, msg protocol.ServerMessage) {
	h.inbox <- bridgeMsg{roomID: roomID, msg: msg}
}

// CloseRoom tears a room down: subscribers get membershipRevoked and the
// room is removed from the store.
func (h *Hub) CloseRoom(roomID uuid.UUID) {
	h.inbox <- closeRoomMsg{roomID: roomID}
}

func (h *Hub) handleInbound(ctx context.Context, c *Conn, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeCreateRoom:
		h.handleCreateRoom(ctx, c)
	case protocol.TypeRoomCheck:
		h.handleRoomCheck(ctx, c, msg.AccessID)
	case protocol.TypeSubscribe:
		h.handleSubscribe(ctx, c, msg.AccessID)
	case protocol.TypeUnsubscribe:
		h.handleUnsubscribe(c)
	case protocol.TypeCreateTimer:
		h.handleCreateTimer(ctx, c, msg)
	case protocol.TypeUpdateTimer:
		h.handleUpdateTimer(ctx, c, msg)
	case protocol.TypeDeleteTimer:
		h.handleDeleteTimer(ctx, c, msg)
	}
}

func (h *Hub) handleCreateRoom(ctx context.Context, c *Conn) {
	var created store.Room
	for attempt := 0; ; attempt++ {
		if attempt >= codeAttempts {
			c.enqueue(protocol.Error("could not allocate room codes"))
			return
		}
		editCode, err := generateCode()
		if err != nil {
			c.enqueue(protocol.Error("could not allocate room codes"))
			return
		}
		viewCode, err := generateCode()
		if err != nil || viewCode == editCode {
			continue
		}

		created = store.Room{ID: uuid.New(), EditCode: editCode, ViewCode: viewCode, CreatedAt: h.clock.Now()}
		err = h.store.CreateRoom(ctx, created)
		if errors.Is(err, store.ErrCodeInUse) {
			log.Debug().Msg("room code collision, regenerating")
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to create room")
			c.enqueue(protocol.Error("could not create room"))
			return
		}
		break
	}

	h.subscribeConn(c, created.ID, protocol.AccessEdit)
	info := protocol.ServerMessage{
		Type:        protocol.TypeRoomInfo,
		AccessLevel: protocol.AccessEdit,
		ViewAccess:  created.ViewCode,
		EditAccess:  created.EditCode,
	}
	if !c.enqueue(info) || !c.enqueue(protocol.ServerMessage{Type: protocol.TypeRoomUpdate, Timers: []timer.Timer{}}) {
		h.dropConn(c)
		return
	}
	log.Info().Str("room_id", created.ID.String()).Msg("room created")
}

func (h *Hub) handleRoomCheck(ctx context.Context, c *Conn, code string) {
	_, _, err := h.store.RoomByCode(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("room check failed")
		c.enqueue(protocol.Error("room check failed"))
		return
	}
	c.enqueue(protocol.ServerMessage{Type: protocol.TypeRoomValidity, Valid: err == nil})
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Conn, code string) {
	room, level, err := h.store.RoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		c.enqueue(protocol.Error("room code doesn't exist"))
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("subscribe lookup failed")
		c.enqueue(protocol.Error("could not subscribe"))
		return
	}

	h.subscribeConn(c, room.ID, level)

	info := protocol.ServerMessage{
		Type:        protocol.TypeRoomInfo,
		AccessLevel: level,
		ViewAccess:  room.ViewCode,
	}
	// The edit code is never disclosed to view-level subscribers.
	if level == protocol.AccessEdit {
		info.EditAccess = room.EditCode
	}
	if !c.enqueue(info) {
		h.dropConn(c)
		return
	}

	timers, err := h.store.TimersByRoom(ctx, room.ID)
	if err != nil {
		log.Error().Err(err).Str("room_id", room.ID.String()).Msg("failed to load room timers")
		c.enqueue(protocol.Error("could not load timers"))
		return
	}
	if timers == nil {
		timers = []timer.Timer{}
	}
	// A subscriber that cannot take the snapshot must not linger half
	// subscribed with a frozen display.
	if !c.enqueue(protocol.ServerMessage{Type: protocol.TypeRoomUpdate, Timers: timers}) {
		h.dropConn(c)
	}
}

func (h *Hub) handleUnsubscribe(c *Conn) {
	h.removeSub(c)
	c.enqueue(protocol.ServerMessage{Type: protocol.TypeUnsubscribeSuccess})
}

func (h *Hub) handleCreateTimer(ctx context.Context, c *Conn, msg protocol.ClientMessage) {
	room, ok := h.requireEdit(ctx, c, msg.AccessID)
	if !ok {
		return
	}
	if msg.Timer == nil {
		c.enqueue(protocol.Error("createTimer requires a timer"))
		return
	}

	t := *msg.Timer
	if err := validateTimer(t); err != nil {
		c.enqueue(protocol.Error(err.Error()))
		return
	}
	t.RoomID = room.ID

	stored, err := h.store.CreateTimer(ctx, t)
	if err != nil {
		log.Error().Err(err).Str("room_id", room.ID.String()).Msg("failed to create timer")
		c.enqueue(protocol.Error("could not create timer"))
		return
	}

	h.broadcast(room.ID, protocol.ServerMessage{Type: protocol.TypeTimerCreated, Timer: &stored})
}

func (h *Hub) handleUpdateTimer(ctx context.Context, c *Conn, msg protocol.ClientMessage) {
	room, ok := h.requireEdit(ctx, c, msg.AccessID)
	if !ok {
		return
	}
	if msg.Timer == nil {
		c.enqueue(protocol.Error("updateTimer requires a timer"))
		return
	}

	current, err := h.store.TimerByID(ctx, msg.Timer.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.enqueue(protocol.Error("unknown timer"))
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("timer lookup failed")
		c.enqueue(protocol.Error("could not update timer"))
		return
	}
	if current.RoomID != room.ID {
		c.enqueue(protocol.Error("timer does not belong to this room"))
		return
	}

	t := *msg.Timer
	if err := validateTimer(t); err != nil {
		c.enqueue(protocol.Error(err.Error()))
		return
	}

	stored, err := h.store.UpdateTimer(ctx, t)
	if err != nil {
		log.Error().Err(err).Str("timer_id", t.ID.String()).Msg("failed to update timer")
		c.enqueue(protocol.Error("could not update timer"))
		return
	}

	h.broadcast(room.ID, protocol.ServerMessage{Type: protocol.TypeTimerUpdate, Timer: &stored})
}

func (h *Hub) handleDeleteTimer(ctx context.Context, c *Conn, msg protocol.ClientMessage) {
	room, ok := h.requireEdit(ctx, c, msg.AccessID)
	if !ok {
		return
	}
	if msg.TimerID == nil {
		c.enqueue(protocol.Error("deleteTimer requires an id"))
		return
	}
	id := *msg.TimerID

	current, err := h.store.TimerByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.enqueue(protocol.Error("unknown timer"))
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("timer lookup failed")
		c.enqueue(protocol.Error("could not delete timer"))
		return
	}
	if current.RoomID != room.ID {
		c.enqueue(protocol.Error("timer does not belong to this room"))
		return
	}

	if err := h.store.DeleteTimer(ctx, id); err != nil {
		log.Error().Err(err).Str("timer_id", id.String()).Msg("failed to delete timer")
		c.enqueue(protocol.Error("could not delete timer"))
		return
	}

	h.broadcast(room.ID, protocol.ServerMessage{Type: protocol.TypeTimerDeleted, TimerID: &id})
}

// requireEdit resolves an access code and rejects anything below edit
// rights. The authority never assumes good faith from clients.
func (h *Hub) requireEdit(ctx context.Context, c *Conn, code string) (store.Room, bool) {
	if code == "" {
		c.enqueue(protocol.Error("missing access code"))
		return store.Room{}, false
	}
	room, level, err := h.store.RoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		c.enqueue(protocol.Error("room code doesn't exist"))
		return store.Room{}, false
	}
	if err != nil {
		log.Error().Err(err).Msg("access lookup failed")
		c.enqueue(protocol.Error("could not verify access"))
		return store.Room{}, false
	}
	if level != protocol.AccessEdit {
		c.enqueue(protocol.Error("edit access required"))
		return store.Room{}, false
	}
	return room, true
}

func (h *Hub) subscribeConn(c *Conn, roomID uuid.UUID, level protocol.AccessLevel) {
	h.removeSub(c)
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[*Conn]protocol.AccessLevel)
	}
	h.subs[roomID][c] = level
	h.rooms[c] = roomID
	log.Debug().
		Str("connection_id", c.ID.String()).
		Str("room_id", roomID.String()).
		Str("level", string(level)).
		Int("subscribers", len(h.subs[roomID])).
		Msg("subscribed")
}

func (h *Hub) removeSub(c *Conn) {
	roomID, ok := h.rooms[c]
	if !ok {
		return
	}
	delete(h.rooms, c)
	if conns := h.subs[roomID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.subs, roomID)
		}
	}
}

func (h *Hub) dropConn(c *Conn) {
	if c.dropped {
		return
	}
	c.dropped = true
	h.removeSub(c)
	close(c.send)
	if c.ws != nil {
		c.ws.Close()
	}
}

// broadcast fans an authoritative event out to local subscribers and, when
// bridged, to the other relay instances.
func (h *Hub) broadcast(roomID uuid.UUID, msg protocol.ServerMessage) {
	h.fanout(roomID, msg)
	if h.bridge != nil {
		if err := h.bridge.Publish(roomID, msg); err != nil {
			log.Warn().Err(err).Str("room_id", roomID.String()).Msg("bridge publish failed")
		}
	}
}

func (h *Hub) fanout(roomID uuid.UUID, msg protocol.ServerMessage) {
	for c := range h.subs[roomID] {
		if !c.enqueue(msg) {
			h.dropConn(c)
		}
	}
}

func (h *Hub) closeRoom(ctx context.Context, roomID uuid.UUID) {
	h.fanout(roomID, protocol.ServerMessage{Type: protocol.TypeMembershipRevoked})
	for c := range h.subs[roomID] {
		delete(h.rooms, c)
	}
	delete(h.subs, roomID)

	if err := h.store.DeleteRoom(ctx, roomID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to delete room")
	}
	log.Info().Str("room_id", roomID.String()).Msg("room closed")
}

// validateTimer checks the client-supplied fields the store will persist.
func validateTimer(t timer.Timer) error {
	spec := timer.Spec{
		EventName: t.EventName,
		Rounds:    t.Rounds,
		RoundTime: t.RoundTime,
		HasDraft:  t.HasDraft,
		DraftTime: t.DraftTime,
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid timer: %w", err)
	}
	floor := 1
	if t.HasDraft {
		floor = 0
	}
	if t.CurrentRound < floor || t.CurrentRound > t.Rounds {
		return fmt.Errorf("invalid timer: round %d out of range", t.CurrentRound)
	}
	return nil
}

func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}
