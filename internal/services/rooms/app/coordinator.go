package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/platform/id"
	platformotel "github.com/louisbranch/breakpoint/internal/platform/otel"
	"github.com/louisbranch/breakpoint/internal/platform/telemetry/metrics"
	"github.com/louisbranch/breakpoint/internal/platform/timeouts"
	"github.com/louisbranch/breakpoint/internal/services/directory"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
	"github.com/louisbranch/breakpoint/internal/services/rooms/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/breakpoint/internal/services/rooms/app"

var (
	errCoordinatorRetired = errors.New("room coordinator retired")
	errRoomOccupied       = errors.New("room has online members")
)

// roomConfig holds the per-room policy knobs.
type roomConfig struct {
	promotionThreshold int
	idleReapAfter      time.Duration
	keepPromotedOnReap bool
}

type reapTimer interface {
	Stop() bool
}

type occupancyReporter interface {
	Report(ctx context.Context, occupancy directory.Occupancy) error
}

// roomDeps are shared by every coordinator in a hub.
type roomDeps struct {
	store     storage.RoomStore
	metrics   *metrics.Rooms
	config    roomConfig
	now       func() time.Time
	draw      func(n int) (int, error)
	afterFunc func(d time.Duration, f func()) reapTimer
	report    func(occupancy directory.Occupancy)
	release   func(c *coordinator)
}

// coordinator owns one room. Every operation runs under mu: validate,
// mutate a clone, persist, commit, then broadcast.
type coordinator struct {
	roomID string
	deps   *roomDeps

	mu           sync.Mutex
	state        domain.RoomState
	sessions     map[string]*session
	joinRequests map[string]joinRequest
	reapTimer    reapTimer
	reapGen      uint64
	retired      bool
}

func newCoordinator(roomID string, state domain.RoomState, deps *roomDeps) *coordinator {
	return &coordinator{
		roomID:       roomID,
		deps:         deps,
		state:        state,
		sessions:     make(map[string]*session),
		joinRequests: make(map[string]joinRequest),
	}
}

// loadRoomState reads the persisted room, starting fresh when none exists.
func loadRoomState(ctx context.Context, store storage.RoomStore, roomID string) (domain.RoomState, error) {
	blob, err := store.LoadRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewRoomState(roomID), nil
	}
	if err != nil {
		return domain.RoomState{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	state, err := domain.Decode(blob)
	if err != nil {
		return domain.RoomState{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	state.RoomID = roomID
	return state, nil
}

// connect registers a new session and greets it with welcome and state.
func (c *coordinator) connect(p peer) (*session, error) {
	sessionID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return nil, errCoordinatorRetired
	}

	s := newSession(sessionID, p)
	s.setCoordinator(c)
	c.sessions[s.id] = s
	c.deps.metrics.SessionOpened()

	s.send(welcomeMessage{envelope: newEnvelope(msgWelcome), SessionID: s.id, RoomID: c.roomID})
	s.send(c.stateMessage())
	return s, nil
}

// disconnect removes a session. An identified member with no other live
// session goes offline and the host is re-elected.
func (c *coordinator) disconnect(ctx context.Context, s *session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return errCoordinatorRetired
	}
	if c.sessions[s.id] != s {
		return nil
	}
	c.dropSession(s)

	clientID := s.client()
	if clientID == "" || c.clientOnline(clientID) {
		return nil
	}
	next := c.state.Clone()
	if !next.MarkOffline(clientID, c.nowMillis()) {
		return nil
	}
	if err := c.commit(ctx, next); err != nil {
		// A departed member cannot stay online; keep the in-memory state
		// and let the next successful write persist it.
		log.Printf("rooms: persist offline member failed room=%q client=%q err=%v", c.roomID, clientID, err)
		c.state = next
	}
	log.Printf("rooms: member offline room=%q client=%q host=%q", c.roomID, clientID, c.state.HostClientID)

	c.broadcast(memberOfflineMessage{
		envelope:     newEnvelope(msgMemberOffline),
		ClientID:     clientID,
		HostClientID: hostPointer(c.state.HostClientID),
	})
	c.reportOccupancy()
	if !c.state.AnyOnline() {
		c.scheduleReap()
	}
	return nil
}

// handle dispatches one decoded client message.
func (c *coordinator) handle(ctx context.Context, s *session, msg inboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return errCoordinatorRetired
	}
	if c.sessions[s.id] != s {
		c.fail(s, apperrors.New(apperrors.CodeNoSession))
		return nil
	}

	var err error
	switch msg.Type {
	case msgHello:
		err = c.identify(ctx, s, msg)
	case msgSetBusy:
		err = c.setBusy(ctx, s, msg)
	case msgActivityStart:
		err = c.startActivity(ctx, s, msg)
	case msgActivityUpdate:
		err = c.updateActivity(ctx, s, msg)
	case msgVote:
		err = c.vote(ctx, s, msg)
	case msgSpin:
		err = c.spin(ctx, s, msg)
	case msgActivityClose:
		err = c.closeActivity(ctx, s, msg)
	case msgAddPollOption:
		err = c.addPollOption(ctx, s, msg)
	case msgRequestJoin:
		err = c.requestJoin(s, msg)
	case msgApproveJoin:
		err = c.decideJoin(s, msg, true)
	case msgDenyJoin:
		err = c.decideJoin(s, msg, false)
	default:
		c.deps.metrics.Message("unknown")
		c.fail(s, apperrors.New(apperrors.CodeUnknownType))
		return nil
	}
	c.deps.metrics.Message(msg.Type)
	if err != nil {
		c.fail(s, err)
	}
	return nil
}

// snapshot returns a copy of the current room state.
func (c *coordinator) snapshot() domain.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// commit persists next and installs it. On failure the state is untouched.
func (c *coordinator) commit(ctx context.Context, next domain.RoomState) error {
	if err := c.persist(ctx, next); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err)
	}
	c.state = next
	return nil
}

func (c *coordinator) persist(ctx context.Context, state domain.RoomState) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Persist)
	defer cancel()
	ctx, span := platformotel.Tracer(tracerName).Start(ctx, "room.persist",
		trace.WithAttributes(attribute.String("room.id", c.roomID)))
	defer span.End()

	blob, err := domain.Encode(state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode room")
		return fmt.Errorf("encode room %s: %w", c.roomID, err)
	}
	started := time.Now()
	err = c.deps.store.SaveRoom(ctx, c.roomID, blob)
	c.deps.metrics.ObservePersist(time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save room")
		return fmt.Errorf("save room %s: %w", c.roomID, err)
	}
	return nil
}

// fail sends an error frame to s and closes it when the code is fatal.
func (c *coordinator) fail(s *session, err error) {
	code := writeError(s.peer, c.deps.metrics, err)
	if code == apperrors.CodeInternal {
		log.Printf("rooms: request failed room=%q session=%q err=%v", c.roomID, s.id, err)
	}
}

func (c *coordinator) broadcast(v any) {
	frame := mustJSON(v)
	for _, s := range c.sessions {
		s.peer.send(frame)
	}
}

func (c *coordinator) sendToClient(clientID string, v any) int {
	frame := mustJSON(v)
	sent := 0
	for _, s := range c.sessions {
		if s.client() == clientID && s.peer.send(frame) {
			sent++
		}
	}
	return sent
}

func (c *coordinator) stateMessage() stateMessage {
	return stateMessage{envelope: newEnvelope(msgState), State: c.state}
}

func (c *coordinator) activityUpsert() activityUpsertMessage {
	return activityUpsertMessage{envelope: newEnvelope(msgActivityUpsert), Activity: c.state.Activity}
}

func (c *coordinator) dropSession(s *session) {
	delete(c.sessions, s.id)
	delete(c.joinRequests, s.id)
	c.deps.metrics.SessionClosed()
}

// clientOnline reports whether any live session is identified as clientID.
func (c *coordinator) clientOnline(clientID string) bool {
	for _, s := range c.sessions {
		if s.client() == clientID {
			return true
		}
	}
	return false
}

func (c *coordinator) liveClients() map[string]bool {
	live := make(map[string]bool, len(c.sessions))
	for _, s := range c.sessions {
		if clientID := s.client(); clientID != "" {
			live[clientID] = true
		}
	}
	return live
}

func (c *coordinator) nowMillis() int64 {
	return c.deps.now().UnixMilli()
}

// reportOccupancy queues the room's directory listing.
func (c *coordinator) reportOccupancy() {
	if c.deps.report == nil {
		return
	}
	c.deps.report(directory.Occupancy{
		RoomID:      c.roomID,
		OnlineCount: c.state.OnlineCount(),
		HostName:    c.state.HostName(),
	})
}

// retireLocked detaches every session and marks the coordinator unusable.
func (c *coordinator) retireLocked() []*session {
	c.retired = true
	c.stopReap()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session)
	c.joinRequests = make(map[string]joinRequest)
	return sessions
}

// adopt installs sessions carried over from a retired coordinator and
// reconciles member presence against them.
func (c *coordinator) adopt(ctx context.Context, sessions []*session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMillis()
	next := c.state.Clone()
	changed := false
	for _, s := range sessions {
		s.setCoordinator(c)
		c.sessions[s.id] = s
		clientID := s.client()
		if clientID == "" {
			continue
		}
		member, ok := next.Members[clientID]
		if !ok {
			s.setClient("")
			continue
		}
		if !member.Online {
			member.Online = true
			member.LastSeenAt = now
			next.Members[clientID] = member
			changed = true
		}
	}
	if next.Reconcile(c.liveClients(), now) {
		changed = true
	}
	if next.HostClientID == "" && next.AnyOnline() {
		next.ElectHost()
		changed = true
	}
	if changed {
		if err := c.commit(ctx, next); err != nil {
			log.Printf("rooms: persist reconciled room failed room=%q err=%v", c.roomID, err)
			c.state = next
		}
	}

	c.broadcast(c.stateMessage())
	c.reportOccupancy()
	if !c.state.AnyOnline() && len(c.state.Members) > 0 {
		c.scheduleReap()
	}
}
