package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/platform/timeouts"
	"github.com/louisbranch/breakpoint/internal/services/directory"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
)

const occupancyQueueLen = 256

// roomHub maps room ids to their resident coordinator.
type roomHub struct {
	deps *roomDeps

	mu      sync.Mutex
	rooms   map[string]*coordinator
	loading map[string]*roomLoad

	conns sync.WaitGroup

	reporter  occupancyReporter
	reports   chan directory.Occupancy
	heartbeat time.Duration
}

func newRoomHub(deps roomDeps, reporter occupancyReporter) *roomHub {
	h := &roomHub{
		deps:     &deps,
		rooms:    make(map[string]*coordinator),
		loading:  make(map[string]*roomLoad),
		reporter: reporter,
	}
	if h.deps.now == nil {
		h.deps.now = time.Now
	}
	if h.deps.afterFunc == nil {
		h.deps.afterFunc = defaultAfterFunc
	}
	h.deps.release = h.release
	if reporter != nil {
		h.reports = make(chan directory.Occupancy, occupancyQueueLen)
		h.heartbeat = directory.DefaultStaleAfter / 2
		h.deps.report = h.queueReport
	}
	return h
}

// roomLoad marks a room whose coordinator is being built from storage.
// Callers for the same room wait on done; other rooms are not blocked.
type roomLoad struct {
	done chan struct{}
	err  error
}

// room returns the resident coordinator for roomID, loading it from the
// store on first use.
func (h *roomHub) room(ctx context.Context, roomID string) (*coordinator, error) {
	for {
		h.mu.Lock()
		if c, ok := h.rooms[roomID]; ok {
			h.mu.Unlock()
			return c, nil
		}
		if load, ok := h.loading[roomID]; ok {
			h.mu.Unlock()
			select {
			case <-load.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if load.err != nil {
				return nil, load.err
			}
			continue
		}
		load := h.beginLoadLocked(roomID)
		h.mu.Unlock()

		c, err := h.load(ctx, roomID)
		h.finishLoad(roomID, load, c, err)
		if err != nil {
			return nil, err
		}
		h.deps.metrics.RoomLoaded()
		log.Printf("rooms: room loaded room=%q members=%d", roomID, len(c.snapshot().Members))
		return c, nil
	}
}

func (h *roomHub) beginLoadLocked(roomID string) *roomLoad {
	load := &roomLoad{done: make(chan struct{})}
	h.loading[roomID] = load
	return load
}

// finishLoad installs c, when non-nil, and wakes the callers waiting on load.
func (h *roomHub) finishLoad(roomID string, load *roomLoad, c *coordinator, err error) {
	h.mu.Lock()
	delete(h.loading, roomID)
	if c != nil {
		h.rooms[roomID] = c
	}
	h.mu.Unlock()
	load.err = err
	close(load.done)
}

// load builds a coordinator from storage. It runs without the hub lock.
func (h *roomHub) load(ctx context.Context, roomID string) (*coordinator, error) {
	state, err := loadRoomState(ctx, h.deps.store, roomID)
	if err != nil {
		return nil, err
	}
	c := newCoordinator(roomID, state, h.deps)
	c.adopt(ctx, nil)
	return c, nil
}

// connect attaches p to roomID, retrying when it races with a retirement.
func (h *roomHub) connect(ctx context.Context, roomID string, p peer) (*session, error) {
	for {
		c, err := h.room(ctx, roomID)
		if err != nil {
			return nil, err
		}
		s, err := c.connect(p)
		if errors.Is(err, errCoordinatorRetired) {
			h.release(c)
			continue
		}
		return s, err
	}
}

// dispatch routes msg to the session's current coordinator.
func (h *roomHub) dispatch(ctx context.Context, s *session, msg inboundMessage) {
	for {
		c := s.coordinator()
		if c == nil {
			return
		}
		if err := c.handle(ctx, s, msg); !errors.Is(err, errCoordinatorRetired) {
			return
		}
		if s.coordinator() == c {
			writeError(s.peer, h.deps.metrics, apperrors.New(apperrors.CodeNoSession))
			return
		}
	}
}

// disconnect detaches s from whichever coordinator currently owns it.
func (h *roomHub) disconnect(ctx context.Context, s *session) {
	for {
		c := s.coordinator()
		if c == nil {
			return
		}
		if err := c.disconnect(ctx, s); !errors.Is(err, errCoordinatorRetired) || s.coordinator() == c {
			return
		}
	}
}

// reload swaps the resident coordinator for one rebuilt from storage. Live
// sessions keep their attachment and need not identify again. Only the
// reloaded room waits on the store.
func (h *roomHub) reload(ctx context.Context, roomID string) error {
	h.mu.Lock()
	old, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		_, err := h.room(ctx, roomID)
		return err
	}
	delete(h.rooms, roomID)
	load := h.beginLoadLocked(roomID)
	h.mu.Unlock()

	c, sessions, err := h.rebuild(ctx, old)
	if err != nil {
		h.finishLoad(roomID, load, old, nil)
		return err
	}
	h.finishLoad(roomID, load, c, nil)
	log.Printf("rooms: room reloaded room=%q sessions=%d", roomID, sessions)
	return nil
}

// rebuild retires old and hands its sessions to a coordinator loaded from
// storage. old stays locked until the sessions point at the new owner.
func (h *roomHub) rebuild(ctx context.Context, old *coordinator) (*coordinator, int, error) {
	old.mu.Lock()
	defer old.mu.Unlock()

	state, err := loadRoomState(ctx, h.deps.store, old.roomID)
	if err != nil {
		return nil, 0, err
	}
	sessions := old.retireLocked()
	c := newCoordinator(old.roomID, state, h.deps)
	c.adopt(ctx, sessions)
	return c, len(sessions), nil
}

// release forgets a retired coordinator.
func (h *roomHub) release(c *coordinator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.roomID] != c {
		return
	}
	delete(h.rooms, c.roomID)
	h.deps.metrics.RoomReleased()
	log.Printf("rooms: room released room=%q", c.roomID)
}

// state returns the resident room state, falling back to storage.
func (h *roomHub) state(ctx context.Context, roomID string) (domain.RoomState, error) {
	h.mu.Lock()
	c, ok := h.rooms[roomID]
	h.mu.Unlock()
	if ok {
		return c.snapshot(), nil
	}
	return loadRoomState(ctx, h.deps.store, roomID)
}

// reap resets an idle room on demand.
func (h *roomHub) reap(ctx context.Context, roomID string) error {
	for {
		c, err := h.room(ctx, roomID)
		if err != nil {
			return err
		}
		if err := c.reapNow(ctx); !errors.Is(err, errCoordinatorRetired) {
			return err
		}
	}
}

// track counts a live websocket handler so shutdown can wait for it.
func (h *roomHub) track() func() {
	h.conns.Add(1)
	return h.conns.Done
}

// shutdown closes every live session, waits for handlers to exit, then
// stops all reap timers.
func (h *roomHub) shutdown(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		rooms = append(rooms, c)
	}
	h.mu.Unlock()

	for _, c := range rooms {
		c.mu.Lock()
		for _, s := range c.sessions {
			s.peer.close()
		}
		c.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for websocket handlers: %w", ctx.Err())
	}

	for _, c := range rooms {
		c.mu.Lock()
		c.stopReap()
		c.mu.Unlock()
	}
	return err
}

func (h *roomHub) queueReport(occupancy directory.Occupancy) {
	select {
	case h.reports <- occupancy:
	default:
		log.Printf("rooms: directory queue full, dropping report room=%q", occupancy.RoomID)
	}
}

// runReporter forwards occupancy reports to the directory in order and
// re-reports resident rooms so their listings do not go stale.
func (h *roomHub) runReporter(ctx context.Context) {
	if h.reporter == nil {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case occupancy := <-h.reports:
			h.sendReport(ctx, occupancy)
		case <-ticker.C:
			for _, occupancy := range h.occupancies() {
				h.sendReport(ctx, occupancy)
			}
		}
	}
}

func (h *roomHub) sendReport(ctx context.Context, occupancy directory.Occupancy) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.DirectoryReport)
	defer cancel()
	if err := h.reporter.Report(ctx, occupancy); err != nil {
		log.Printf("rooms: directory report failed room=%q err=%v", occupancy.RoomID, err)
	}
}

func (h *roomHub) occupancies() []directory.Occupancy {
	h.mu.Lock()
	rooms := make([]*coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		rooms = append(rooms, c)
	}
	h.mu.Unlock()

	occupancies := make([]directory.Occupancy, 0, len(rooms))
	for _, c := range rooms {
		c.mu.Lock()
		if !c.retired && c.state.AnyOnline() {
			occupancies = append(occupancies, directory.Occupancy{
				RoomID:      c.roomID,
				OnlineCount: c.state.OnlineCount(),
				HostName:    c.state.HostName(),
			})
		}
		c.mu.Unlock()
	}
	return occupancies
}
