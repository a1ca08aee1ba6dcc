package server

import (
	"context"
	"log"
	"time"
)

func defaultAfterFunc(d time.Duration, f func()) reapTimer {
	return time.AfterFunc(d, f)
}

// scheduleReap arms the idle reaper, replacing any pending one.
func (c *coordinator) scheduleReap() {
	c.stopReap()
	if c.deps.config.idleReapAfter <= 0 {
		return
	}
	gen := c.reapGen
	c.reapTimer = c.deps.afterFunc(c.deps.config.idleReapAfter, func() {
		c.fireReap(gen)
	})
}

func (c *coordinator) stopReap() {
	if c.reapTimer != nil {
		c.reapTimer.Stop()
		c.reapTimer = nil
	}
	c.reapGen++
}

// fireReap runs when the idle window elapses. It does nothing when the
// timer was superseded or somebody came back online. A coordinator left
// with no sessions is retired and released from the hub.
func (c *coordinator) fireReap(gen uint64) {
	c.mu.Lock()
	if c.retired || gen != c.reapGen {
		c.mu.Unlock()
		return
	}
	c.reapTimer = nil
	if err := c.reapLocked(context.Background()); err != nil {
		c.mu.Unlock()
		return
	}
	idle := len(c.sessions) == 0
	if idle {
		c.retireLocked()
	}
	c.mu.Unlock()

	if idle && c.deps.release != nil {
		c.deps.release(c)
	}
}

// reapNow resets the room immediately when nobody is online.
func (c *coordinator) reapNow(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return errCoordinatorRetired
	}
	if err := c.reapLocked(ctx); err != nil {
		return err
	}
	c.stopReap()
	return nil
}

func (c *coordinator) reapLocked(ctx context.Context) error {
	if c.state.AnyOnline() {
		return errRoomOccupied
	}
	next := c.state.Clone()
	next.Reset(c.deps.config.keepPromotedOnReap, c.nowMillis())
	if err := c.commit(ctx, next); err != nil {
		log.Printf("rooms: reap failed room=%q err=%v", c.roomID, err)
		return err
	}
	c.deps.metrics.Reap()
	log.Printf("rooms: room reaped room=%q keep_promoted=%t", c.roomID, c.deps.config.keepPromotedOnReap)
	c.joinRequests = make(map[string]joinRequest)
	c.broadcast(c.stateMessage())
	c.reportOccupancy()
	return nil
}
