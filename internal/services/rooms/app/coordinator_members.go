package server

import (
	"context"
	"log"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
)

// identify handles hello. Any older session holding the same clientId is
// closed before the new one is acknowledged.
func (c *coordinator) identify(ctx context.Context, s *session, msg inboundMessage) error {
	identity, err := parseIdentity(msg)
	if err != nil {
		return err
	}

	now := c.nowMillis()
	next := c.state.Clone()
	if previous := s.client(); previous != "" && previous != identity.ClientID && !c.clientHeldElsewhere(previous, s) {
		next.MarkOffline(previous, now)
	}
	member := next.Identify(identity, now)
	if err := c.commit(ctx, next); err != nil {
		return err
	}

	c.evictOthers(identity.ClientID, s)
	s.setClient(identity.ClientID)
	delete(c.joinRequests, s.id)
	c.stopReap()
	log.Printf("rooms: member identified room=%q client=%q session=%q host=%q", c.roomID, identity.ClientID, s.id, c.state.HostClientID)

	c.broadcast(memberUpsertMessage{
		envelope:     newEnvelope(msgMemberUpsert),
		Member:       member,
		HostClientID: hostPointer(c.state.HostClientID),
	})
	s.send(c.stateMessage())
	c.reportOccupancy()
	return nil
}

func parseIdentity(msg inboundMessage) (domain.Identity, error) {
	var identity domain.Identity
	identity.ClientID, _ = msg.string("clientId")
	identity.DisplayName, _ = msg.string("displayName")
	identity.Avatar, _ = msg.string("avatar")
	if err := identity.Validate(); err != nil {
		return domain.Identity{}, err
	}
	if msg.has("busy") {
		busy, ok := msg.bool("busy")
		if !ok {
			return domain.Identity{}, apperrors.New(apperrors.CodeBadBusy)
		}
		identity.Busy = &busy
	}
	return identity, nil
}

func (c *coordinator) setBusy(ctx context.Context, s *session, msg inboundMessage) error {
	clientID, err := requireIdentified(s)
	if err != nil {
		return err
	}
	busy, ok := msg.bool("busy")
	if !ok {
		return apperrors.New(apperrors.CodeBadBusy)
	}

	next := c.state.Clone()
	member, ok := next.SetBusy(clientID, busy, c.nowMillis())
	if !ok {
		return apperrors.New(apperrors.CodeNotIdentified)
	}
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.broadcast(memberUpsertMessage{
		envelope:     newEnvelope(msgMemberUpsert),
		Member:       member,
		HostClientID: hostPointer(c.state.HostClientID),
	})
	return nil
}

// evictOthers closes every session other than keep identified as clientID.
func (c *coordinator) evictOthers(clientID string, keep *session) {
	for _, other := range c.sessions {
		if other == keep || other.client() != clientID {
			continue
		}
		log.Printf("rooms: evicting superseded session room=%q client=%q session=%q", c.roomID, clientID, other.id)
		c.dropSession(other)
		other.peer.close()
	}
}

func (c *coordinator) clientHeldElsewhere(clientID string, except *session) bool {
	for _, other := range c.sessions {
		if other != except && other.client() == clientID {
			return true
		}
	}
	return false
}

// requireIdentified returns the caller's clientId.
func requireIdentified(s *session) (string, error) {
	clientID := s.client()
	if clientID == "" {
		return "", apperrors.New(apperrors.CodeNotIdentified)
	}
	return clientID, nil
}

// requireHost returns the caller's clientId when it is the current host.
func (c *coordinator) requireHost(s *session) (string, error) {
	clientID, err := requireIdentified(s)
	if err != nil {
		return "", err
	}
	if !c.state.IsHost(clientID) {
		return "", apperrors.New(apperrors.CodeNotHost)
	}
	return clientID, nil
}
