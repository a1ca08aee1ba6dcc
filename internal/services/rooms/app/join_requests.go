package server

import (
	"log"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
)

// joinRequest is an unidentified session asking the host to be let in.
type joinRequest struct {
	session     *session
	displayName string
	avatar      string
}

// requestJoin forwards an admission request to the host's sessions.
// Requests are held in memory only and vanish with the session.
func (c *coordinator) requestJoin(s *session, msg inboundMessage) error {
	if s.client() != "" {
		return apperrors.New(apperrors.CodeAlreadyIdentified)
	}
	displayName, ok := msg.string("displayName")
	if !ok || domain.ValidateDisplayName(displayName) != nil {
		return apperrors.New(apperrors.CodeBadRequestJoin)
	}
	avatar, ok := msg.string("avatar")
	if !ok || domain.ValidateAvatar(avatar) != nil {
		return apperrors.New(apperrors.CodeBadRequestJoin)
	}
	host := c.state.HostClientID
	if host == "" || !c.state.Members[host].Online || !c.clientOnline(host) {
		return apperrors.New(apperrors.CodeNoHost)
	}

	c.joinRequests[s.id] = joinRequest{session: s, displayName: displayName, avatar: avatar}
	c.sendToClient(host, joinRequestMessage{
		envelope:    newEnvelope(msgJoinRequest),
		SessionID:   s.id,
		DisplayName: displayName,
		Avatar:      avatar,
	})
	log.Printf("rooms: join requested room=%q session=%q", c.roomID, s.id)
	return nil
}

// decideJoin answers a pending request. Only the host may decide.
func (c *coordinator) decideJoin(s *session, msg inboundMessage, approve bool) error {
	if _, err := c.requireHost(s); err != nil {
		return err
	}
	sessionID, ok := msg.string("sessionId")
	if !ok || sessionID == "" {
		return apperrors.New(apperrors.CodeBadJoinDecision)
	}
	request, ok := c.joinRequests[sessionID]
	if !ok {
		return apperrors.New(apperrors.CodeNoRequest)
	}
	delete(c.joinRequests, sessionID)

	reply := msgJoinDenied
	if approve {
		reply = msgJoinApproved
	}
	request.session.send(joinDecisionMessage{envelope: newEnvelope(reply), RoomID: c.roomID})
	log.Printf("rooms: join decided room=%q session=%q approved=%t", c.roomID, sessionID, approve)
	return nil
}
