package server

import (
	"context"
	"fmt"
	"log"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
)

func (c *coordinator) startActivity(ctx context.Context, s *session, msg inboundMessage) error {
	host, err := c.requireHost(s)
	if err != nil {
		return err
	}
	raw, _ := msg.raw("activity")
	activity, err := domain.ParseActivity(raw, host)
	if err != nil {
		return err
	}

	next := c.state.Clone()
	next.StartActivity(activity, c.nowMillis())
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	log.Printf("rooms: activity started room=%q activity=%q kind=%q", c.roomID, activity.ID, activity.Kind)
	c.broadcast(c.activityUpsert())
	return nil
}

func (c *coordinator) updateActivity(ctx context.Context, s *session, msg inboundMessage) error {
	if _, err := requireIdentified(s); err != nil {
		return err
	}
	activityID, ok := msg.string("activityId")
	patch, patchOK := msg.object("patch")
	if !ok || activityID == "" || !patchOK {
		return apperrors.New(apperrors.CodeBadActivityUpdate)
	}

	next := c.state.Clone()
	activity, err := next.CurrentActivity(activityID, true)
	if err != nil {
		return err
	}
	if _, err := c.requireHost(s); err != nil {
		return err
	}
	activity.MergePayload(patch)
	next.UpdatedAt = c.nowMillis()
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.broadcast(c.activityUpsert())
	return nil
}

func (c *coordinator) vote(ctx context.Context, s *session, msg inboundMessage) error {
	clientID, err := requireIdentified(s)
	if err != nil {
		return err
	}
	activityID, ok := msg.string("activityId")
	ballot, ballotOK := msg.object("vote")
	if !ok || activityID == "" || !ballotOK {
		return apperrors.New(apperrors.CodeBadVote)
	}

	next := c.state.Clone()
	if _, err := next.CurrentActivity(activityID, true); err != nil {
		return err
	}
	promoted, didPromote := next.RecordVote(clientID, ballot, c.deps.config.promotionThreshold, c.nowMillis())
	if err := c.commit(ctx, next); err != nil {
		return err
	}

	if !didPromote {
		c.broadcast(c.activityUpsert())
		return nil
	}
	c.deps.metrics.Promotion()
	log.Printf("rooms: option promoted room=%q activity=%q option=%q", c.roomID, activityID, promoted.Label())
	c.broadcast(c.stateMessage())
	c.broadcast(c.activityUpsert())
	c.broadcast(notificationMessage{
		envelope: newEnvelope(msgServerNotification),
		Message:  fmt.Sprintf("%q has been promoted!", promoted.Label()),
		Option:   promoted,
	})
	return nil
}

func (c *coordinator) spin(ctx context.Context, s *session, msg inboundMessage) error {
	if _, err := c.requireHost(s); err != nil {
		return err
	}
	activityID, ok := msg.string("activityId")
	if !ok || activityID == "" {
		return apperrors.New(apperrors.CodeBadSpin)
	}

	next := c.state.Clone()
	activity, err := next.CurrentActivity(activityID, true)
	if err != nil {
		return err
	}
	result, err := activity.Spin(c.deps.draw)
	if err != nil {
		return err
	}
	next.UpdatedAt = c.nowMillis()
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	log.Printf("rooms: wheel spun room=%q activity=%q winner=%q", c.roomID, activityID, result.Winner)
	c.broadcast(activityResultMessage{
		envelope:   newEnvelope(msgActivityResult),
		ActivityID: activityID,
		Result:     result,
	})
	c.broadcast(c.activityUpsert())
	return nil
}

func (c *coordinator) closeActivity(ctx context.Context, s *session, msg inboundMessage) error {
	if _, err := c.requireHost(s); err != nil {
		return err
	}
	activityID, ok := msg.string("activityId")
	if !ok || activityID == "" {
		return apperrors.New(apperrors.CodeBadClose)
	}
	// Anything other than an object closes without a result.
	result, _ := msg.object("result")

	next := c.state.Clone()
	activity, err := next.CurrentActivity(activityID, false)
	if err != nil {
		return err
	}
	closed := activity.Close(result)
	next.UpdatedAt = c.nowMillis()
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	log.Printf("rooms: activity closed room=%q activity=%q", c.roomID, activityID)
	if closed != nil {
		c.broadcast(activityResultMessage{
			envelope:   newEnvelope(msgActivityResult),
			ActivityID: activityID,
			Result:     closed,
		})
	}
	c.broadcast(c.activityUpsert())
	return nil
}

func (c *coordinator) addPollOption(ctx context.Context, s *session, msg inboundMessage) error {
	if _, err := requireIdentified(s); err != nil {
		return err
	}
	activityID, ok := msg.string("activityId")
	if !ok || activityID == "" {
		return apperrors.New(apperrors.CodeBadAddOption)
	}
	option, ok := msg.object("option")
	if !ok {
		return apperrors.New(apperrors.CodeBadOption)
	}

	next := c.state.Clone()
	activity, err := next.CurrentActivity(activityID, true)
	if err != nil {
		return err
	}
	if activity.Kind != domain.KindQuickPoll {
		return apperrors.Newf(apperrors.CodeWrongKind, fmt.Sprintf("Options can only be added to a %s", domain.KindQuickPoll))
	}
	if !activity.AddPollOption(domain.Option(option)) {
		return nil
	}
	next.UpdatedAt = c.nowMillis()
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.broadcast(c.activityUpsert())
	return nil
}
