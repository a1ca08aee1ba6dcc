package server

import (
	"encoding/json"
	"errors"
	"log"
	"unicode/utf8"

	apperrors "github.com/louisbranch/breakpoint/internal/platform/errors"
	"github.com/louisbranch/breakpoint/internal/platform/telemetry/metrics"
	"github.com/louisbranch/breakpoint/internal/services/rooms/domain"
)

const (
	protocolVersion  = 1
	maxTypeRunes     = 32
	keepalivePing    = "ping"
	keepalivePong    = "pong"
	maxFrameBytes    = 8 * 1024
	outboundQueueLen = 256
)

// Inbound message types.
const (
	msgHello          = "hello"
	msgSetBusy        = "set_busy"
	msgActivityStart  = "activity_start"
	msgActivityUpdate = "activity_update"
	msgVote           = "vote"
	msgSpin           = "spin"
	msgActivityClose  = "activity_close"
	msgAddPollOption  = "add_poll_option"
	msgRequestJoin    = "request_join"
	msgApproveJoin    = "approve_join"
	msgDenyJoin       = "deny_join"
)

// Outbound message types.
const (
	msgWelcome            = "welcome"
	msgState              = "state"
	msgMemberUpsert       = "member_upsert"
	msgMemberOffline      = "member_offline"
	msgActivityUpsert     = "activity_upsert"
	msgActivityResult     = "activity_result"
	msgError              = "error"
	msgServerNotification = "server_notification"
	msgJoinRequest        = "join_request"
	msgJoinApproved       = "join_approved"
	msgJoinDenied         = "join_denied"
)

// inboundMessage is a decoded client frame: the envelope type plus the raw
// top-level fields for per-type validation.
type inboundMessage struct {
	Type   string
	fields map[string]json.RawMessage
}

// decodeMessage parses a text frame and validates the {v, t} envelope.
func decodeMessage(data []byte) (inboundMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return inboundMessage{}, apperrors.New(apperrors.CodeBadJSON)
	}
	msg := inboundMessage{fields: fields}
	if version, ok := msg.number("v"); !ok || version != protocolVersion {
		return inboundMessage{}, apperrors.New(apperrors.CodeBadMessage)
	}
	t, ok := msg.string("t")
	if !ok || t == "" || utf8.RuneCountInString(t) > maxTypeRunes {
		return inboundMessage{}, apperrors.New(apperrors.CodeBadMessage)
	}
	msg.Type = t
	return msg, nil
}

func (m inboundMessage) raw(key string) (json.RawMessage, bool) {
	raw, ok := m.fields[key]
	return raw, ok
}

func (m inboundMessage) string(key string) (string, bool) {
	raw, ok := m.fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func (m inboundMessage) number(key string) (float64, bool) {
	value, ok := m.value(key)
	if !ok {
		return 0, false
	}
	number, ok := value.(float64)
	return number, ok
}

func (m inboundMessage) bool(key string) (bool, bool) {
	value, ok := m.value(key)
	if !ok {
		return false, false
	}
	flag, ok := value.(bool)
	return flag, ok
}

// object returns a non-null JSON object field.
func (m inboundMessage) object(key string) (map[string]any, bool) {
	value, ok := m.value(key)
	if !ok {
		return nil, false
	}
	object, ok := value.(map[string]any)
	return object, ok && object != nil
}

func (m inboundMessage) has(key string) bool {
	raw, ok := m.fields[key]
	return ok && string(raw) != "null"
}

func (m inboundMessage) value(key string) (any, bool) {
	raw, ok := m.fields[key]
	if !ok {
		return nil, false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

type envelope struct {
	V int    `json:"v"`
	T string `json:"t"`
}

func newEnvelope(t string) envelope {
	return envelope{V: protocolVersion, T: t}
}

type welcomeMessage struct {
	envelope
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

type stateMessage struct {
	envelope
	State domain.RoomState `json:"state"`
}

type memberUpsertMessage struct {
	envelope
	Member       domain.Member `json:"member"`
	HostClientID *string       `json:"hostClientId"`
}

type memberOfflineMessage struct {
	envelope
	ClientID     string  `json:"clientId"`
	HostClientID *string `json:"hostClientId"`
}

type activityUpsertMessage struct {
	envelope
	Activity *domain.Activity `json:"activity"`
}

type activityResultMessage struct {
	envelope
	ActivityID string `json:"activityId"`
	Result     any    `json:"result"`
}

type errorMessage struct {
	envelope
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

type notificationMessage struct {
	envelope
	Message string        `json:"message"`
	Option  domain.Option `json:"option,omitempty"`
}

type joinRequestMessage struct {
	envelope
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type joinDecisionMessage struct {
	envelope
	RoomID string `json:"roomId"`
}

func hostPointer(host string) *string {
	if host == "" {
		return nil
	}
	return &host
}

func errorFrame(err error) ([]byte, apperrors.Code) {
	code := apperrors.CodeOf(err)
	message := code.Message()
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Code != apperrors.CodeInternal {
		message = appErr.Message
	}
	return mustJSON(errorMessage{
		envelope: newEnvelope(msgError),
		Code:     code,
		Message:  message,
	}), code
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("rooms: failed to marshal websocket frame err=%v", err)
		return nil
	}
	return b
}

// writeError sends err as an error frame and closes p when the code is fatal.
func writeError(p peer, m *metrics.Rooms, err error) apperrors.Code {
	frame, code := errorFrame(err)
	m.Error(string(code))
	p.send(frame)
	if code.Fatal() {
		p.close()
	}
	return code
}
