// Package errors provides structured protocol errors for room sessions.
package errors

// Code is a machine-readable error code sent to clients in error frames.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "unknown"
	// CodeInternal reports a server-side failure, usually persistence.
	CodeInternal Code = "internal"

	// Malformed input
	CodeBadJSON            Code = "bad_json"
	CodeBadMessage         Code = "bad_message"
	CodeBinaryNotSupported Code = "binary_not_supported"
	CodeMessageTooLarge    Code = "message_too_large"
	CodeUnknownType        Code = "unknown_type"

	// Identity and authorization
	CodeNotIdentified  Code = "not_identified"
	CodeNoSession      Code = "no_session"
	CodeBadClientID    Code = "bad_clientId"
	CodeBadDisplayName Code = "bad_displayName"
	CodeBadAvatar      Code = "bad_avatar"
	CodeBadBusy        Code = "bad_busy"
	CodeNotHost        Code = "not_host"

	// Activity shape
	CodeBadActivity          Code = "bad_activity"
	CodeBadActivityID        Code = "bad_activity_id"
	CodeBadActivityKind      Code = "bad_activity_kind"
	CodeBadActivityStatus    Code = "bad_activity_status"
	CodeBadActivityCreatedBy Code = "bad_activity_createdBy"
	CodeBadActivityCreatedAt Code = "bad_activity_createdAt"
	CodeBadActivityPayload   Code = "bad_activity_payload"
	CodeBadActivityUpdate    Code = "bad_activity_update"
	CodeBadVote              Code = "bad_vote"
	CodeBadSpin              Code = "bad_spin"
	CodeBadClose             Code = "bad_close"
	CodeBadAddOption         Code = "bad_add_option"
	CodeBadOption            Code = "bad_option"

	// Activity state
	CodeNoActivity Code = "no_activity"
	CodeWrongKind  Code = "wrong_kind"
	CodeNoOptions  Code = "no_options"

	// Join requests
	CodeBadRequestJoin    Code = "bad_request_join"
	CodeBadJoinDecision   Code = "bad_join_decision"
	CodeAlreadyIdentified Code = "already_identified"
	CodeNoHost            Code = "no_host"
	CodeNoRequest         Code = "no_request"
)

// Fatal reports whether the connection must close after the error frame.
func (c Code) Fatal() bool {
	switch c {
	case CodeNoSession, CodeMessageTooLarge:
		return true
	default:
		return false
	}
}

// Message returns the default client-facing text for a code.
func (c Code) Message() string {
	switch c {
	case CodeInternal:
		return "Internal error"
	case CodeBadJSON:
		return "Invalid JSON"
	case CodeBadMessage:
		return "Invalid message"
	case CodeBinaryNotSupported:
		return "Binary messages are not supported"
	case CodeMessageTooLarge:
		return "Message too large"
	case CodeUnknownType:
		return "Unknown message type"
	case CodeNotIdentified:
		return "Send hello first"
	case CodeNoSession:
		return "Session not found"
	case CodeBadClientID:
		return "Invalid clientId"
	case CodeBadDisplayName:
		return "Invalid displayName"
	case CodeBadAvatar:
		return "Invalid avatar"
	case CodeBadBusy:
		return "Invalid busy flag"
	case CodeNotHost:
		return "Only the host can do that"
	case CodeBadActivity:
		return "Invalid activity"
	case CodeBadActivityID:
		return "Invalid activity id"
	case CodeBadActivityKind:
		return "Invalid activity kind"
	case CodeBadActivityStatus:
		return "Invalid activity status"
	case CodeBadActivityCreatedBy:
		return "Activity must be created by the host"
	case CodeBadActivityCreatedAt:
		return "Invalid activity createdAt"
	case CodeBadActivityPayload:
		return "Invalid activity payload"
	case CodeBadActivityUpdate:
		return "Invalid activity update"
	case CodeBadVote:
		return "Invalid vote"
	case CodeBadSpin:
		return "Invalid spin"
	case CodeBadClose:
		return "Invalid close"
	case CodeBadAddOption:
		return "Invalid add option request"
	case CodeBadOption:
		return "Invalid option"
	case CodeNoActivity:
		return "No matching open activity"
	case CodeWrongKind:
		return "Wrong activity kind"
	case CodeNoOptions:
		return "Nothing to spin"
	case CodeBadRequestJoin:
		return "Invalid join request"
	case CodeBadJoinDecision:
		return "Invalid join decision"
	case CodeAlreadyIdentified:
		return "Already joined"
	case CodeNoHost:
		return "No host is online"
	case CodeNoRequest:
		return "Join request not found"
	default:
		return "Unknown error"
	}
}
