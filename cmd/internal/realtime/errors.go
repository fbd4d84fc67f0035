package realtime

import (
	"errors"

	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/records"
	"protoimsg/cmd/internal/rooms"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

// ClientError is a refusal reported to the client as an error frame. The connection stays open.
type ClientError struct {
	Code    string
	Message string
}

func (e *ClientError) Error() string { return e.Code + ": " + e.Message }

func clientErr(code, message string) *ClientError {
	return &ClientError{Code: code, Message: message}
}

var errInternal = clientErr(v1.ErrCodeInternal, "Internal error")

// describeError maps handler failures to the code and message sent to the client.
// The second result is false for failures that are not the client's fault.
func describeError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}

	var rej *dm.RejectedError
	if errors.As(err, &rej) {
		code := v1.ErrCodeInvalidMessage
		switch {
		case errors.Is(err, dm.ErrNotFound):
			code = v1.ErrCodeNotFound
		case errors.Is(err, dm.ErrNotParticipant):
			code = v1.ErrCodeNotParticipant
		case errors.Is(err, dm.ErrTooLong):
			code = v1.ErrCodeTooLong
		case errors.Is(err, dm.ErrFiltered):
			code = v1.ErrCodeContentBlocked
		}
		return clientErr(code, rej.Reason), true
	}

	switch {
	case errors.Is(err, dm.ErrNotFound):
		return clientErr(v1.ErrCodeNotFound, "Conversation not found"), true
	case errors.Is(err, dm.ErrNotParticipant):
		return clientErr(v1.ErrCodeNotParticipant, "Not a participant"), true
	case errors.Is(err, dm.ErrSelf):
		return clientErr(v1.ErrCodeInvalidMessage, "Cannot open a conversation with yourself"), true
	case errors.Is(err, rooms.ErrBanned):
		return clientErr(v1.ErrCodeForbidden, "You are banned from this room"), true
	case errors.Is(err, rooms.ErrNotAllowlisted):
		return clientErr(v1.ErrCodeForbidden, "This room is private"), true
	}

	var ve *records.ValidationError
	if errors.As(err, &ve) {
		msg := "Invalid message"
		if ve.Field != "" {
			msg += ": " + ve.Field + " " + ve.Msg
		}
		return clientErr(v1.ErrCodeInvalidMessage, msg), true
	}
	return errInternal, false
}
