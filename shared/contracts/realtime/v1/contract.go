package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned by Decode for a frame outside the client message set.
var ErrUnknownType = errors.New("unknown message type")

// clientTypes is the closed set of messages an authenticated client may send.
var clientTypes = map[string]struct{}{
	TypeJoinRoom:                 {},
	TypeLeaveRoom:                {},
	TypeStatusChange:             {},
	TypeRequestCommunityPresence: {},
	TypeRoomTyping:               {},
	TypeSyncBlocks:               {},
	TypeSyncCommunity:            {},
	TypeDMOpen:                   {},
	TypeDMClose:                  {},
	TypeDMSend:                   {},
	TypeDMTyping:                 {},
	TypeDMTogglePersist:          {},
	TypePing:                     {},
}

// Frame is an inbound frame whose type has been read but whose body is not yet decoded.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// PeekType reads only the discriminator of a frame.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	t := strings.TrimSpace(head.Type)
	if t == "" {
		return "", errors.New("missing field: type")
	}
	return t, nil
}

// Decode reads the discriminator and checks it against the authenticated client set.
func Decode(raw []byte) (Frame, error) {
	t, err := PeekType(raw)
	if err != nil {
		return Frame{}, err
	}
	if _, ok := clientTypes[t]; !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return Frame{Type: t, Raw: raw}, nil
}

// Body decodes the frame into a typed payload.
func (f Frame) Body(dst any) error {
	if err := json.Unmarshal(f.Raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

// IsClientType reports whether t belongs to the authenticated client message set.
func IsClientType(t string) bool {
	_, ok := clientTypes[t]
	return ok
}
