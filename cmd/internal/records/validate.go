package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ErrUnknownCollection is returned for collections this server does not index.
var ErrUnknownCollection = errors.New("unknown collection")

type checker interface {
	check() error
}

// InNamespace reports whether collection belongs to the application namespace.
func InNamespace(collection string) bool {
	return strings.HasPrefix(collection, NSIDPrefix)
}

// Validate decodes raw into the typed record for collection and checks its shape.
// It never panics: any failure, including one inside the decoder, becomes an error.
func Validate(collection string, raw []byte) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &ValidationError{Collection: collection, Msg: fmt.Sprintf("panic during validation: %v", r)}
		}
	}()

	switch collection {
	case CollectionRoom:
		return finish(collection, raw, &RoomRecord{})
	case CollectionMessage:
		return finish(collection, raw, &MessageRecord{})
	case CollectionBan:
		return finish(collection, raw, &BanRecord{})
	case CollectionRole:
		return finish(collection, raw, &RoleRecord{})
	case CollectionAllowlist:
		return finish(collection, raw, &AllowlistRecord{})
	case CollectionCommunity:
		return finish(collection, raw, &CommunityRecord{})
	case CollectionPresence:
		return finish(collection, raw, &PresenceRecord{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
}

func finish(collection string, raw []byte, dst Record) (Record, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Collection: collection, Msg: "empty payload"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, &ValidationError{Collection: collection, Msg: "malformed payload: " + err.Error()}
	}
	if err := ValidateStruct(dst); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Collection = collection
		}
		return nil, err
	}
	if c, ok := dst.(checker); ok {
		if err := c.check(); err != nil {
			return nil, &ValidationError{Collection: collection, Field: "embed", Msg: err.Error()}
		}
	}
	return dst, nil
}
