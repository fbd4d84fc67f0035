package realtime

import (
	"github.com/goccy/go-json"

	"protoimsg/cmd/internal/presence"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

// encode marshals an outbound frame. Frame types are plain structs so failure means a bug.
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("realtime: encode frame: " + err.Error())
	}
	return b
}

func entry(o presence.Observed) v1.PresenceEntry {
	return v1.PresenceEntry{DID: o.DID, Status: string(o.Status), AwayMessage: o.AwayMessage}
}

func entries(obs []presence.Observed) []v1.PresenceEntry {
	out := make([]v1.PresenceEntry, 0, len(obs))
	for _, o := range obs {
		out = append(out, entry(o))
	}
	return out
}

func presenceFrame(o presence.Observed) []byte {
	return encode(v1.Presence{Type: v1.TypePresence, Data: entry(o)})
}

func offlineFrame(did string) []byte {
	return presenceFrame(presence.Observed{DID: did, Status: presence.StatusOffline})
}

func errorFrame(code, message string) []byte {
	return encode(v1.Error{Type: v1.TypeError, Code: code, Message: message})
}

var pongFrame = encode(v1.Pong{Type: v1.TypePong})
