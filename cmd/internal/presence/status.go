package presence

// Status is a presence status as stored or observed.
type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusIdle      Status = "idle"
	StatusOffline   Status = "offline"
	StatusInvisible Status = "invisible"
)

// Visibility controls who may observe an identity's raw status.
type Visibility string

const (
	VisibleEveryone    Visibility = "everyone"
	VisibleCommunity   Visibility = "community"
	VisibleInnerCircle Visibility = "inner-circle"
	VisibleNoOne       Visibility = "no-one"
)

// DefaultVisibility is applied when a presence record is first created.
const DefaultVisibility = VisibleNoOne

// ParseStatus maps a wire value to a Status; unknown values are offline.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusAway, StatusIdle, StatusOffline, StatusInvisible:
		return Status(s)
	default:
		return StatusOffline
	}
}

// ParseVisibility maps a wire value to a Visibility; unknown values are the default.
func ParseVisibility(s string) Visibility {
	switch Visibility(s) {
	case VisibleEveryone, VisibleCommunity, VisibleInnerCircle, VisibleNoOne:
		return Visibility(s)
	default:
		return DefaultVisibility
	}
}

// Record is one identity's stored presence. Absent identities read as offline.
type Record struct {
	Status      Status
	Visibility  Visibility
	AwayMessage string
}

// Offline is the record reported for identities with no live connection.
func Offline() Record {
	return Record{Status: StatusOffline, Visibility: DefaultVisibility}
}

// awayMessageFor keeps the away message only while away.
func awayMessageFor(status Status, msg string) string {
	if status == StatusAway {
		return msg
	}
	return ""
}
