package presence

// Resolve maps an owner's visibility policy and the viewer's relationship to the status
// the viewer observes. Block lists are applied by the caller before Resolve.
func Resolve(visibility Visibility, raw Status, isCommunityMember, isInnerCircle bool) Status {
	switch visibility {
	case VisibleEveryone:
		return raw
	case VisibleCommunity:
		if isCommunityMember {
			return raw
		}
		return StatusOffline
	case VisibleInnerCircle:
		if isInnerCircle {
			return raw
		}
		return StatusOffline
	default:
		return StatusOffline
	}
}
