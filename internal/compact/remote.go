package compact

import "github.com/ngoclaw/codexcore/internal/itemstore"

// ProcessRemoteCompactedTranscript handles a compacted transcript returned
// by the provider itself (as opposed to one compacted locally by
// Compactor.Compact): drop developer messages and user messages that are
// session-prefix envelopes rather than real user text, then re-inject the
// current session's canonical context just before the last real user
// message (or at the end if none remain).
func ProcessRemoteCompactedTranscript(compactedHistory []itemstore.Item, initialContext []itemstore.Item) []itemstore.Item {
	kept := make([]itemstore.Item, 0, len(compactedHistory))
	for _, it := range compactedHistory {
		if shouldKeepRemoteCompactedItem(it) {
			kept = append(kept, it)
		}
	}

	lastUserIdx := -1
	for i := len(kept) - 1; i >= 0; i-- {
		if kept[i].IsUserMessage() {
			lastUserIdx = i
			break
		}
	}

	if lastUserIdx < 0 {
		out := make([]itemstore.Item, 0, len(kept)+len(initialContext))
		out = append(out, kept...)
		out = append(out, initialContext...)
		return out
	}

	out := make([]itemstore.Item, 0, len(kept)+len(initialContext))
	out = append(out, kept[:lastUserIdx]...)
	out = append(out, initialContext...)
	out = append(out, kept[lastUserIdx:]...)
	return out
}

// shouldKeepRemoteCompactedItem drops developer messages (remote output can
// include stale/duplicated instruction content) and non-real-content user
// messages (session-prefix/instruction wrappers), keeping everything else
// (including real user-content messages and assistant/tool items).
func shouldKeepRemoteCompactedItem(it itemstore.Item) bool {
	if it.Kind != itemstore.KindMessage {
		return true
	}
	switch it.Role {
	case itemstore.RoleDeveloper:
		return false
	case itemstore.RoleUser:
		return !it.IsSessionPrefix()
	default:
		return true
	}
}
