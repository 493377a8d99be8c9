package sync

import (
	"sort"
	"time"

	"github.com/inboxd/inboxd/internal/model"
)

// Outcome describes what reconciling an inbound message did.
type Outcome int

const (
	// OutcomeReplacedTemp replaced an optimistic entry matched by tempId.
	OutcomeReplacedTemp Outcome = iota
	// OutcomeReplacedOptimistic replaced an optimistic entry matched by
	// outgoing content within the time window.
	OutcomeReplacedOptimistic
	// OutcomeDuplicate found the message already present; no change.
	OutcomeDuplicate
	// OutcomeReactionMerged found the message already present and merged
	// only its updated reaction data.
	OutcomeReactionMerged
	// OutcomeAppended added a genuinely new message.
	OutcomeAppended
)

// ReconcileMessage folds an inbound server message into a chat's message
// collection so each server-side message appears exactly once, optimistic
// placeholders are replaced (not duplicated) by their authoritative
// counterparts, and timestamp order is preserved.
//
// The match window must be generous (minutes, not seconds): queued offline
// sends are confirmed long after their original optimistic timestamp. The
// flip side is that an unrelated server message with identical type and body
// close in time can pair with the wrong optimistic entry; no stronger
// identifier exists for queued sends, so the heuristic stands.
func ReconcileMessage(msgs []model.Message, in model.Message, window time.Duration) ([]model.Message, Outcome) {
	// 1. Temp-id match.
	if in.TempID != "" {
		for i := range msgs {
			if msgs[i].IsOptimistic && msgs[i].TempID == in.TempID {
				return replaceAt(msgs, i, in), OutcomeReplacedTemp
			}
		}
	}

	// 2. Outgoing-content match against optimistic entries.
	if in.FromMe || (in.WamID != "" && hasPendingOptimistic(msgs)) {
		for i := range msgs {
			if !msgs[i].IsOptimistic {
				continue
			}
			if msgs[i].Type != in.Type {
				continue
			}
			if in.Type == "text" && msgs[i].Body != in.Body {
				continue
			}
			if absMillis(msgs[i].Timestamp-in.Timestamp) > window.Milliseconds() {
				continue
			}
			return replaceAt(msgs, i, in), OutcomeReplacedOptimistic
		}
	}

	// 3. Identity match: already present.
	for i := range msgs {
		if sameIdentity(&msgs[i], &in) {
			if reactionChanged(&msgs[i], &in) {
				mergeReaction(&msgs[i], &in)
				return msgs, OutcomeReactionMerged
			}
			return msgs, OutcomeDuplicate
		}
	}

	// 4. New message. Append and re-sort; transport events may arrive out
	// of order relative to true send time.
	in.IsOptimistic = false
	msgs = append(msgs, in)
	SortMessages(msgs)
	return msgs, OutcomeAppended
}

// ApplyStatusUpdate locates the target message by transport identifier, then
// by temp identifier, then (only when exactly one pending optimistic
// candidate exists) by elimination. Updates status and delivery timestamps in
// place; never creates an entry. Returns whether a message was updated.
func ApplyStatusUpdate(msgs []model.Message, u model.StatusUpdate) bool {
	idx := -1
	if u.WamID != "" {
		for i := range msgs {
			if msgs[i].WamID == u.WamID {
				idx = i
				break
			}
		}
	}
	if idx < 0 && u.TempID != "" {
		for i := range msgs {
			if msgs[i].TempID == u.TempID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		// Sole-pending-candidate elimination; anything more ambiguous is
		// never guessed.
		candidate := -1
		for i := range msgs {
			if msgs[i].IsOptimistic && (msgs[i].Status == model.StatusPending || msgs[i].Status == model.StatusQueued) {
				if candidate >= 0 {
					return false
				}
				candidate = i
			}
		}
		idx = candidate
	}
	if idx < 0 {
		return false
	}

	m := &msgs[idx]
	if u.Status != "" {
		m.Status = u.Status
	}
	if u.WamID != "" && m.WamID == "" {
		m.WamID = u.WamID
	}
	if u.SentAt != 0 {
		m.SentAt = u.SentAt
	}
	if u.DeliveredAt != 0 {
		m.DeliveredAt = u.DeliveredAt
	}
	if u.ReadAt != 0 {
		m.ReadAt = u.ReadAt
	}
	return true
}

// ApplyReactionUpdate updates or removes a per-sender reaction record on the
// target message and refreshes the singular current-reaction field kept for
// simpler consumers. Returns whether a message was updated.
func ApplyReactionUpdate(msgs []model.Message, u model.ReactionUpdate) bool {
	idx := -1
	for i := range msgs {
		if (u.WamID != "" && msgs[i].WamID == u.WamID) ||
			(u.MessageID != "" && msgs[i].ID == u.MessageID && msgs[i].HasServerID()) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	m := &msgs[idx]
	if u.Remove {
		for i := range m.Reactions {
			if m.Reactions[i].Sender == u.Sender {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				break
			}
		}
	} else {
		updated := false
		for i := range m.Reactions {
			if m.Reactions[i].Sender == u.Sender {
				m.Reactions[i].Emoji = u.Emoji
				m.Reactions[i].Timestamp = u.Timestamp
				updated = true
				break
			}
		}
		if !updated {
			m.Reactions = append(m.Reactions, model.Reaction{
				Sender:    u.Sender,
				Emoji:     u.Emoji,
				Timestamp: u.Timestamp,
			})
		}
	}
	refreshCurrentReaction(m)
	return true
}

// SortMessages orders a collection ascending by timestamp.
func SortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}

// replaceAt substitutes the optimistic entry at i with the authoritative
// server copy. The server copy wins wholesale; only locally-known reaction
// records are carried over when the server copy has none.
func replaceAt(msgs []model.Message, i int, in model.Message) []model.Message {
	in.IsOptimistic = false
	if in.TempID == "" {
		in.TempID = msgs[i].TempID
	}
	if len(in.Reactions) == 0 {
		in.Reactions = msgs[i].Reactions
	}
	// Optimistic entries sit at their local send time; the confirmed copy
	// carries the authoritative timestamp, which may move it.
	msgs[i] = in
	SortMessages(msgs)
	return msgs
}

func sameIdentity(a, b *model.Message) bool {
	if a.WamID != "" && a.WamID == b.WamID {
		return true
	}
	// Client-generated placeholder identifiers never establish identity.
	if a.HasServerID() && b.HasServerID() && a.ID == b.ID {
		return true
	}
	return false
}

func hasPendingOptimistic(msgs []model.Message) bool {
	for i := range msgs {
		if msgs[i].IsOptimistic && (msgs[i].Status == model.StatusPending || msgs[i].Status == model.StatusQueued) {
			return true
		}
	}
	return false
}

func reactionChanged(existing, in *model.Message) bool {
	if in.Reaction != "" && in.Reaction != existing.Reaction {
		return true
	}
	if len(in.Reactions) > 0 && len(in.Reactions) != len(existing.Reactions) {
		return true
	}
	return false
}

// mergeReaction folds only the reaction data of a duplicate inbound copy
// into the stored entry; everything else stays untouched.
func mergeReaction(existing, in *model.Message) {
	if in.Reaction != "" {
		existing.Reaction = in.Reaction
	}
	if len(in.Reactions) > 0 {
		existing.Reactions = in.Reactions
		refreshCurrentReaction(existing)
	}
}

// refreshCurrentReaction keeps the singular display field in sync with the
// per-sender records: the most recent record wins, none means empty.
func refreshCurrentReaction(m *model.Message) {
	if len(m.Reactions) == 0 {
		m.Reaction = ""
		return
	}
	latest := m.Reactions[0]
	for _, r := range m.Reactions[1:] {
		if r.Timestamp >= latest.Timestamp {
			latest = r
		}
	}
	m.Reaction = latest.Emoji
}

func absMillis(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}
