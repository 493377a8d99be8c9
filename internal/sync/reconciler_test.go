package sync

import (
	"testing"
	"time"

	"github.com/inboxd/inboxd/internal/model"
)

const window = 10 * time.Minute

func TestReconcileTempIDMatch(t *testing.T) {
	msgs := []model.Message{
		{ID: "temp-1", TempID: "temp-1", Type: "text", Body: "Hi", Timestamp: 1000, Status: model.StatusPending, IsOptimistic: true, FromMe: true},
	}
	in := model.Message{ID: "srv-1", TempID: "temp-1", WamID: "wamid.A", Type: "text", Body: "Hi", Timestamp: 2000, Status: model.StatusSent, FromMe: true}

	msgs, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeReplacedTemp {
		t.Fatalf("outcome = %v, want OutcomeReplacedTemp", outcome)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != "srv-1" || m.WamID != "wamid.A" {
		t.Errorf("server identity not adopted: id=%q wamid=%q", m.ID, m.WamID)
	}
	if m.IsOptimistic {
		t.Error("replaced entry still marked optimistic")
	}
	if m.TempID != "temp-1" {
		t.Errorf("tempId = %q, want temp-1", m.TempID)
	}
}

func TestReconcileContentMatch(t *testing.T) {
	// Offline send confirmed minutes later: the server echo carries no
	// tempId, only matching type+body close enough in time.
	sent := time.Now().UnixMilli()
	msgs := []model.Message{
		{ID: "temp-2", TempID: "temp-2", Type: "text", Body: "Hi", Timestamp: sent, Status: model.StatusQueued, IsOptimistic: true, FromMe: true},
	}
	in := model.Message{ID: "srv-2", WamID: "wamid.B", Type: "text", Body: "Hi", Timestamp: sent + 4*time.Minute.Milliseconds(), Status: model.StatusSent, FromMe: true}

	msgs, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeReplacedOptimistic {
		t.Fatalf("outcome = %v, want OutcomeReplacedOptimistic", outcome)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (no duplicate)", len(msgs))
	}
	if msgs[0].IsOptimistic {
		t.Error("entry still marked optimistic")
	}
}

func TestReconcileContentMatchRespectsWindow(t *testing.T) {
	sent := time.Now().UnixMilli()
	msgs := []model.Message{
		{ID: "temp-3", TempID: "temp-3", Type: "text", Body: "Hi", Timestamp: sent, Status: model.StatusQueued, IsOptimistic: true, FromMe: true},
	}
	in := model.Message{ID: "srv-3", WamID: "wamid.C", Type: "text", Body: "Hi", Timestamp: sent + 20*time.Minute.Milliseconds(), Status: model.StatusSent, FromMe: true}

	msgs, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want OutcomeAppended (outside window)", outcome)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestReconcileContentMatchSkipsDifferentBody(t *testing.T) {
	msgs := []model.Message{
		{ID: "temp-4", TempID: "temp-4", Type: "text", Body: "Hi", Timestamp: 1000, Status: model.StatusPending, IsOptimistic: true, FromMe: true},
	}
	in := model.Message{ID: "srv-4", Type: "text", Body: "Bye", Timestamp: 1500, Status: model.StatusSent, FromMe: true}

	msgs, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want OutcomeAppended", outcome)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestReconcileDuplicateByWamID(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-5", WamID: "wamid.D", Type: "text", Body: "hello", Timestamp: 1000, Status: model.StatusDelivered},
	}
	in := model.Message{ID: "srv-5", WamID: "wamid.D", Type: "text", Body: "hello", Timestamp: 1000, Status: model.StatusDelivered}

	got, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %v, want OutcomeDuplicate", outcome)
	}
	if len(got) != 1 {
		t.Errorf("got %d messages, want 1", len(got))
	}
}

func TestReconcileIdempotentReplay(t *testing.T) {
	in := model.Message{ID: "srv-6", WamID: "wamid.E", Type: "text", Body: "once", Timestamp: 1000}

	var msgs []model.Message
	var outcome Outcome
	for i := 0; i < 3; i++ {
		msgs, outcome = ReconcileMessage(msgs, in, window)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("final outcome = %v, want OutcomeDuplicate", outcome)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages after replay, want 1", len(msgs))
	}
}

func TestReconcileDuplicateMergesReaction(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-7", WamID: "wamid.F", Type: "text", Body: "react to me", Timestamp: 1000},
	}
	in := model.Message{
		ID: "srv-7", WamID: "wamid.F", Type: "text", Body: "react to me", Timestamp: 1000,
		Reaction:  "👍",
		Reactions: []model.Reaction{{Sender: "contact", Emoji: "👍", Timestamp: 2000}},
	}

	got, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeReactionMerged {
		t.Fatalf("outcome = %v, want OutcomeReactionMerged", outcome)
	}
	if got[0].Reaction != "👍" {
		t.Errorf("reaction = %q, want 👍", got[0].Reaction)
	}
	if len(got[0].Reactions) != 1 {
		t.Errorf("got %d reaction records, want 1", len(got[0].Reactions))
	}
}

func TestReconcileTempIDNeverEstablishesIdentity(t *testing.T) {
	// Two distinct messages can transiently share a placeholder-shaped ID;
	// the placeholder must not dedupe them.
	msgs := []model.Message{
		{ID: "temp-x", TempID: "temp-x", Type: "text", Body: "a", Timestamp: 1000, IsOptimistic: true, FromMe: true},
	}
	in := model.Message{ID: "temp-x", Type: "image", Timestamp: 5000}

	got, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want OutcomeAppended", outcome)
	}
	if len(got) != 2 {
		t.Errorf("got %d messages, want 2", len(got))
	}
}

func TestReconcileAppendKeepsOrder(t *testing.T) {
	msgs := []model.Message{
		{ID: "m1", Timestamp: 1000},
		{ID: "m3", Timestamp: 3000},
	}
	in := model.Message{ID: "m2", Timestamp: 2000}

	got, outcome := ReconcileMessage(msgs, in, window)
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want OutcomeAppended", outcome)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Timestamp > got[i].Timestamp {
			t.Fatalf("messages out of order at %d: %d > %d", i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	if got[1].ID != "m2" {
		t.Errorf("middle message = %q, want m2", got[1].ID)
	}
}

func TestReconcileReplacementResorts(t *testing.T) {
	// The confirmed copy carries the authoritative timestamp, which may move
	// the entry relative to its neighbors.
	msgs := []model.Message{
		{ID: "temp-8", TempID: "temp-8", Type: "text", Body: "late", Timestamp: 1000, Status: model.StatusPending, IsOptimistic: true, FromMe: true},
		{ID: "m9", Timestamp: 2000},
	}
	in := model.Message{ID: "srv-8", TempID: "temp-8", Type: "text", Body: "late", Timestamp: 3000, Status: model.StatusSent, FromMe: true}

	got, _ := ReconcileMessage(msgs, in, window)
	if got[len(got)-1].ID != "srv-8" {
		t.Errorf("confirmed message not re-sorted to tail: tail = %q", got[len(got)-1].ID)
	}
}

func TestApplyStatusUpdateByWamID(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A", Status: model.StatusSent},
		{ID: "srv-2", WamID: "wamid.B", Status: model.StatusSent},
	}
	ok := ApplyStatusUpdate(msgs, model.StatusUpdate{WamID: "wamid.B", Status: model.StatusDelivered, DeliveredAt: 5000})
	if !ok {
		t.Fatal("ApplyStatusUpdate() = false, want true")
	}
	if msgs[1].Status != model.StatusDelivered {
		t.Errorf("status = %q, want delivered", msgs[1].Status)
	}
	if msgs[1].DeliveredAt != 5000 {
		t.Errorf("deliveredAt = %d, want 5000", msgs[1].DeliveredAt)
	}
	if msgs[0].Status != model.StatusSent {
		t.Errorf("untargeted message status changed to %q", msgs[0].Status)
	}
}

func TestApplyStatusUpdateByTempID(t *testing.T) {
	msgs := []model.Message{
		{ID: "temp-1", TempID: "temp-1", Status: model.StatusPending, IsOptimistic: true},
	}
	ok := ApplyStatusUpdate(msgs, model.StatusUpdate{TempID: "temp-1", WamID: "wamid.C", Status: model.StatusSent, SentAt: 4000})
	if !ok {
		t.Fatal("ApplyStatusUpdate() = false, want true")
	}
	if msgs[0].Status != model.StatusSent {
		t.Errorf("status = %q, want sent", msgs[0].Status)
	}
	if msgs[0].WamID != "wamid.C" {
		t.Errorf("wamid not adopted: %q", msgs[0].WamID)
	}
}

func TestApplyStatusUpdateSoleCandidate(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A", Status: model.StatusDelivered},
		{ID: "temp-2", TempID: "temp-2", Status: model.StatusPending, IsOptimistic: true},
	}
	ok := ApplyStatusUpdate(msgs, model.StatusUpdate{Status: model.StatusSent})
	if !ok {
		t.Fatal("ApplyStatusUpdate() = false, want true (sole pending candidate)")
	}
	if msgs[1].Status != model.StatusSent {
		t.Errorf("status = %q, want sent", msgs[1].Status)
	}
}

func TestApplyStatusUpdateAmbiguousCandidates(t *testing.T) {
	msgs := []model.Message{
		{ID: "temp-1", TempID: "temp-1", Status: model.StatusPending, IsOptimistic: true},
		{ID: "temp-2", TempID: "temp-2", Status: model.StatusPending, IsOptimistic: true},
	}
	before := append([]model.Message(nil), msgs...)

	if ApplyStatusUpdate(msgs, model.StatusUpdate{Status: model.StatusSent}) {
		t.Fatal("ApplyStatusUpdate() = true, want false (two pending candidates)")
	}
	for i := range msgs {
		if msgs[i].Status != before[i].Status {
			t.Errorf("message %d status changed to %q", i, msgs[i].Status)
		}
	}
}

func TestApplyStatusUpdateNoMatch(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A", Status: model.StatusDelivered},
	}
	if ApplyStatusUpdate(msgs, model.StatusUpdate{WamID: "wamid.ZZ", Status: model.StatusRead}) {
		t.Error("ApplyStatusUpdate() = true, want false (entries are never created)")
	}
}

func TestApplyReactionUpdateUpsert(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A"},
	}
	ok := ApplyReactionUpdate(msgs, model.ReactionUpdate{WamID: "wamid.A", Sender: "contact", Emoji: "❤️", Timestamp: 1000})
	if !ok {
		t.Fatal("ApplyReactionUpdate() = false, want true")
	}
	if msgs[0].Reaction != "❤️" {
		t.Errorf("current reaction = %q, want ❤️", msgs[0].Reaction)
	}

	// Same sender reacts again: record is replaced, not appended.
	ApplyReactionUpdate(msgs, model.ReactionUpdate{WamID: "wamid.A", Sender: "contact", Emoji: "😂", Timestamp: 2000})
	if len(msgs[0].Reactions) != 1 {
		t.Fatalf("got %d reaction records, want 1", len(msgs[0].Reactions))
	}
	if msgs[0].Reaction != "😂" {
		t.Errorf("current reaction = %q, want 😂", msgs[0].Reaction)
	}
}

func TestApplyReactionUpdateRemove(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A", Reaction: "👍", Reactions: []model.Reaction{{Sender: "contact", Emoji: "👍", Timestamp: 1000}}},
	}
	ok := ApplyReactionUpdate(msgs, model.ReactionUpdate{WamID: "wamid.A", Sender: "contact", Remove: true})
	if !ok {
		t.Fatal("ApplyReactionUpdate() = false, want true")
	}
	if len(msgs[0].Reactions) != 0 {
		t.Errorf("got %d reaction records, want 0", len(msgs[0].Reactions))
	}
	if msgs[0].Reaction != "" {
		t.Errorf("current reaction = %q, want empty", msgs[0].Reaction)
	}
}

func TestApplyReactionUpdateLatestWins(t *testing.T) {
	msgs := []model.Message{
		{ID: "srv-1", WamID: "wamid.A"},
	}
	ApplyReactionUpdate(msgs, model.ReactionUpdate{WamID: "wamid.A", Sender: "a", Emoji: "👍", Timestamp: 2000})
	ApplyReactionUpdate(msgs, model.ReactionUpdate{WamID: "wamid.A", Sender: "b", Emoji: "🔥", Timestamp: 1000})

	if len(msgs[0].Reactions) != 2 {
		t.Fatalf("got %d reaction records, want 2", len(msgs[0].Reactions))
	}
	if msgs[0].Reaction != "👍" {
		t.Errorf("current reaction = %q, want 👍 (latest timestamp)", msgs[0].Reaction)
	}
}
