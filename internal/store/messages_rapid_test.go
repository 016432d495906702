package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"sm/internal/model"
)

// TestProperty_PendingMessagesFIFOByQueuedAt checks the invariant from
// spec.md §5 ("deliveries are FIFO by queued_at within each mode class")
// at the storage layer: however many messages get enqueued in whatever
// order, PendingMessagesFor always returns them sorted by queued_at.
func TestProperty_PendingMessagesFIFOByQueuedAt(t *testing.T) {
	outer := t
	rapid.Check(t, func(t *rapid.T) {
		s := openTestStore(outer)
		sess := model.NewSession("rapid001", model.ProviderClaude, "/tmp")
		require.NoError(t, s.UpsertSession(sess))

		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		n := rapid.IntRange(0, 30).Draw(t, "n")

		offsets := make([]int, n)
		for i := range offsets {
			offsets[i] = rapid.IntRange(0, 10_000).Draw(t, "offset")
		}

		for i, off := range offsets {
			m := &model.QueuedMessage{
				ID:       rapid.StringMatching(`[a-z]{8}`).Draw(t, "id") + "-" + string(rune('a'+i%26)),
				Target:   sess.ID,
				Text:     "msg",
				Mode:     model.ModeSequential,
				QueuedAt: base.Add(time.Duration(off) * time.Millisecond),
			}
			require.NoError(t, s.EnqueueMessage(m))
		}

		pending, err := s.PendingMessagesFor(sess.ID, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, pending, n)

		for i := 1; i < len(pending); i++ {
			require.False(t, pending[i].QueuedAt.Before(pending[i-1].QueuedAt),
				"message %d (queued_at=%s) sorted before %d (queued_at=%s)",
				i, pending[i].QueuedAt, i-1, pending[i-1].QueuedAt)
		}
	})
}
