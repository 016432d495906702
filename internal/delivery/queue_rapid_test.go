package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"sm/internal/model"
)

// TestProperty_TryDeliverIsFIFOWithinMode checks the invariant from spec.md
// §5 ("deliveries are FIFO by queued_at within each mode class"): however
// many sequential messages get queued, TryDeliver writes them to the
// terminal driver in the same order they were queued.
func TestProperty_TryDeliverIsFIFOWithinMode(t *testing.T) {
	outer := t
	rapid.Check(t, func(t *rapid.T) {
		eng, reg, drv, _ := newTestEngine(outer)
		target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
		require.NoError(t, err)

		n := rapid.IntRange(0, 20).Draw(t, "n")
		texts := make([]string, n)
		for i := range texts {
			texts[i] = rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "text") + "-" + string(rune('a'+i%26))
			_, err := eng.QueueMessage(context.Background(), QueueRequest{
				Target: target.ID, Text: texts[i], Mode: model.ModeSequential,
			})
			require.NoError(t, err)
		}

		require.NoError(t, eng.TryDeliver(context.Background(), target.ID, false))

		sent := drv.history(target.WindowName)
		require.Equal(t, texts, sent)
	})
}

// TestProperty_SkipFenceLeavesIsIdleUnchanged checks the invariant from
// spec.md §8: "After mark_session_idle consumes a non-zero
// stop_notify_skip_count, is_idle is unchanged from before the call." It
// also checks the counter never goes negative and is cleared once it hits
// zero, for any sequence of Stop-hook arrivals inside or outside the fence
// window.
func TestProperty_SkipFenceLeavesIsIdleUnchanged(t *testing.T) {
	outer := t
	rapid.Check(t, func(t *rapid.T) {
		eng, reg, _, _ := newTestEngine(outer)
		target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
		require.NoError(t, err)

		startCount := rapid.IntRange(0, 5).Draw(t, "startCount")
		startIdle := rapid.Bool().Draw(t, "startIdle")

		st := eng.states.state(target.ID)
		st.mu.Lock()
		st.skipCount = startCount
		if startCount > 0 {
			st.skipArmedAt = time.Now()
		}
		st.isIdle = startIdle
		st.mu.Unlock()

		calls := rapid.IntRange(0, 8).Draw(t, "calls")
		for i := 0; i < calls; i++ {
			before := eng.IsIdle(target.ID)

			st.mu.Lock()
			consumedFence := st.skipFenceActive(time.Now(), eng.cfg.SkipFenceWindow)
			st.mu.Unlock()

			require.NoError(t, eng.MarkSessionIdle(context.Background(), target.ID, true))

			after := eng.IsIdle(target.ID)
			if consumedFence {
				require.Equal(t, before, after,
					"is_idle changed across a call that consumed the skip fence")
			}

			st.mu.Lock()
			require.GreaterOrEqual(t, st.skipCount, 0, "skip count went negative")
			if st.skipCount == 0 {
				require.True(t, st.skipArmedAt.IsZero(), "skip count hit zero but skipArmedAt wasn't cleared")
			}
			st.mu.Unlock()
		}
	})
}

// TestProperty_PasteBufferedPromotionKeepsLastSender checks the documented
// resolution of the Open Question in spec.md §9: when notify_on_stop is
// armed more than once against a mid-turn (non-idle) target before any
// Stop arrives, the paste-buffered slot holds single-slot-overwrite-with-
// last semantics — whichever arm call happened last is what eventually
// promotes into stop_notify_sender on the next idle transition.
func TestProperty_PasteBufferedPromotionKeepsLastSender(t *testing.T) {
	outer := t
	rapid.Check(t, func(t *rapid.T) {
		eng, reg, _, _ := newTestEngine(outer)
		target, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
		require.NoError(t, err)
		sender, err := reg.CreateSession(context.Background(), "/tmp", model.ProviderClaude, "", "")
		require.NoError(t, err)

		st := eng.states.state(target.ID)
		st.mu.Lock()
		st.isIdle = false
		st.mu.Unlock()

		n := rapid.IntRange(1, 10).Draw(t, "n")
		var lastID string
		for i := 0; i < n; i++ {
			id := sender.ID + "-" + string(rune('a'+i%26))
			eng.ArmStopNotify(target.ID, id, "sender")
			lastID = id
		}

		st.mu.Lock()
		require.Equal(t, lastID, st.pasteBufferedSenderID)
		require.Empty(t, st.stopNotifySenderID)
		st.mu.Unlock()

		require.NoError(t, eng.MarkSessionIdle(context.Background(), target.ID, true))

		st.mu.Lock()
		defer st.mu.Unlock()
		require.Empty(t, st.pasteBufferedSenderID, "paste-buffered slot should be promoted, not left set")
		require.Equal(t, lastID, st.stopNotifySenderID)
	})
}
