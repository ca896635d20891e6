package transport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perminder-klair/apple-watch-notes/core/envelope"
)

func newTestAdapter(t *testing.T, m PeerMessenger, opts ...Option) *Adapter {
	t.Helper()

	outbox, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox"))
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })

	adapter := NewAdapter(m, outbox, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, adapter.Activate(ctx))
	return adapter
}

func waitMessage(t *testing.T, events <-chan Event) envelope.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if msg, ok := ev.(MessageEvent); ok {
				return msg.Envelope
			}
		case <-deadline:
			t.Fatal("no message event arrived")
		}
	}
}

func TestAdapter_TransientDelivery(t *testing.T) {
	watchSide, phoneSide := NewMemPair()
	watch := newTestAdapter(t, watchSide)
	phone := newTestAdapter(t, phoneSide)

	env := envelope.NewSummarizeRequest("req-1", "some content worth summarizing for sure", time.Now())
	require.NoError(t, watch.SendTransient(context.Background(), env))

	got := waitMessage(t, phone.Events())
	require.Equal(t, env, got)
}

func TestAdapter_TransientRejectsWhenUnreachable(t *testing.T) {
	watchSide, _ := NewMemPair()
	watch := newTestAdapter(t, watchSide)

	watchSide.SetReachable(false)

	env := envelope.NewStatusUpdate(true, "ready", time.Now())
	require.ErrorIs(t, watch.SendTransient(context.Background(), env), ErrNotReachable)
}

func TestAdapter_TransientRejectsOversizedPayload(t *testing.T) {
	watchSide, _ := NewMemPair()
	watch := newTestAdapter(t, watchSide, WithTransientLimit(128))

	audio := make([]byte, 2*1024*1024)
	env := envelope.NewTranscribeRequest("req-1", audio, time.Now())
	require.ErrorIs(t, watch.SendTransient(context.Background(), env), ErrPayloadTooLarge)
}

func TestAdapter_LargePayloadCopiedBeforeCallbackReturns(t *testing.T) {
	watchSide, phoneSide := NewMemPair()
	watch := newTestAdapter(t, watchSide, WithTransientLimit(128))
	phone := newTestAdapter(t, phoneSide)

	audio := make([]byte, 2*1024*1024)
	for i := range audio {
		audio[i] = byte(i)
	}
	env := envelope.NewTranscribeRequest("req-1", audio, time.Now())
	require.NoError(t, watch.SendLargePayload(context.Background(), env))

	// the backing file is deleted as soon as the delivery callback
	// returns; an intact envelope proves the body was copied in time
	got := waitMessage(t, phone.Events())
	req, ok := got.Payload.(envelope.TranscribeRequest)
	require.True(t, ok)
	require.Equal(t, audio, req.Audio)
}

func TestAdapter_DurableDeliversAfterReachabilityRegained(t *testing.T) {
	watchSide, phoneSide := NewMemPair()
	watch := newTestAdapter(t, watchSide)
	phone := newTestAdapter(t, phoneSide)

	watchSide.SetReachable(false)

	env := envelope.NewSummarizeResult("req-1", "the summary", time.Now())
	require.NoError(t, watch.SendDurable(context.Background(), env))

	// nothing can arrive while unreachable
	select {
	case ev := <-phone.Events():
		if _, ok := ev.(MessageEvent); ok {
			t.Fatal("message delivered while unreachable")
		}
	case <-time.After(100 * time.Millisecond):
	}

	watchSide.SetReachable(true)

	got := waitMessage(t, phone.Events())
	require.Equal(t, env, got)
}

func TestAdapter_ReliableDeliversDuplicates(t *testing.T) {
	watchSide, phoneSide := NewMemPair()
	watch := newTestAdapter(t, watchSide)
	phone := newTestAdapter(t, phoneSide)

	env := envelope.NewSummarizeResult("req-1", "the summary", time.Now())
	require.NoError(t, watch.SendReliable(context.Background(), env))

	// durable and transient copies both arrive; receivers dedup by id
	first := waitMessage(t, phone.Events())
	second := waitMessage(t, phone.Events())
	require.Equal(t, env, first)
	require.Equal(t, env, second)
}

func TestAdapter_MalformedInboundIsDropped(t *testing.T) {
	watchSide, phoneSide := NewMemPair()
	phone := newTestAdapter(t, phoneSide)

	require.NoError(t, watchSide.SendMessage(context.Background(), []byte("not an envelope")))

	valid := envelope.NewStatusUpdate(true, "ready", time.Now())
	data, err := envelope.Encode(valid)
	require.NoError(t, err)
	require.NoError(t, watchSide.SendMessage(context.Background(), data))

	// only the valid envelope surfaces
	got := waitMessage(t, phone.Events())
	require.Equal(t, valid, got)
}

func TestAdapter_ReachabilityEvents(t *testing.T) {
	watchSide, _ := NewMemPair()
	watch := newTestAdapter(t, watchSide)

	watchSide.SetReachable(false)

	select {
	case ev := <-watch.Events():
		re, ok := ev.(ReachabilityEvent)
		require.True(t, ok)
		require.False(t, re.Reachable)
	case <-time.After(2 * time.Second):
		t.Fatal("no reachability event")
	}
}
