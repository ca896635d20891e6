package requester

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/perminder-klair/apple-watch-notes/core/correlation"
	"github.com/perminder-klair/apple-watch-notes/core/dto"
	"github.com/perminder-klair/apple-watch-notes/core/engine"
	"github.com/perminder-klair/apple-watch-notes/core/responder"
	"github.com/perminder-klair/apple-watch-notes/core/status"
	"github.com/perminder-klair/apple-watch-notes/io/transport"
	"github.com/perminder-klair/apple-watch-notes/mocks"
)

// testPeers is a full two-device stack over the in-memory channel.
type testPeers struct {
	watchSide *transport.MemMessenger
	phoneSide *transport.MemMessenger
	requester *Requester
}

func newAdapter(t *testing.T, m transport.PeerMessenger, opts ...transport.Option) *transport.Adapter {
	t.Helper()

	outbox, err := transport.OpenOutbox(filepath.Join(t.TempDir(), "outbox"))
	require.NoError(t, err)
	t.Cleanup(func() { outbox.Close() })

	adapter := transport.NewAdapter(m, outbox, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, adapter.Activate(ctx))
	return adapter
}

// startPeers wires a requester on the watch side and a responder with
// the given engines (plus availability broadcaster) on the phone side.
func startPeers(t *testing.T, summarizer engine.Summarizer, transcriber engine.Transcriber, ttl time.Duration, watchOpts ...transport.Option) *testPeers {
	t.Helper()

	watchSide, phoneSide := transport.NewMemPair()
	watch := newAdapter(t, watchSide, watchOpts...)
	phone := newAdapter(t, phoneSide)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req := New(watch, correlation.NewTracker(), ttl)
	go req.Run(ctx)

	broadcaster := status.New(phone, status.EngineProber(summarizer, transcriber))
	resp := responder.New(phone, correlation.NewInFlight(), summarizer, transcriber,
		responder.WithStatusNotifier(broadcaster))
	go resp.Run(ctx)

	return &testPeers{watchSide: watchSide, phoneSide: phoneSide, requester: req}
}

func waitCapability(t *testing.T, r *Requester) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.PeerStatus().CapabilityAvailable
	}, 2*time.Second, 10*time.Millisecond, "capability broadcast never arrived")
}

func readySummarizer(ctrl *gomock.Controller) *mocks.MockSummarizer {
	s := mocks.NewMockSummarizer(ctrl)
	s.EXPECT().Ready().Return(true, "ready").AnyTimes()
	return s
}

func readyTranscriber(ctrl *gomock.Controller) *mocks.MockTranscriber {
	tr := mocks.NewMockTranscriber(ctrl)
	tr.EXPECT().Ready().Return(true, "ready").AnyTimes()
	return tr
}

func TestRequestSummary_EndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	content := strings.Repeat("note text ", 8) // 80 chars
	summarizer := readySummarizer(ctrl)
	summarizer.EXPECT().Summarize(gomock.Any(), content).Return("condensed", nil)

	peers := startPeers(t, summarizer, readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	done := make(chan dto.Completion, 1)
	unsubscribe := peers.requester.Subscribe(func(c dto.Completion) { done <- c })
	defer unsubscribe()

	id, err := peers.requester.RequestSummary(context.Background(), "note-1", content)
	require.NoError(t, err)
	require.True(t, peers.requester.IsPending(id))

	select {
	case c := <-done:
		require.Equal(t, id, c.RequestID)
		require.Equal(t, dto.KindSummary, c.Kind)
		require.NoError(t, c.Err)
		require.Equal(t, "condensed", c.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("summary completion never arrived")
	}

	require.False(t, peers.requester.IsPending(id))
}

func TestRequestTranscription_LargePayloadEmptyResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	audio := make([]byte, 2*1024*1024)
	transcriber := readyTranscriber(ctrl)
	transcriber.EXPECT().
		Transcribe(gomock.Any(), audio).
		Return("", engine.NewError(engine.CodeEmptyResult, "recognizer produced empty text"))

	// a tight transient ceiling forces the audio through the file side
	// channel
	peers := startPeers(t, readySummarizer(ctrl), transcriber, 0, transport.WithTransientLimit(16*1024))

	done := make(chan dto.Completion, 1)
	unsubscribe := peers.requester.Subscribe(func(c dto.Completion) { done <- c })
	defer unsubscribe()

	id, err := peers.requester.RequestTranscription(context.Background(), "clip-1", audio)
	require.NoError(t, err)

	select {
	case c := <-done:
		require.Equal(t, id, c.RequestID)
		require.Equal(t, dto.KindTranscription, c.Kind)
		require.Error(t, c.Err)
		require.Equal(t, engine.CodeEmptyResult, engine.CodeOf(c.Err, ""))
	case <-time.After(2 * time.Second):
		t.Fatal("transcription completion never arrived")
	}
}

func TestRequestSummary_RejectsTooShortLocally(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// engines carry no Summarize expectation: any outbound send would
	// reach the responder and fail the controller
	peers := startPeers(t, readySummarizer(ctrl), readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	_, err := peers.requester.RequestSummary(context.Background(), "note-1", "too short")
	require.ErrorIs(t, err, dto.ErrContentTooShort)
	time.Sleep(100 * time.Millisecond) // would surface a stray send
}

func TestRequestSummary_RejectsWhenUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	peers := startPeers(t, readySummarizer(ctrl), readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	peers.watchSide.SetReachable(false)

	_, err := peers.requester.RequestSummary(context.Background(), "note-1", strings.Repeat("x", 80))
	require.ErrorIs(t, err, dto.ErrPeerUnreachable)

	_, err = peers.requester.RequestTranscription(context.Background(), "clip-1", []byte{1})
	require.ErrorIs(t, err, dto.ErrPeerUnreachable)
}

func TestRequestSummary_RejectsWithoutCapability(t *testing.T) {
	watchSide, _ := transport.NewMemPair()
	watch := newAdapter(t, watchSide)

	// no responder on the phone side, so no status-update ever arrives
	req := New(watch, correlation.NewTracker(), 0)

	_, err := req.RequestSummary(context.Background(), "note-1", strings.Repeat("x", 80))
	require.ErrorIs(t, err, dto.ErrCapabilityUnavailable)
}

func TestRequester_DuplicateResponseResolvesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	content := strings.Repeat("note text ", 8)
	summarizer := readySummarizer(ctrl)
	summarizer.EXPECT().Summarize(gomock.Any(), gomock.Any()).Return("condensed", nil)

	peers := startPeers(t, summarizer, readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	// every phone->watch delivery now arrives twice, on top of the
	// durable+transient duplication of the reliable response path
	peers.phoneSide.SetDuplicate(true)

	var mu sync.Mutex
	var completions []dto.Completion
	unsubscribe := peers.requester.Subscribe(func(c dto.Completion) {
		mu.Lock()
		completions = append(completions, c)
		mu.Unlock()
	})
	defer unsubscribe()

	id, err := peers.requester.RequestSummary(context.Background(), "note-1", content)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completions) > 0
	}, 2*time.Second, 10*time.Millisecond)

	// allow any duplicate copies to arrive, then assert a single resolve
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completions, 1)
	require.Equal(t, id, completions[0].RequestID)
	require.False(t, peers.requester.IsPending(id))
}

func TestRequester_UnsubscribedSurfaceGetsNoCallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	summarizer := readySummarizer(ctrl)
	summarizer.EXPECT().Summarize(gomock.Any(), gomock.Any()).Return("condensed", nil)

	peers := startPeers(t, summarizer, readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	kept := make(chan dto.Completion, 1)
	keepSub := peers.requester.Subscribe(func(c dto.Completion) { kept <- c })
	defer keepSub()

	tornDown := make(chan dto.Completion, 1)
	dropSub := peers.requester.Subscribe(func(c dto.Completion) { tornDown <- c })
	dropSub() // surface torn down before the response arrives

	_, err := peers.requester.RequestSummary(context.Background(), "note-1", strings.Repeat("x", 80))
	require.NoError(t, err)

	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("kept subscriber never completed")
	}

	select {
	case <-tornDown:
		t.Fatal("torn-down surface received a completion")
	default:
	}
}

func TestRequester_SendFailureResolvesWithTransportError(t *testing.T) {
	watchSide, _ := transport.NewMemPair()
	watch := newAdapter(t, watchSide)

	req := New(watch, correlation.NewTracker(), 0)

	done := make(chan dto.Completion, 1)
	unsubscribe := req.Subscribe(func(c dto.Completion) { done <- c })
	defer unsubscribe()

	// reachable at the precondition check, gone at hand-off
	watchSide.Close()

	id, err := req.RequestTranscription(context.Background(), "clip-1", []byte{1, 2, 3})
	require.NoError(t, err)

	select {
	case c := <-done:
		require.Equal(t, id, c.RequestID)
		require.ErrorIs(t, c.Err, dto.ErrSendFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("send-failure completion never arrived")
	}
	require.False(t, req.IsPending(id))
}

func TestRequester_TTLResolvesStuckRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	peers := startPeers(t, readySummarizer(ctrl), readyTranscriber(ctrl), 50*time.Millisecond)

	// requests are handed to the transport but never delivered
	peers.watchSide.SetDrop(true)

	done := make(chan dto.Completion, 1)
	unsubscribe := peers.requester.Subscribe(func(c dto.Completion) { done <- c })
	defer unsubscribe()

	id, err := peers.requester.RequestTranscription(context.Background(), "clip-1", []byte{1})
	require.NoError(t, err)

	select {
	case c := <-done:
		require.Equal(t, id, c.RequestID)
		require.ErrorIs(t, c.Err, dto.ErrRequestTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout completion never arrived")
	}
	require.False(t, peers.requester.IsPending(id))
}

func TestRequester_TracksConnectionState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	peers := startPeers(t, readySummarizer(ctrl), readyTranscriber(ctrl), 0)
	waitCapability(t, peers.requester)

	// the status broadcast is evidence the peer app is installed
	require.Eventually(t, func() bool {
		return peers.requester.ConnectionState().PeerAppInstalled
	}, 2*time.Second, 10*time.Millisecond)

	peers.watchSide.SetReachable(false)
	require.Eventually(t, func() bool {
		return !peers.requester.ConnectionState().PeerReachable
	}, 2*time.Second, 10*time.Millisecond)

	peers.watchSide.SetPaired(false)
	require.Eventually(t, func() bool {
		return !peers.requester.ConnectionState().PeerPaired
	}, 2*time.Second, 10*time.Millisecond)
}
