// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package selector

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nvrview/internal/eventloop"
	"github.com/ManuGH/nvrview/internal/resilience"
	"github.com/ManuGH/nvrview/internal/transport"
	"github.com/ManuGH/nvrview/internal/transport/transporttest"
)

type observer struct {
	statuses  []Status
	handles   []transport.MediaHandle
	exhausted []error
}

func (o *observer) OnSelectorStatus(s Status)            { o.statuses = append(o.statuses, s) }
func (o *observer) OnMediaReady(h transport.MediaHandle) { o.handles = append(o.handles, h) }
func (o *observer) OnExhausted(err error)                { o.exhausted = append(o.exhausted, err) }

type harness struct {
	t       *testing.T
	q       *eventloop.Manual
	f       *transporttest.Factory
	obs     *observer
	sel     *Selector
	maxLive int
}

func newHarness(t *testing.T, hint transport.Hint) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		q:   eventloop.NewManual(time.Unix(1700000000, 0)),
		f:   transporttest.NewFactory(),
		obs: &observer{},
	}
	h.sel = New(h.q, Config{
		Camera:    "front_door",
		Hint:      hint,
		Factories: h.f.All(),
		Policy:    resilience.DefaultPolicy(),
		Logger:    zerolog.Nop(),
	}, h.obs)
	return h
}

// run drains the queue and checks the single-live-driver guarantee.
func (h *harness) run() {
	h.q.RunPending()
	h.check()
}

func (h *harness) advance(d time.Duration) {
	h.q.Advance(d)
	h.check()
}

func (h *harness) check() {
	live := h.f.LiveCount()
	if live > h.maxLive {
		h.maxLive = live
	}
	assert.LessOrEqual(h.t, live, 1, "more than one driver live")
}

func (h *harness) fail(kind transport.Kind, c transport.FailureCategory) {
	h.t.Helper()
	d := h.f.Latest(kind)
	require.NotNil(h.t, d, "no %s driver built", kind)
	d.Fail(c, errors.New(string(c)))
	h.run()
}

func TestSelector_RetriesPeerThenAdvances(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()
	assert.Equal(t, 1, h.f.Built(transport.KindPeer))
	assert.Equal(t, PhaseTrying, h.sel.Phase())

	h.fail(transport.KindPeer, transport.SignalingFailed)
	assert.Equal(t, PhaseFailed, h.sel.Phase())
	assert.Equal(t, 2*time.Second, h.sel.Status().RetryIn)
	assert.Equal(t, 1, h.f.Built(transport.KindPeer), "retry must wait for backoff")
	assert.Zero(t, h.f.Built(transport.KindFragmented))

	h.advance(1999 * time.Millisecond)
	assert.Equal(t, 1, h.f.Built(transport.KindPeer))
	h.advance(time.Millisecond)
	assert.Equal(t, 2, h.f.Built(transport.KindPeer))

	h.fail(transport.KindPeer, transport.SignalingFailed)
	assert.Equal(t, 4*time.Second, h.sel.Status().RetryIn)
	h.advance(4 * time.Second)
	assert.Equal(t, 3, h.f.Built(transport.KindPeer))

	h.fail(transport.KindPeer, transport.SignalingFailed)
	assert.Equal(t, 1, h.f.Built(transport.KindFragmented), "third failure advances immediately")
	assert.Equal(t, transport.KindFragmented, h.sel.Status().Kind)

	want := []transport.Kind{transport.KindPeer, transport.KindPeer, transport.KindPeer, transport.KindFragmented}
	if diff := cmp.Diff(want, h.f.Order()); diff != "" {
		t.Errorf("attempt order mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.obs.exhausted)
}

func TestSelector_IncompatibleCodecSkipsPeer(t *testing.T) {
	for _, codec := range []string{"h265", "H.265", "hevc", "HEVC Main"} {
		t.Run(codec, func(t *testing.T) {
			h := newHarness(t, transport.Hint{Codec: codec})
			require.NoError(t, h.sel.Start())
			h.run()
			for i := 0; i < 3; i++ {
				h.fail(transport.KindFragmented, transport.SocketTimeout)
				h.advance(time.Minute)
			}
			for i := 0; i < 3; i++ {
				h.fail(transport.KindSegmented, transport.SocketTimeout)
				h.advance(time.Minute)
			}
			assert.Zero(t, h.f.Built(transport.KindPeer))
			assert.Equal(t, transport.KindFragmented, h.f.Order()[0])
			assert.Equal(t, 1, h.f.Built(transport.KindSnapshot))
		})
	}
}

func TestSelector_CodecUnsupportedAdvancesWithoutRetry(t *testing.T) {
	h := newHarness(t, transport.Hint{Codec: "h264"})
	require.NoError(t, h.sel.Start())
	h.run()

	h.fail(transport.KindPeer, transport.CodecUnsupported)
	assert.Equal(t, 1, h.f.Built(transport.KindFragmented))
	assert.Equal(t, 1, h.f.Built(transport.KindPeer))
	assert.Zero(t, h.sel.Backoff(transport.KindPeer).Failures(), "codec mismatch must not consume a retry")
	assert.Zero(t, h.sel.PendingRetries())
	assert.True(t, h.f.Latest(transport.KindPeer).Disconnected())
}

func TestSelector_ExhaustionIsTerminalAndReportedOnce(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()

	for _, kind := range transport.DefaultOrder {
		for i := 0; i < DefaultRetryBudget; i++ {
			h.fail(kind, transport.SocketTimeout)
			h.advance(30 * time.Second)
		}
	}
	assert.Equal(t, PhaseExhausted, h.sel.Phase())
	require.Len(t, h.obs.exhausted, 1)
	assert.ErrorIs(t, h.obs.exhausted[0], ErrTransportsExhausted)
	assert.Zero(t, h.f.LiveCount())

	built := len(h.f.Order())
	h.advance(time.Hour)
	assert.Len(t, h.f.Order(), built, "no automatic loop back to the first kind")

	// A late event from a dead driver changes nothing.
	h.f.Latest(transport.KindSnapshot).Fail(transport.Unknown, nil)
	h.run()
	assert.Len(t, h.obs.exhausted, 1)
	require.NoError(t, h.sel.Start())
	h.run()
	assert.Len(t, h.f.Order(), built, "Start does not leave Exhausted")

	require.NoError(t, h.sel.Restart())
	h.run()
	assert.Equal(t, PhaseTrying, h.sel.Phase())
	assert.Equal(t, transport.KindPeer, h.f.Order()[built])
	assert.Zero(t, h.sel.Backoff(transport.KindPeer).Failures())

	for _, kind := range transport.DefaultOrder {
		for i := 0; i < DefaultRetryBudget; i++ {
			h.fail(kind, transport.DecodeError)
			h.advance(30 * time.Second)
		}
	}
	assert.Len(t, h.obs.exhausted, 2, "a restarted plan reports its own exhaustion")
}

func TestSelector_SuccessResetsBackoff(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()

	h.fail(transport.KindPeer, transport.SignalingFailed)
	assert.Equal(t, 1, h.sel.Backoff(transport.KindPeer).Failures())
	h.advance(2 * time.Second)

	h.f.Latest(transport.KindPeer).Ready()
	h.run()
	assert.Equal(t, PhaseConnected, h.sel.Phase())
	assert.Zero(t, h.sel.Backoff(transport.KindPeer).Failures())
	require.Len(t, h.obs.handles, 1)
	handle, ok := h.sel.Handle()
	require.True(t, ok)
	assert.Equal(t, transport.KindPeer, handle.Kind)

	// A drop after success starts again from the baseline delay.
	h.fail(transport.KindPeer, transport.SocketTimeout)
	assert.Equal(t, 2*time.Second, h.sel.Status().RetryIn)
	_, ok = h.sel.Handle()
	assert.False(t, ok)
}

func TestSelector_BackoffNonDecreasing(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	h.sel.cfg.RetryBudget = 10
	require.NoError(t, h.sel.Start())
	h.run()

	var last time.Duration
	for i := 0; i < 9; i++ {
		h.fail(transport.KindPeer, transport.SignalingFailed)
		d := h.sel.Status().RetryIn
		assert.GreaterOrEqual(t, d, last)
		assert.LessOrEqual(t, d, resilience.DefaultMaxDelay)
		last = d
		h.advance(d)
	}
	assert.Equal(t, resilience.DefaultPolicy().Delay(9), last)

	// The supervisor's attempt cap ends the kind even under a larger budget.
	h.fail(transport.KindPeer, transport.SignalingFailed)
	assert.Equal(t, transport.KindFragmented, h.sel.Status().Kind)
}

func TestSelector_StaleDriverEventsDiscarded(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()

	first := h.f.Latest(transport.KindPeer)
	h.fail(transport.KindPeer, transport.CodecUnsupported)
	require.Equal(t, 1, h.f.Built(transport.KindFragmented))

	first.Ready()
	h.run()
	assert.Empty(t, h.obs.handles)
	assert.Equal(t, PhaseTrying, h.sel.Phase())
	assert.Equal(t, transport.KindFragmented, h.sel.Status().Kind)
}

func TestSelector_CloseCancelsRetries(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()

	h.fail(transport.KindPeer, transport.SignalingFailed)
	require.Equal(t, 1, h.sel.PendingRetries())

	h.sel.Close()
	assert.Zero(t, h.sel.PendingRetries())
	assert.Zero(t, h.q.PendingTimers())
	h.advance(time.Minute)
	assert.Equal(t, 1, h.f.Built(transport.KindPeer))
	assert.ErrorIs(t, h.sel.Start(), ErrClosed)
}

func TestSelector_HaltKeepsBackoffAndStartResumes(t *testing.T) {
	h := newHarness(t, transport.Hint{})
	require.NoError(t, h.sel.Start())
	h.run()
	h.f.Latest(transport.KindPeer).Ready()
	h.run()
	require.Equal(t, PhaseConnected, h.sel.Phase())

	h.sel.Halt()
	assert.Equal(t, PhaseIdle, h.sel.Phase())
	assert.Zero(t, h.f.LiveCount())

	require.NoError(t, h.sel.Start())
	h.run()
	assert.Equal(t, 2, h.f.Built(transport.KindPeer))
}

func TestSelector_HintSupportedKeepsSnapshot(t *testing.T) {
	h := newHarness(t, transport.Hint{Supported: []transport.Kind{transport.KindSegmented}})
	require.NoError(t, h.sel.Start())
	h.run()
	for i := 0; i < DefaultRetryBudget; i++ {
		h.fail(transport.KindSegmented, transport.SocketTimeout)
		h.advance(time.Minute)
	}
	want := []transport.Kind{transport.KindSegmented, transport.KindSegmented, transport.KindSegmented, transport.KindSnapshot}
	if diff := cmp.Diff(want, h.f.Order()); diff != "" {
		t.Errorf("attempt order mismatch (-want +got):\n%s", diff)
	}
}

func TestSelector_PlayerErrorRoutedToDriver(t *testing.T) {
	h := newHarness(t, transport.Hint{Codec: "hevc"})
	require.NoError(t, h.sel.Start())
	h.run()
	h.f.Latest(transport.KindFragmented).Ready()
	h.run()

	h.sel.ReportPlayerError(errors.New("decoder stalled"))
	h.run()
	assert.Equal(t, PhaseFailed, h.sel.Phase())
	assert.Equal(t, transport.DecodeError, h.sel.Status().Attempt.LastFailure)
	assert.Equal(t, 1, h.sel.PendingRetries())
}

func TestSelector_NoFactories(t *testing.T) {
	obs := &observer{}
	sel := New(eventloop.NewManual(time.Unix(0, 0)), Config{Camera: "x", Logger: zerolog.Nop()}, obs)
	require.NoError(t, sel.Start())
	assert.Equal(t, PhaseExhausted, sel.Phase())
	require.Len(t, obs.exhausted, 1)
	assert.ErrorIs(t, obs.exhausted[0], ErrNoTransports)
}

// TestSelector_RandomFailuresNeverOverlapDrivers drives random failure
// sequences and checks the single-live-driver guarantee after every event.
func TestSelector_RandomFailuresNeverOverlapDrivers(t *testing.T) {
	categories := []transport.FailureCategory{
		transport.SignalingFailed, transport.SocketTimeout, transport.DecodeError,
		transport.Unknown, transport.CodecUnsupported,
	}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		h := newHarness(t, transport.Hint{})
		require.NoError(t, h.sel.Start())
		h.run()
		for step := 0; step < 40 && h.sel.Phase() != PhaseExhausted; step++ {
			kind := h.sel.Status().Kind
			switch rng.Intn(4) {
			case 0:
				h.f.Latest(kind).Ready()
				h.run()
			case 1:
				// Events from an older driver of any kind.
				stale := transport.DefaultOrder[rng.Intn(len(transport.DefaultOrder))]
				if d := h.f.Latest(stale); d != nil && d.Disconnected() {
					d.Fail(transport.SocketTimeout, nil)
					h.run()
				}
			default:
				h.f.Latest(kind).Fail(categories[rng.Intn(len(categories))], nil)
				h.run()
			}
			h.advance(time.Duration(rng.Intn(40)) * time.Second)
		}
		assert.LessOrEqual(t, h.maxLive, 1)
		assert.LessOrEqual(t, len(h.obs.exhausted), 1)
	}
}

func TestPlan(t *testing.T) {
	all := func(transport.Kind) bool { return true }
	tests := []struct {
		name string
		hint transport.Hint
		want []transport.Kind
	}{
		{"default", transport.Hint{}, transport.DefaultOrder},
		{"h264", transport.Hint{Codec: "h264"}, transport.DefaultOrder},
		{"h265", transport.Hint{Codec: "h265"}, []transport.Kind{transport.KindFragmented, transport.KindSegmented, transport.KindSnapshot}},
		{"supported", transport.Hint{Supported: []transport.Kind{transport.KindPeer}}, []transport.Kind{transport.KindPeer, transport.KindSnapshot}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(nil, tt.hint, DefaultPeerIncompatibleCodecs, all)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}

	noPeer := func(k transport.Kind) bool { return k != transport.KindPeer }
	assert.Equal(t, []transport.Kind{transport.KindFragmented, transport.KindSegmented, transport.KindSnapshot},
		Plan(nil, transport.Hint{}, nil, noPeer))
	assert.False(t, PeerIncompatible("", DefaultPeerIncompatibleCodecs))
	assert.True(t, PeerIncompatible("H-265", DefaultPeerIncompatibleCodecs))
}
