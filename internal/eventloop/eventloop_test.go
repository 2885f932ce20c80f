// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Post(wg.Done)
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}

	l.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.False(t, l.Post(func() {}))
}

func TestLoop_TimerStopPreventsExecution(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	defer func() {
		cancel()
		<-l.Done()
	}()

	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	assert.True(t, tm.Active())
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop(), "second stop is a no-op")

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(80 * time.Millisecond):
	}

	tm2 := l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, tm2.Stop())
}

func TestLoop_Do(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	cancel()
	<-l.Done()
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}

func TestManual_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	var at []time.Time
	m.AfterFunc(3*time.Second, func() { order = append(order, "c"); at = append(at, m.Now()) })
	m.AfterFunc(1*time.Second, func() {
		order = append(order, "a")
		at = append(at, m.Now())
		m.Post(func() { order = append(order, "a-post") })
	})
	cancelled := m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	assert.Equal(t, 3, m.PendingTimers())
	cancelled.Stop()
	assert.Equal(t, 2, m.PendingTimers())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "a-post"}, order)
	assert.Equal(t, start.Add(2*time.Second), m.Now())

	m.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "a-post", "c"}, order)
	assert.Equal(t, []time.Time{start.Add(time.Second), start.Add(3 * time.Second)}, at)
	assert.Equal(t, 0, m.PendingTimers())
}
