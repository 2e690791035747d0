package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScheduler_RunOnce tests the scheduler in run-once mode
func TestScheduler_RunOnce(t *testing.T) {
	logger := log.New()
	callCount := 0

	scheduler := NewScheduler(100*time.Millisecond, true, logger)
	scheduler.RegisterCallback(func() error {
		callCount++
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// In run-once mode, the callback should be called exactly once immediately
	assert.Equal(t, 1, callCount)

	// Wait a bit to make sure no more calls happen
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, callCount, "Expected callback to be called exactly once")
}

// TestScheduler_RunOncePropagatesError tests that a failing run surfaces
// its error from Start in run-once mode
func TestScheduler_RunOncePropagatesError(t *testing.T) {
	scheduler := NewScheduler(0, true, log.New())
	wantErr := errors.New("pipeline failed")
	scheduler.RegisterCallback(func() error { return wantErr })

	err := scheduler.Start(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

// TestScheduler_Periodic tests the scheduler in periodic mode
func TestScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	expectedCalls := 3

	scheduler := NewScheduler(10*time.Millisecond, false, log.New())
	scheduler.RegisterCallback(func() error {
		callChan <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// Wait for the expected number of calls (first one is immediate)
	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for callback call %d", i+1)
		}
	}

	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, scheduler.WaitForShutdown(shutdownCtx))
}

// TestScheduler_RequiresCallback tests that Start fails without a callback
func TestScheduler_RequiresCallback(t *testing.T) {
	scheduler := NewScheduler(time.Second, true, log.New())
	err := scheduler.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback must be registered")
}

// TestScheduler_StopIdempotent tests that stopping twice is harmless
func TestScheduler_StopIdempotent(t *testing.T) {
	scheduler := NewScheduler(time.Hour, false, log.New())
	scheduler.RegisterCallback(func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.Stop())
}

// TestScheduler_ContextCancellation tests that a cancelled context stops
// the periodic goroutine
func TestScheduler_ContextCancellation(t *testing.T) {
	scheduler := NewScheduler(10*time.Millisecond, false, log.New())
	scheduler.RegisterCallback(func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, scheduler.WaitForShutdown(shutdownCtx))
}
