package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/client"
	"boardsync/domain"
)

func newTestLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

// flakyAPI fails the first failures attempts with a transient error.
type flakyAPI struct {
	fakeAPI
	failures int
	attempts int
	attemptM sync.Mutex
}

func (f *flakyAPI) UpdateEntity(ctx context.Context, entityType, id string, patch domain.Patch, idempotencyKey string, force bool) (json.RawMessage, error) {
	f.attemptM.Lock()
	f.attempts++
	n := f.attempts
	f.attemptM.Unlock()
	if n <= f.failures {
		return nil, &client.TransientError{Status: 503}
	}
	return nil, nil
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	api := &flakyAPI{failures: 2}

	var mu sync.Mutex
	var gotAttempts int
	var gotErr error
	done := make(chan struct{})
	d := newDispatcher(dispatcherConfig{
		workers:      1,
		retryInitial: time.Millisecond,
		retryMax:     5 * time.Millisecond,
		maxAttempts:  4,
	}, api, newTestLogger(), func(opID string, raw json.RawMessage, attempts int, err error) {
		mu.Lock()
		gotAttempts = attempts
		gotErr = err
		mu.Unlock()
		close(done)
	})
	d.start()
	defer d.stop()

	d.dispatch(dispatchJob{opID: "op1", kind: opUpdate, entityType: domain.EntityTask, entityID: "t1"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch never completed")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Fatalf("expected eventual success, got %v", gotErr)
	}
	if gotAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", gotAttempts)
	}
}

func TestDispatcherStopsRetryingAtAttemptCap(t *testing.T) {
	api := &flakyAPI{failures: 100}

	var mu sync.Mutex
	var gotAttempts int
	var gotErr error
	done := make(chan struct{})
	d := newDispatcher(dispatcherConfig{
		workers:      1,
		retryInitial: time.Millisecond,
		retryMax:     5 * time.Millisecond,
		maxAttempts:  3,
	}, api, newTestLogger(), func(opID string, raw json.RawMessage, attempts int, err error) {
		mu.Lock()
		gotAttempts = attempts
		gotErr = err
		mu.Unlock()
		close(done)
	})
	d.start()
	defer d.stop()

	d.dispatch(dispatchJob{opID: "op1", kind: opUpdate, entityType: domain.EntityTask, entityID: "t1"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch never completed")
	}
	mu.Lock()
	defer mu.Unlock()
	if !client.IsRetryable(gotErr) {
		t.Fatalf("expected the transient error to surface, got %v", gotErr)
	}
	if gotAttempts != 3 {
		t.Fatalf("expected the attempt cap, got %d attempts", gotAttempts)
	}
}

func TestDispatcherDoesNotRetryValidationErrors(t *testing.T) {
	api := &fakeAPI{updateErr: &client.ValidationError{Status: 400, Message: "nope"}}

	done := make(chan int, 1)
	d := newDispatcher(dispatcherConfig{
		workers:      1,
		retryInitial: time.Millisecond,
		maxAttempts:  5,
	}, api, newTestLogger(), func(opID string, raw json.RawMessage, attempts int, err error) {
		done <- attempts
	})
	d.start()
	defer d.stop()

	d.dispatch(dispatchJob{opID: "op1", kind: opUpdate, entityType: domain.EntityTask, entityID: "t1"})

	select {
	case attempts := <-done:
		if attempts != 1 {
			t.Fatalf("validation error retried, %d attempts", attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch never completed")
	}
}

func TestExponentialBackoffBounds(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := exponentialBackoff(attempt, initial, max)
		if d < 0 {
			t.Fatalf("attempt %d produced negative delay %v", attempt, d)
		}
		// Jitter is at most 20% above the capped base.
		if limit := time.Duration(float64(max) * 1.2); d > limit {
			t.Fatalf("attempt %d delay %v exceeds jittered cap %v", attempt, d, limit)
		}
	}
	if d := exponentialBackoff(1, initial, max); d > time.Duration(float64(initial)*1.2) {
		t.Fatalf("first attempt delay %v exceeds jittered initial", d)
	}
}
