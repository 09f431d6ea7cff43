package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

var fastRetry = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  time.Millisecond,
	MaxDelay:      2 * time.Millisecond,
	BackoffFactor: 2,
}

func TestClassification(t *testing.T) {
	is := is.New(t)
	cause := errors.New("connection refused")

	rec := NewRecoverableError(cause, "open stream")
	is.True(IsRecoverable(rec))
	is.True(!IsFatal(rec))
	is.True(errors.Is(rec, cause)) // the cause stays reachable
	is.Equal(rec.Error(), "open stream: connection refused")

	fatal := NewFatalError(cause, "")
	is.True(IsFatal(fatal))
	is.True(!IsRecoverable(fatal))
	is.Equal(fatal.Error(), "connection refused")

	is.True(!IsRecoverable(cause))
}

func TestRetry(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", nil, 1, nil},
		{"recovers", []error{NewRecoverableError(boom, ""), NewRecoverableError(boom, "")}, 3, nil},
		{"fatal stops", []error{NewFatalError(boom, "")}, 1, ErrFatal},
		{"unclassified stops", []error{boom}, 1, boom},
		{"budget spent", []error{
			NewRecoverableError(boom, ""), NewRecoverableError(boom, ""),
			NewRecoverableError(boom, ""), NewRecoverableError(boom, ""),
			NewRecoverableError(boom, ""),
		}, 4, ErrRecoverable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			calls := 0
			err := Retry(context.Background(), fastRetry, func(context.Context) error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			})
			is.Equal(calls, tt.wantCalls)
			if tt.wantErr == nil {
				is.NoErr(err)
				return
			}
			is.True(errors.Is(err, tt.wantErr))
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry
	cfg.InitialDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func(context.Context) error {
			calls++
			return NewRecoverableError(errors.New("busy"), "")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Retry() error = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancel")
	}
}
