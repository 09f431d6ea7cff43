// Package fake provides a scripted end-of-utterance detector.
package fake

import (
	"context"
	"sync"

	"github.com/chriscow/turnkit/pkg/turn"
)

// FakeTurnDetector returns scripted probabilities in order, repeating the
// last one, and records every context it scores.
type FakeTurnDetector struct {
	mu            sync.Mutex
	probabilities []float64
	threshold     float64
	err           error
	calls         []turn.ChatContext
}

// NewFakeTurnDetector creates a detector with threshold 0.85 that always
// predicts 0.85.
func NewFakeTurnDetector() *FakeTurnDetector {
	return NewFakeTurnDetectorWithValues(0.85, 0.85)
}

// NewFakeTurnDetectorWithValues creates a detector returning probability.
func NewFakeTurnDetectorWithValues(probability, threshold float64) *FakeTurnDetector {
	return &FakeTurnDetector{probabilities: []float64{probability}, threshold: threshold}
}

// Script replaces the probabilities returned by successive predictions.
func (f *FakeTurnDetector) Script(probabilities ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probabilities = probabilities
}

// FailWith makes predictions return err.
func (f *FakeTurnDetector) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the contexts scored so far.
func (f *FakeTurnDetector) Calls() []turn.ChatContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turn.ChatContext(nil), f.calls...)
}

// UnlikelyThreshold implements turn.Detector.
func (f *FakeTurnDetector) UnlikelyThreshold(language string) (float64, error) {
	return f.threshold, nil
}

// SupportsLanguage implements turn.Detector.
func (f *FakeTurnDetector) SupportsLanguage(language string) bool {
	return true
}

// PredictEndOfTurn implements turn.Detector.
func (f *FakeTurnDetector) PredictEndOfTurn(ctx context.Context, chatCtx turn.ChatContext) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCtx)
	if f.err != nil {
		return 0, f.err
	}
	p := f.probabilities[0]
	if len(f.probabilities) > 1 {
		f.probabilities = f.probabilities[1:]
	}
	return p, nil
}
