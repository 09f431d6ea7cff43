package turn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/turn"
	"github.com/chriscow/turnkit/pkg/turn/fake"
)

type submissions struct {
	mu    sync.Mutex
	texts []string
	ch    chan string
}

func newSubmissions() *submissions {
	return &submissions{ch: make(chan string, 8)}
}

func (s *submissions) submit(text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.ch <- text
	return nil
}

func (s *submissions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func TestNewGate_RequiresSubmit(t *testing.T) {
	if _, err := turn.NewGate(turn.GateConfig{}); err == nil {
		t.Error("Expected error without Submit")
	}
}

func TestGate_CommitsJoinedOnEnd(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit, MaxWait: time.Hour})
	is.NoErr(err)
	defer g.Close()
	ctx := context.Background()

	is.NoErr(g.Handle(ctx, turn.SegmentAdd, "what is"))
	is.Equal(g.Partial(), "what is")
	is.NoErr(g.Handle(ctx, turn.SegmentCommit, "What is"))
	is.Equal(g.Partial(), "") // commit clears the hypothesis
	is.NoErr(g.Handle(ctx, turn.SegmentRevoke, ""))
	is.NoErr(g.Handle(ctx, turn.SegmentCommit, " a fox? "))
	is.Equal(g.Pending(), "What is a fox?")
	is.Equal(subs.count(), 0) // held until the utterance ends

	is.NoErr(g.Handle(ctx, turn.SegmentEnd, ""))
	is.Equal(<-subs.ch, "What is a fox?")
	is.Equal(g.Pending(), "")
}

func TestGate_AddsAreNotSubmitted(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit})
	is.NoErr(err)
	defer g.Close()

	is.NoErr(g.Handle(context.Background(), turn.SegmentAdd, "hello"))
	is.NoErr(g.Handle(context.Background(), turn.SegmentEnd, ""))
	is.Equal(subs.count(), 0) // hypotheses never form a turn
}

func TestGate_MaxWaitReleasesTurn(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit, MaxWait: 10 * time.Millisecond})
	is.NoErr(err)
	defer g.Close()

	is.NoErr(g.Handle(context.Background(), turn.SegmentCommit, "Hello"))
	select {
	case text := <-subs.ch:
		is.Equal(text, "Hello")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for held turn")
	}
}

func TestGate_DetectorReleasesConfidentTurn(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	det := fake.NewFakeTurnDetectorWithValues(0.2, 0.5)
	det.Script(0.2, 0.9)
	history := []llm.Message{{Role: llm.RoleAssistant, Content: "Hi."}}

	g, err := turn.NewGate(turn.GateConfig{
		Submit:   subs.submit,
		Detector: det,
		Language: "en-US",
		MaxWait:  time.Hour,
		History:  func() []llm.Message { return history },
	})
	is.NoErr(err)
	defer g.Close()
	ctx := context.Background()

	is.NoErr(g.Handle(ctx, turn.SegmentCommit, "I think"))
	is.Equal(subs.count(), 0) // 0.2 is below the threshold

	is.NoErr(g.Handle(ctx, turn.SegmentCommit, "it is blue."))
	is.Equal(<-subs.ch, "I think it is blue.")

	calls := det.Calls()
	is.Equal(len(calls), 2)
	is.Equal(calls[1].Language, "en-US")
	is.Equal(len(calls[1].Messages), 2)
	is.Equal(calls[1].Messages[1].Content, "I think it is blue.")
	is.Equal(calls[1].Messages[1].Role, llm.RoleUser)
}

func TestGate_ThresholdOverride(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	det := fake.NewFakeTurnDetectorWithValues(0.6, 0.9)
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit, Detector: det, Threshold: 0.5, MaxWait: time.Hour})
	is.NoErr(err)
	defer g.Close()

	is.NoErr(g.Handle(context.Background(), turn.SegmentCommit, "Done."))
	is.Equal(<-subs.ch, "Done.")
}

func TestGate_DetectorFailureFallsBackToTimer(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	det := fake.NewFakeTurnDetector()
	det.FailWith(errors.New("no model"))
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit, Detector: det, MaxWait: 10 * time.Millisecond})
	is.NoErr(err)
	defer g.Close()

	is.NoErr(g.Handle(context.Background(), turn.SegmentCommit, "Hello"))
	select {
	case text := <-subs.ch:
		is.Equal(text, "Hello")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for held turn")
	}
}

func TestGate_UnknownAction(t *testing.T) {
	is := is.New(t)
	g, err := turn.NewGate(turn.GateConfig{Submit: newSubmissions().submit})
	is.NoErr(err)
	err = g.Handle(context.Background(), "shout", "hi")
	is.True(errors.Is(err, turn.ErrUnknownAction))
}

func TestGate_CloseDropsPending(t *testing.T) {
	is := is.New(t)
	subs := newSubmissions()
	g, err := turn.NewGate(turn.GateConfig{Submit: subs.submit, MaxWait: 10 * time.Millisecond})
	is.NoErr(err)

	is.NoErr(g.Handle(context.Background(), turn.SegmentCommit, "Hello"))
	g.Close()
	time.Sleep(30 * time.Millisecond)
	is.Equal(subs.count(), 0)
	is.NoErr(g.Handle(context.Background(), turn.SegmentCommit, "again"))
	is.Equal(g.Pending(), "") // closed gate ignores segments
}
