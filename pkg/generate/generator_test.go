package generate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/turnkit/pkg/ai"
	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/ai/llm/fake"
	"github.com/chriscow/turnkit/pkg/pattern"
)

type interruptFunc func() bool

func (f interruptFunc) Interrupted() bool { return f() }

type flag struct{ v atomic.Bool }

func (f *flag) Interrupted() bool { return f.v.Load() }

func newGenerator(t *testing.T, model *fake.FakeModel, cfg Config) *Generator {
	t.Helper()
	m, err := pattern.NewMatcher(pattern.DefaultConfig(), model)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	g, err := New(model, m, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func drain(t *testing.T, run *Run) []Increment {
	t.Helper()
	var incs []Increment
	for run.Next() {
		incs = append(incs, run.Increment())
	}
	return incs
}

func texts(incs []Increment) []string {
	out := make([]string, len(incs))
	for i, inc := range incs {
		out[i] = inc.Text
	}
	return out
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(nil, pattern.NewMatcherWithPatterns(nil, nil, nil), Config{}); err == nil {
		t.Error("Expected error for missing model")
	}
	if _, err := New(fake.NewFakeModel(nil), nil, Config{}); err == nil {
		t.Error("Expected error for missing matcher")
	}
}

func TestRun_StopToken(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Teacher : Hi there, friend."})
	g := newGenerator(t, model, Config{})

	run, err := g.Start(context.Background(), "prompt", nil)
	is.NoErr(err)
	incs := drain(t, run)

	is.Equal(strings.Join(texts(incs), "|"), "Teacher| :| Hi| there|,| friend|.")
	is.True(incs[1].RolePattern != nil)               // role detected when "Teacher :" completes
	is.Equal(incs[1].RolePattern.Text, "Teacher :")
	is.True(incs[2].RolePattern == nil)               // reported once only
	is.True(incs[4].IsPunctuation && incs[6].IsPunctuation)
	is.True(!incs[1].IsPunctuation)                   // " :" is not a punctuation literal

	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonStopToken)
	is.Equal(res.Text, "Teacher : Hi there, friend.")
	is.Equal(res.Tokens, 7) // end-of-sequence is not counted
}

func TestRun_StopPatternIsNotForwarded(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Sure.\nChild : more"})
	g := newGenerator(t, model, Config{})

	run, err := g.Start(context.Background(), "prompt", nil)
	is.NoErr(err)
	incs := drain(t, run)

	is.Equal(strings.Join(texts(incs), "|"), "Sure|.|\n|Child")

	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonStopPattern)
	is.Equal(res.StopPattern.Text, "Child :")
	is.Equal(res.Trigger, " :")
	is.Equal(res.Text, "Sure.\nChild :")
	is.Equal(model.CallCount(), 1)
}

func TestRun_InterruptionWinsOverStopPattern(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Sure.\nChild : more"})
	g := newGenerator(t, model, Config{})

	var run *Run
	intr := interruptFunc(func() bool {
		return run != nil && strings.HasSuffix(run.Text(), "Child :")
	})
	run, err := g.Start(context.Background(), "prompt", intr)
	is.NoErr(err)
	drain(t, run)

	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonInterrupted) // same step: interruption has priority
	is.True(res.StopPattern == nil)
}

func TestRun_StopTokenLiteralAddsNoText(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Ok Child:"})
	g := newGenerator(t, model, Config{StopTokens: []string{":"}})

	run, err := g.Start(context.Background(), "prompt", nil)
	is.NoErr(err)
	drain(t, run)

	res, _ := run.Result()
	is.Equal(res.Reason, ReasonStopToken) // ":" never reaches the text, so no stop pattern forms
	is.Equal(res.Text, "Ok Child")

	model = fake.NewFakeModel([]string{"Ok Child:"})
	g = newGenerator(t, model, Config{})
	run, _ = g.Start(context.Background(), "prompt", nil)
	drain(t, run)
	res, _ = run.Result()
	is.Equal(res.Reason, ReasonStopPattern)
}

func TestRun_StopTokenLiteral(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Hi bye now"})
	g := newGenerator(t, model, Config{StopTokens: []string{" bye"}})

	run, _ := g.Start(context.Background(), "prompt", nil)
	incs := drain(t, run)

	res, err := run.Result()
	is.NoErr(err)
	is.Equal(len(incs), 1)
	is.Equal(res.Reason, ReasonStopToken)
	is.Equal(res.Text, "Hi")
	is.Equal(res.Trigger, " bye")
}

func TestRun_MaxTokens(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"a b c d"})
	g := newGenerator(t, model, Config{MaxTokens: 2})

	run, _ := g.Start(context.Background(), "prompt", nil)
	incs := drain(t, run)

	res, _ := run.Result()
	is.Equal(len(incs), 2)
	is.Equal(res.Reason, ReasonMaxTokens)
	is.Equal(res.Text, "a b")
}

func TestRun_EndOfStreamIsStopToken(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Hello."}, fake.WithoutEOS())
	g := newGenerator(t, model, Config{})

	run, _ := g.Start(context.Background(), "prompt", nil)
	drain(t, run)

	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonStopToken)
	is.Equal(res.Text, "Hello.")
}

func TestRun_StreamError(t *testing.T) {
	is := is.New(t)
	boom := errors.New("boom")
	model := fake.NewFakeModel([]string{"a b c"}, fake.WithFailure(1, boom))
	g := newGenerator(t, model, Config{})

	run, _ := g.Start(context.Background(), "prompt", nil)
	incs := drain(t, run)

	res, err := run.Result()
	is.True(errors.Is(err, boom))
	is.Equal(res.Reason, ReasonNone)
	is.Equal(len(incs), 1)
}

func TestRun_InterruptedBeforeFirstToken(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Hello there."})
	g := newGenerator(t, model, Config{})

	f := &flag{}
	f.v.Store(true)
	run, _ := g.Start(context.Background(), "prompt", f)

	is.True(!run.Next())
	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonInterrupted)
	is.Equal(res.Tokens, 0)
}

func TestRun_InterruptUnblocksPendingToken(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{"Hello there."}, fake.WithGate(gate))
	g := newGenerator(t, model, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &flag{}
	run, err := g.Start(ctx, "prompt", f)
	is.NoErr(err)

	go func() { gate <- struct{}{} }()
	is.True(run.Next())
	is.Equal(run.Increment().Text, "Hello")

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.v.Store(true)
		cancel()
	}()

	is.True(!run.Next()) // blocked on the gate until the context is cancelled
	res, err := run.Result()
	is.NoErr(err)
	is.Equal(res.Reason, ReasonInterrupted)
	is.Equal(res.Text, "Hello")
}

func TestStart_PassesSamplingThrough(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel([]string{"Hi."})
	params := llm.SamplingParams{TopK: 7, TopP: 0.5, Temperature: 0.3, RepeatPenalty: 1.3}
	g := newGenerator(t, model, Config{Sampling: params})

	run, err := g.Start(context.Background(), "[INST] hello [/INST]", nil)
	is.NoErr(err)
	drain(t, run)

	is.Equal(model.Params()[0], params)
	is.Equal(model.Prompts()[0], "[INST] hello [/INST]")
}

func TestStart_RetriesRecoverableOpen(t *testing.T) {
	is := is.New(t)
	warming := ai.NewRecoverableError(errors.New("503"), "server warming up")
	model := fake.NewFakeModel([]string{"Hi."}, fake.WithOpenErrors(warming))
	g := newGenerator(t, model, Config{Retry: ai.RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2,
	}})

	run, err := g.Start(context.Background(), "prompt", nil)
	is.NoErr(err)
	drain(t, run)
	is.Equal(len(model.Prompts()), 2) // one failed attempt, one success

	fatal := ai.NewFatalError(errors.New("400"), "bad prompt")
	model = fake.NewFakeModel([]string{"Hi."}, fake.WithOpenErrors(fatal))
	g = newGenerator(t, model, Config{Retry: ai.DefaultRetryConfig})
	_, err = g.Start(context.Background(), "prompt", nil)
	is.True(ai.IsFatal(err)) // fatal errors are not retried
	is.Equal(len(model.Prompts()), 1)
}

func TestReason_String(t *testing.T) {
	is := is.New(t)
	is.Equal(ReasonInterrupted.String(), "interrupted")
	is.Equal(ReasonStopPattern.String(), "stop_pattern")
	is.Equal(ReasonStopToken.String(), "stop_token")
	is.Equal(Reason(99).String(), "Unknown(99)")
}
