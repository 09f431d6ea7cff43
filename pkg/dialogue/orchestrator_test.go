package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/turnkit/pkg/ai/llm/fake"
	"github.com/chriscow/turnkit/pkg/align"
	"github.com/chriscow/turnkit/pkg/generate"
	"github.com/chriscow/turnkit/pkg/iu"
	"github.com/chriscow/turnkit/pkg/memory"
	"github.com/chriscow/turnkit/pkg/pattern"
)

const waitTimeout = 2 * time.Second

type harness struct {
	o      *Orchestrator
	model  *fake.FakeModel
	runErr chan error
	buf    iu.Buffer
}

func newHarness(t *testing.T, model *fake.FakeModel, memCfg memory.Config, mutate ...func(*Config)) *harness {
	t.Helper()

	if memCfg.Budget == 0 {
		memCfg.Budget = 2000
	}
	if memCfg.SystemPrompt == "" {
		memCfg.SystemPrompt = "You are a patient teacher."
	}
	mem, err := memory.New(model, memory.DefaultTemplate(), memCfg)
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}
	matcher, err := pattern.NewMatcher(pattern.DefaultConfig(), model)
	if err != nil {
		t.Fatalf("pattern.NewMatcher() error = %v", err)
	}
	gen, err := generate.New(model, matcher, generate.Config{})
	if err != nil {
		t.Fatalf("generate.New() error = %v", err)
	}
	aligner, err := align.New(model, matcher, align.Config{AgentRole: "Teacher :"})
	if err != nil {
		t.Fatalf("align.New() error = %v", err)
	}

	cfg := Config{Generator: gen, Memory: mem, Matcher: matcher, Aligner: aligner}
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{o: o, model: model, runErr: make(chan error, 1)}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.runErr <- h.o.Run(ctx) }()
}

func (h *harness) result(t *testing.T) TurnResult {
	t.Helper()
	select {
	case res := <-h.o.Results():
		return res
	case err := <-h.runErr:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a turn result")
	}
	return TurnResult{}
}

func (h *harness) update(t *testing.T) iu.UpdateMessage {
	t.Helper()
	select {
	case msg := <-h.o.Updates():
		h.buf.Apply(msg)
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an update")
	}
	return iu.UpdateMessage{}
}

// drain applies every update already queued.
func (h *harness) drain() []iu.UpdateMessage {
	var msgs []iu.UpdateMessage
	for {
		select {
		case msg := <-h.o.Updates():
			h.buf.Apply(msg)
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func roles(turns []memory.Utterance) []memory.Role {
	out := make([]memory.Role, len(turns))
	for i, u := range turns {
		out[i] = u.Role
	}
	return out
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for empty config")
	}
}

func TestOrchestrator_CompletedTurn(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Hi there, friend."}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello!"))
	res := h.result(t)
	h.drain()

	is.NoErr(res.Err)
	is.Equal(res.Reason, generate.ReasonStopToken)
	is.Equal(res.UserTurnID, 1)
	is.Equal(res.TurnID, 2)
	is.Equal(res.Text, "Teacher : Hi there, friend.")

	is.Equal(h.buf.Text(), " Hi there, friend.")          // role label revoked
	is.Equal(h.buf.CommittedText(), " Hi there, friend.") // everything committed at the end
	is.True(h.buf.Final())

	turns := h.o.Memory().Turns()
	is.Equal(roles(turns), []memory.Role{memory.RoleSystem, memory.RoleUser, memory.RoleAgent})
	is.Equal(turns[1].Text, "Child : Hello!\n\n")
	is.Equal(turns[2].Body, "Teacher : Hi there, friend.")
	is.Equal(h.o.GetState(), StateIdle)

	prompt := h.model.Prompts()[0]
	is.True(strings.HasSuffix(prompt, "Child : Hello!\n\n [/INST]")) // generation prompt ends with the template end
}

func TestOrchestrator_IUPositionsAndGrounding(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Hi there, friend."}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello!"))
	h.result(t)
	msgs := h.drain()

	var added []iu.IU
	for _, msg := range msgs {
		for _, up := range msg.Updates {
			if up.Action == iu.Added && !up.IU.Final {
				added = append(added, up.IU)
			}
		}
	}
	// "Teacher" is added then revoked; the rest carries clause positions.
	is.Equal(len(added), 6)
	is.Equal(added[1].Payload, " Hi")
	is.Equal(added[1].Position, iu.Position{TurnID: 2, ClauseID: 0, CharID: 0})
	is.Equal(added[2].Position, iu.Position{TurnID: 2, ClauseID: 0, CharID: 3})
	is.Equal(added[4].Payload, " friend")
	is.Equal(added[4].Position, iu.Position{TurnID: 2, ClauseID: 1, CharID: 0})

	last := msgs[len(msgs)-1].Updates
	final := last[len(last)-1].IU
	is.True(final.Final)
	chain := h.o.Arena().Chain(final.ID)
	root := chain[len(chain)-1]
	is.Equal(root.Producer, "user") // grounding leads back to the user turn
	is.Equal(root.Payload, " Hello!")
	is.Equal(chain[len(chain)-2].Payload, " Hi") // the revoked role label is skipped
}

func TestOrchestrator_StopPattern(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Bye now.\nChild : more"}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Bye!"))
	res := h.result(t)
	h.drain()

	is.NoErr(res.Err)
	is.Equal(res.Reason, generate.ReasonStopPattern)
	is.Equal(res.Text, "Teacher : Bye now.")
	is.Equal(res.Tokens, 7) // 5 generated tokens plus the "\n\n" agent suffix
	is.Equal(h.buf.Text(), " Bye now.") // "Child" and the newline were revoked
	is.True(h.buf.Final())

	agent, ok := h.o.Memory().Turn(res.TurnID)
	is.True(ok)
	is.Equal(agent.Text, "Teacher : Bye now.\n\n")
}

func TestOrchestrator_InterruptWithMarker(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Hi there, I can help you today."}, fake.WithGate(gate)), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Can you help?"))
	for i := 0; i < 7; i++ { // Teacher, " :", " Hi", " there", ",", " I", " can"
		gate <- struct{}{}
		h.update(t)
	}
	is.Equal(h.o.GetState(), StateGenerating)
	is.Equal(h.buf.Text(), " Hi there, I can")

	h.o.ReportPlayback(Marker{TurnID: 2, ClauseID: 1, CharID: 5})
	h.o.Interrupt()

	res := h.result(t)
	h.drain()

	is.NoErr(res.Err)
	is.Equal(res.Reason, generate.ReasonInterrupted)
	is.True(res.Aligned)
	is.True(!res.Pending)
	is.Equal(res.Text, "Teacher : Hi there, I can")
	is.Equal(h.buf.Text(), " Hi there,") // the open clause was revoked
	is.True(h.buf.Final())

	agent, ok := h.o.Memory().Turn(2)
	is.True(ok)
	is.Equal(agent.Body, "Teacher : Hi there, I can")
	is.Equal(h.o.Metrics().Alignments.Value(), int64(1))
}

func TestOrchestrator_LateMarkerResolvesPendingTurn(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Hi there, I can help you today."}, fake.WithGate(gate)), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Can you help?"))
	for i := 0; i < 5; i++ {
		gate <- struct{}{}
		h.update(t)
	}
	h.o.Interrupt()

	res := h.result(t)
	is.True(res.Pending)
	is.Equal(res.Text, "Teacher : Hi there,")
	is.True(h.o.HasPendingAlignment())
	_, stored := h.o.Memory().Turn(2)
	is.True(!stored) // not in memory until aligned

	h.o.ReportPlayback(Marker{TurnID: 2, ClauseID: 0, CharID: 2, Final: true})
	time.Sleep(20 * time.Millisecond)
	is.True(h.o.HasPendingAlignment()) // final markers are ignored

	h.o.ReportPlayback(Marker{TurnID: 2, ClauseID: 0, CharID: 2})
	aligned := h.result(t)
	is.True(aligned.Aligned)
	is.Equal(aligned.TurnID, 2)
	is.Equal(aligned.Text, "Teacher : Hi")
	is.True(!h.o.HasPendingAlignment())
}

func TestOrchestrator_PendingTurnFlushedOnNextUserTurn(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{
		"Teacher : Hi there, I can help you today.",
		"Teacher : Sure.",
	}, fake.WithGate(gate))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Can you help?"))
	for i := 0; i < 6; i++ { // up to " I"
		gate <- struct{}{}
		h.update(t)
	}
	h.o.Interrupt()
	is.True(h.result(t).Pending)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-done:
				return
			}
		}
	}()

	is.NoErr(h.o.SubmitUserTurn(" Wait."))
	flushed := h.result(t)
	is.True(flushed.Aligned)
	is.Equal(flushed.Text, "Teacher : Hi there,") // truncated to committed clauses

	next := h.result(t)
	is.NoErr(next.Err)
	is.Equal(next.Text, "Teacher : Sure.")

	turns := h.o.Memory().Turns()
	is.Equal(roles(turns), []memory.Role{
		memory.RoleSystem, memory.RoleUser, memory.RoleAgent, memory.RoleUser, memory.RoleAgent,
	})
	is.Equal(turns[2].ID, 2)
	is.True(strings.Contains(model.Prompts()[1], "Teacher : Hi there,\n\nChild : Wait.")) // aligned turn reached the next prompt
}

func addedIUs(msgs []iu.UpdateMessage) map[string]iu.IU {
	added := make(map[string]iu.IU)
	for _, msg := range msgs {
		for _, up := range msg.Updates {
			if up.Action == iu.Added && !up.IU.Final {
				added[up.IU.Payload] = up.IU
			}
		}
	}
	return added
}

func TestOrchestrator_AdjacentPunctuationClauseIDs(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Really?! Yes, ok then."}, fake.WithGate(gate)), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Is it?"))
	var msgs []iu.UpdateMessage
	for i := 0; i < 8; i++ { // Teacher, " :", " Really", "?", "!", " Yes", ",", " ok"
		gate <- struct{}{}
		msgs = append(msgs, h.update(t))
	}
	added := addedIUs(msgs)
	is.Equal(added["!"].Position.ClauseID, 1)    // every punctuation token closes a clause
	is.Equal(added[" Yes"].Position.ClauseID, 2) // so " Yes" is the third clause
	is.Equal(added[" ok"].Position.ClauseID, 3)

	h.o.ReportPlayback(Marker{TurnID: 2, ClauseID: 2, CharID: 3})
	h.o.Interrupt()

	res := h.result(t)
	h.drain()
	is.NoErr(res.Err)
	is.True(res.Aligned)
	is.Equal(res.Text, "Teacher : Really?! Yes") // " ok" was never played
	is.Equal(h.buf.Text(), " Really?! Yes,")
}

func TestOrchestrator_AdjacentPunctuationFlush(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{"Teacher : Really?! Yes, ok then.", "Teacher : Ok."}, fake.WithGate(gate))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Is it?"))
	for i := 0; i < 8; i++ {
		gate <- struct{}{}
		h.update(t)
	}
	h.o.Interrupt()
	is.True(h.result(t).Pending)
	h.drain()
	heard := h.buf.Text()
	is.Equal(heard, " Really?! Yes,")

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-done:
				return
			}
		}
	}()

	is.NoErr(h.o.SubmitUserTurn(" Hm."))
	flushed := h.result(t)
	is.True(flushed.Aligned)
	is.Equal(flushed.Text, "Teacher :"+heard) // memory matches the committed IUs

	agent, ok := h.o.Memory().Turn(2)
	is.True(ok)
	is.Equal(agent.Body, "Teacher : Really?! Yes,")
}

func TestOrchestrator_MarkerFollowsStreamedClauses(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Wow ! Yes, ok then."}, fake.WithGate(gate)), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Look."))
	var msgs []iu.UpdateMessage
	for i := 0; i < 7; i++ { // Teacher, " :", " Wow", " !", " Yes", ",", " ok"
		gate <- struct{}{}
		msgs = append(msgs, h.update(t))
	}
	// " !" is not a punctuation token, so no clause ends after it.
	is.Equal(addedIUs(msgs)[" ok"].Position, iu.Position{TurnID: 2, ClauseID: 1, CharID: 0})

	h.o.ReportPlayback(Marker{TurnID: 2, ClauseID: 1, CharID: 2})
	h.o.Interrupt()

	res := h.result(t)
	is.True(res.Aligned)
	is.Equal(res.Text, "Teacher : Wow ! Yes, ok")
}

func TestOrchestrator_MarkerForCommittedTurnFollowsStreamedClauses(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Wow ! Yes, ok then."}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Look."))
	res := h.result(t)
	is.Equal(res.Text, "Teacher : Wow ! Yes, ok then.")

	h.o.ReportPlayback(Marker{TurnID: res.TurnID, ClauseID: 1, CharID: 2})
	aligned := h.result(t)
	is.True(aligned.Aligned)
	is.Equal(aligned.Text, "Teacher : Wow ! Yes, ok")

	// A second marker is resolved against the aligned layout.
	h.o.ReportPlayback(Marker{TurnID: res.TurnID, ClauseID: 0, CharID: 3})
	again := h.result(t)
	is.Equal(again.Text, "Teacher : Wow")
}

func TestOrchestrator_MarkerForEarlierTurnDuringInterrupt(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{"Teacher : Hi there, friend.", "Teacher : Sure, let me see."}, fake.WithGate(gate))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello"))
	for i := 0; i < 8; i++ { // seven pieces and EOS
		gate <- struct{}{}
	}
	first := h.result(t)
	is.Equal(first.Text, "Teacher : Hi there, friend.")

	is.NoErr(h.o.SubmitUserTurn(" Help?"))
	for i := 0; i < 4; i++ { // Teacher, " :", " Sure", ","
		gate <- struct{}{}
	}
	h.o.ReportPlayback(Marker{TurnID: first.TurnID, ClauseID: 0, CharID: 2})
	h.o.Interrupt()

	aligned := h.result(t)
	is.True(aligned.Aligned)
	is.Equal(aligned.TurnID, first.TurnID)
	is.Equal(aligned.Text, "Teacher : Hi")

	pending := h.result(t)
	is.True(pending.Pending)
	is.Equal(pending.TurnID, 4)
	is.True(h.o.HasPendingAlignment())

	agent, _ := h.o.Memory().Turn(first.TurnID)
	is.Equal(agent.Body, "Teacher : Hi")
}

func TestOrchestrator_StopPatternAfterSpace(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Bye now. Child : more"}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Bye!"))
	res := h.result(t)
	h.drain()

	is.NoErr(res.Err)
	is.Equal(res.Reason, generate.ReasonStopPattern)
	is.Equal(h.buf.Text(), " Bye now.") // " Child" was revoked with its space
	is.Equal(res.Text, "Teacher : Bye now.")
	is.Equal(res.Tokens, 7)

	agent, _ := h.o.Memory().Turn(res.TurnID)
	is.Equal(agent.Body, "Teacher :"+h.buf.Text())
}

func TestOrchestrator_InterruptWithoutCommittedClauseIsDropped(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{"Teacher : Hi there.", "Teacher : Ok."}, fake.WithGate(gate))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hi"))
	for i := 0; i < 3; i++ {
		gate <- struct{}{}
		h.update(t)
	}
	h.o.Interrupt()
	is.True(h.result(t).Pending)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-done:
				return
			}
		}
	}()

	is.NoErr(h.o.SubmitUserTurn(" Again"))
	res := h.result(t)
	is.Equal(res.Text, "Teacher : Ok.") // nothing was heard, so no agent turn was stored

	turns := h.o.Memory().Turns()
	is.Equal(roles(turns), []memory.Role{memory.RoleSystem, memory.RoleUser, memory.RoleUser, memory.RoleAgent})
}

func TestOrchestrator_AtMostOneGeneration(t *testing.T) {
	is := is.New(t)
	gate := make(chan struct{})
	model := fake.NewFakeModel([]string{"Teacher : One.", "Teacher : Two."}, fake.WithGate(gate))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" first"))
	is.NoErr(h.o.SubmitUserTurn(" second"))

	gate <- struct{}{}
	h.update(t)
	is.Equal(model.CallCount(), 1) // the second turn waits for the first to finish
	is.Equal(h.o.GetState(), StateGenerating)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-done:
				return
			}
		}
	}()

	first := h.result(t)
	second := h.result(t)
	is.Equal(first.Text, "Teacher : One.")
	is.Equal(second.Text, "Teacher : Two.")
	is.Equal(second.UserTurnID, first.TurnID+1)
	is.Equal(model.CallCount(), 2)
	is.True(strings.Contains(model.Prompts()[1], "Teacher : One.")) // second prompt sees the finished first turn
}

func TestOrchestrator_SubmitUserTurn(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel(nil), memory.Config{}, func(c *Config) { c.QueueSize = 1 })

	is.True(errors.Is(h.o.SubmitUserTurn("   "), ErrEmptyTurn))
	is.NoErr(h.o.SubmitUserTurn("one"))
	is.True(errors.Is(h.o.SubmitUserTurn("two"), ErrQueueFull)) // worker not running, queue saturated
}

func TestOrchestrator_GeneratorFailureIsTurnLevel(t *testing.T) {
	is := is.New(t)
	boom := errors.New("boom")
	model := fake.NewFakeModel([]string{"Teacher : Hi there, friend."}, fake.WithFailure(4, boom))
	h := newHarness(t, model, memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello"))
	res := h.result(t)
	h.drain()

	is.True(errors.Is(res.Err, boom))
	is.Equal(h.buf.Text(), "") // the open clause was revoked
	is.True(h.buf.Final())
	is.Equal(h.o.GetState(), StateIdle)
	is.Equal(roles(h.o.Memory().Turns()), []memory.Role{memory.RoleSystem, memory.RoleUser})

	is.NoErr(h.o.SubmitUserTurn(" Still there?"))
	res = h.result(t)
	is.True(errors.Is(res.Err, boom)) // the loop keeps serving turns
}

func TestOrchestrator_BudgetExceededIsFatal(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel(nil), memory.Config{Budget: 5})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello"))
	select {
	case err := <-h.runErr:
		is.True(errors.Is(err, memory.ErrBudgetExceeded))
	case <-time.After(waitTimeout):
		t.Fatal("Run did not stop")
	}
	is.Equal(h.o.GetState(), StateIdle)
}

func TestOrchestrator_TurnTooLarge(t *testing.T) {
	is := is.New(t)
	model := fake.NewFakeModel(nil)
	sysTokens := len(fake.Split(memory.DefaultTemplate().System("S")))
	h := newHarness(t, model, memory.Config{Budget: sysTokens + 10, SystemPrompt: "S"})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(strings.Repeat(" word", 20)))
	res := h.result(t)
	is.True(errors.Is(res.Err, memory.ErrTurnTooLarge))
	is.Equal(len(h.o.Memory().Turns()), 1) // oversized turn removed
	is.Equal(model.CallCount(), 0)
}

func TestOrchestrator_MarkerForCommittedTurn(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Hi there, friend."}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello"))
	res := h.result(t)

	h.o.ReportPlayback(Marker{TurnID: res.TurnID, ClauseID: 0, CharID: 2})
	aligned := h.result(t)
	is.True(aligned.Aligned)
	is.Equal(aligned.Text, "Teacher : Hi")

	agent, _ := h.o.Memory().Turn(res.TurnID)
	is.Equal(agent.Text, "Teacher : Hi\n\n")
}

func TestOrchestrator_MarkerForUnknownTurnIsNoop(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Ok."}), memory.Config{})
	h.start(t)

	h.o.ReportPlayback(Marker{TurnID: 42, ClauseID: 0, CharID: 1})
	is.NoErr(h.o.SubmitUserTurn(" Hello"))

	res := h.result(t)
	is.True(!res.Aligned) // the marker produced no result of its own
	is.Equal(res.Text, "Teacher : Ok.")
}

func TestOrchestrator_StateTransitionsAreCounted(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel([]string{"Teacher : Ok."}), memory.Config{})
	h.start(t)

	is.NoErr(h.o.SubmitUserTurn(" Hello"))
	h.result(t)

	m := h.o.Metrics()
	for _, key := range []string{
		"Idle_to_UserTurnPending",
		"UserTurnPending_to_Generating",
		"Generating_to_Completed",
		"Completed_to_Idle",
	} {
		is.True(m.StateTransitions.Get(key) != nil) // transition recorded
	}
	is.True(m.Turns.Get("stop_token") != nil)
}

func TestOrchestrator_RunTwice(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, fake.NewFakeModel(nil), memory.Config{})
	h.start(t)

	time.Sleep(10 * time.Millisecond)
	is.True(errors.Is(h.o.Run(context.Background()), ErrAlreadyRunning))
	is.NoErr(h.o.Close())
}

func TestState_String(t *testing.T) {
	is := is.New(t)
	is.Equal(StateUserTurnPending.String(), "UserTurnPending")
	is.Equal(StateInterrupted.String(), "Interrupted")
	is.Equal(State(9).String(), "Unknown(9)")
}
