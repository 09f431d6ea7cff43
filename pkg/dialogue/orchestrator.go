// Package dialogue implements the turn orchestrator: a single worker that
// takes committed user turns, runs at most one generation at a time and turns
// its increments into IU update messages, following the state machine
// Idle → UserTurnPending → Generating → {Completed, Interrupted} → Idle.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/chriscow/turnkit/pkg/align"
	"github.com/chriscow/turnkit/pkg/generate"
	"github.com/chriscow/turnkit/pkg/iu"
	"github.com/chriscow/turnkit/pkg/memory"
	"github.com/chriscow/turnkit/pkg/pattern"
)

var (
	// ErrUnknownTerminalReason means a generation ended for a reason the
	// orchestrator cannot resolve. Run returns it.
	ErrUnknownTerminalReason = errors.New("unknown terminal reason")
	// ErrQueueFull is returned by SubmitUserTurn when the queue is saturated.
	ErrQueueFull = errors.New("user turn queue is full")
	// ErrEmptyTurn is returned by SubmitUserTurn for blank text.
	ErrEmptyTurn = errors.New("user turn is empty")
	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("orchestrator is already running")
)

// Marker is a playback position reported when the agent's speech was cut
// short. A marker with Final set means the turn was played completely.
type Marker = align.Marker

const (
	defaultProducer  = "turnkit"
	defaultQueueSize = 4
	userProducer     = "user"
)

// TurnResult reports the outcome of a generated turn, or the later alignment
// of an interrupted one.
type TurnResult struct {
	TurnID     int
	UserTurnID int
	Reason     generate.Reason
	// Text is what the memory holds for the turn, or the raw generated text
	// while Pending.
	Text   string
	Tokens int
	// Pending is set for interrupted turns waiting for a playback marker.
	Pending bool
	// Aligned is set when Text was truncated to a playback marker.
	Aligned  bool
	Duration time.Duration
	Err      error
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Generator *generate.Generator
	Memory    *memory.Memory
	Matcher   *pattern.Matcher
	Aligner   *align.Aligner

	// Producer names the agent IUs. Defaults to "turnkit".
	Producer string
	// QueueSize bounds the user turns waiting for the worker.
	QueueSize int
	Recorder  Recorder
	Logger    *slog.Logger
}

// Orchestrator owns the dialogue memory and the IU arena. Only the goroutine
// running Run touches them; every other method is safe for concurrent use.
type Orchestrator struct {
	gen      *generate.Generator
	mem      *memory.Memory
	matcher  *pattern.Matcher
	aligner  *align.Aligner
	arena    *iu.Arena
	producer string
	recorder Recorder
	logger   *slog.Logger
	metrics  *Metrics

	state       atomic.Int32
	running     atomic.Bool
	interrupted atomic.Bool
	hasPending  atomic.Bool

	userTurns    chan userTurn
	updates      chan iu.UpdateMessage
	results      chan TurnResult
	shutdown     chan struct{}
	shutdownOnce sync.Once

	cancelMu  sync.Mutex
	cancelGen context.CancelFunc

	markerMu   sync.Mutex
	marker     *Marker
	markerWake chan struct{}

	pending *candidate
	// layouts holds the streamed clause boundaries of stored agent turns,
	// which playback markers refer to.
	layouts map[int]align.Layout
}

type userTurn struct {
	text string
	at   time.Time
}

// candidate is an interrupted generation waiting to be aligned.
type candidate struct {
	turnID     int
	userTurnID int
	body       string
	clauses    int
	layout     align.Layout
	started    time.Time
}

// turn is the per-generation bookkeeping, dropped on return to idle.
type turn struct {
	id      int
	userID  int
	userIU  iu.ID
	last    iu.ID
	units   []unit
	clause  int
	char    int
	offset  int
	// base is where clause text starts in the generated text; ends are the
	// offsets right after every committed punctuation token.
	base    int
	ends    []int
	started time.Time

	firstClause bool
	msg         iu.UpdateMessage
}

// unit is a forwarded IU and the byte offset of its payload in the
// generated text.
type unit struct {
	iu    iu.IU
	start int
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory is required")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if cfg.Aligner == nil {
		return nil, fmt.Errorf("aligner is required")
	}

	producer := cfg.Producer
	if producer == "" {
		producer = defaultProducer
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		gen:        cfg.Generator,
		mem:        cfg.Memory,
		matcher:    cfg.Matcher,
		aligner:    cfg.Aligner,
		arena:      iu.NewArena(),
		producer:   producer,
		recorder:   recorder,
		logger:     logger,
		metrics:    newMetrics(),
		userTurns:  make(chan userTurn, queue),
		updates:    make(chan iu.UpdateMessage, 64),
		results:    make(chan TurnResult, 16),
		shutdown:   make(chan struct{}),
		markerWake: make(chan struct{}, 1),
		layouts:    make(map[int]align.Layout),
	}
	o.setState(StateIdle)
	return o, nil
}

// Updates streams the IU update messages of every turn, in order.
func (o *Orchestrator) Updates() <-chan iu.UpdateMessage {
	return o.updates
}

// Results streams one TurnResult per user turn, plus one per late alignment.
func (o *Orchestrator) Results() <-chan TurnResult {
	return o.results
}

// Metrics returns the orchestrator's expvar metrics.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Memory returns the dialogue memory the orchestrator appends to.
func (o *Orchestrator) Memory() *memory.Memory {
	return o.mem
}

// Arena returns the arena holding every IU produced so far.
func (o *Orchestrator) Arena() *iu.Arena {
	return o.arena
}

// GetState returns the current state.
func (o *Orchestrator) GetState() State {
	return State(o.state.Load())
}

// HasPendingAlignment reports whether an interrupted turn waits for a marker.
func (o *Orchestrator) HasPendingAlignment() bool {
	return o.hasPending.Load()
}

// SubmitUserTurn queues a committed user utterance. It never starts a
// generation while another one runs.
func (o *Orchestrator) SubmitUserTurn(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyTurn
	}
	select {
	case o.userTurns <- userTurn{text: text, at: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Interrupt signals a barge-in. The running generation, if any, stops before
// its next token and a blocked token request is cancelled.
func (o *Orchestrator) Interrupt() {
	o.interrupted.Store(true)

	o.cancelMu.Lock()
	if o.cancelGen != nil {
		o.cancelGen()
	}
	o.cancelMu.Unlock()
}

// Interrupted implements generate.Interrupter.
func (o *Orchestrator) Interrupted() bool {
	return o.interrupted.Load()
}

// ReportPlayback records the latest playback marker and wakes the worker.
func (o *Orchestrator) ReportPlayback(m Marker) {
	o.markerMu.Lock()
	o.marker = &m
	o.markerMu.Unlock()

	select {
	case o.markerWake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) takeMarker() (Marker, bool) {
	o.markerMu.Lock()
	defer o.markerMu.Unlock()
	if o.marker == nil {
		return Marker{}, false
	}
	m := *o.marker
	o.marker = nil
	return m, true
}

// Close stops Run.
func (o *Orchestrator) Close() error {
	o.shutdownOnce.Do(func() {
		close(o.shutdown)
	})
	return nil
}

// setState atomically updates the state and counts the transition.
func (o *Orchestrator) setState(newState State) {
	oldState := State(o.state.Swap(int32(newState)))
	o.metrics.StateTransitions.Add(fmt.Sprintf("%s_to_%s", oldState, newState), 1)
}

// Run is the worker loop. It returns on context cancellation, Close, or a
// fatal error such as memory.ErrBudgetExceeded or ErrUnknownTerminalReason.
// Per-turn failures are reported on Results and do not stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.shutdown:
			return nil
		case <-o.markerWake:
			m, ok := o.takeMarker()
			if !ok {
				continue
			}
			if res, ok := o.applyMarker(m); ok {
				if err := o.sendResult(ctx, res); err != nil {
					return err
				}
			}
		case ut := <-o.userTurns:
			if err := o.handleUserTurn(ctx, ut); err != nil {
				o.setState(StateIdle)
				return err
			}
		}
	}
}

func (o *Orchestrator) handleUserTurn(ctx context.Context, ut userTurn) error {
	o.interrupted.Store(false)
	o.setState(StateUserTurnPending)

	if err := o.flushPending(ctx); err != nil {
		return err
	}

	user, err := o.mem.AppendUserTurn(ut.text)
	if err != nil {
		return o.failTurn(ctx, TurnResult{Err: fmt.Errorf("append user turn: %w", err)})
	}

	evicted, err := o.mem.EnforceBudget()
	o.countEvictions(len(evicted))
	for _, u := range evicted {
		delete(o.layouts, u.ID)
	}
	switch {
	case errors.Is(err, memory.ErrBudgetExceeded):
		return err
	case err != nil:
		if rmErr := o.mem.RemoveTurn(user.ID); rmErr != nil {
			o.logger.Warn("Removing oversized user turn failed", slog.String("error", rmErr.Error()))
		}
		return o.failTurn(ctx, TurnResult{UserTurnID: user.ID, Err: err})
	}

	userIU := o.arena.Create(userProducer, ut.text, 0, iu.Position{TurnID: user.ID})
	if _, err := o.arena.Commit(userIU.ID); err != nil {
		return o.failTurn(ctx, TurnResult{UserTurnID: user.ID, Err: err})
	}

	t := &turn{
		id:      o.mem.NextTurnID(),
		userID:  user.ID,
		userIU:  userIU.ID,
		last:    userIU.ID,
		started: ut.at,
	}
	return o.generate(ctx, t)
}

func (o *Orchestrator) generate(ctx context.Context, t *turn) error {
	genCtx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancelGen = cancel
	o.cancelMu.Unlock()
	if o.Interrupted() {
		cancel()
	}
	defer func() {
		o.cancelMu.Lock()
		o.cancelGen = nil
		o.cancelMu.Unlock()
		cancel()
	}()

	o.setState(StateGenerating)
	o.logger.Debug("Generating turn",
		slog.Int("turn_id", t.id),
		slog.Int("user_turn_id", t.userID),
		slog.Int("memory_tokens", o.mem.TotalTokens()))

	run, err := o.gen.Start(genCtx, o.mem.GenerationPrompt(), o)
	if err != nil {
		if o.Interrupted() && ctx.Err() == nil {
			o.setState(StateInterrupted)
			return o.finishTurn(ctx, t, TurnResult{Reason: generate.ReasonInterrupted})
		}
		return o.failTurn(ctx, TurnResult{TurnID: t.id, UserTurnID: t.userID, Err: err})
	}
	defer run.Close()

	for run.Next() {
		o.handleIncrement(t, run.Increment())
		if err := o.flush(ctx, t); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res, runErr := run.Result()
	if runErr != nil {
		o.revokeOpen(t)
		o.emitFinal(t)
		if err := o.flush(ctx, t); err != nil {
			return err
		}
		return o.failTurn(ctx, TurnResult{TurnID: t.id, UserTurnID: t.userID, Err: runErr})
	}

	var result TurnResult
	switch res.Reason {
	case generate.ReasonStopPattern:
		o.setState(StateCompleted)
		o.revokeTail(t, len(res.StopPattern.Text)-len(res.Trigger))
		o.revokeTrailingNewlines(t)
		o.commitOpen(t)
		body, tokens := o.stripStopPattern(t, res)
		result = o.commitAgentTurn(t, body, tokens)
	case generate.ReasonStopToken, generate.ReasonMaxTokens:
		o.setState(StateCompleted)
		o.commitOpen(t)
		result = o.commitAgentTurn(t, res.Text, res.Tokens)
	case generate.ReasonInterrupted:
		o.setState(StateInterrupted)
		o.revokeOpen(t)
		result, err = o.interruptTurn(ctx, t, res)
		if err != nil {
			return err
		}
	default:
		o.revokeOpen(t)
		_ = o.flush(ctx, t)
		return fmt.Errorf("turn %d: %w: %s", t.id, ErrUnknownTerminalReason, res.Reason)
	}

	o.emitFinal(t)
	if err := o.flush(ctx, t); err != nil {
		return err
	}
	result.Reason = res.Reason
	return o.finishTurn(ctx, t, result)
}

func (o *Orchestrator) handleIncrement(t *turn, inc generate.Increment) {
	start := t.offset
	t.offset += len(inc.Text)

	if inc.RolePattern != nil {
		// The model restated the agent role; the label is not speech.
		roleEnd := len(inc.RolePattern.Text)
		kept := t.units[:0]
		for _, u := range t.units {
			if u.start < roleEnd {
				o.revoke(t, u.iu)
				continue
			}
			kept = append(kept, u)
		}
		t.units = kept
		t.clause, t.char = 0, 0
		t.base, t.ends = roleEnd, nil
		t.last = t.userIU
		if n := len(t.units); n > 0 {
			t.last = t.units[n-1].iu.ID
		}
		return
	}

	u := o.arena.Create(o.producer, inc.Text, t.last, iu.Position{
		TurnID:   t.id,
		ClauseID: t.clause,
		CharID:   t.char,
	})
	t.last = u.ID
	t.msg.Add(u)
	t.units = append(t.units, unit{iu: u, start: start})
	t.char += utf8.RuneCountInString(inc.Text)

	if inc.IsPunctuation {
		o.commitOpen(t)
		t.ends = append(t.ends, t.offset)
		t.clause++
		t.char = 0
		if !t.firstClause {
			t.firstClause = true
			d := time.Since(t.started)
			o.metrics.FirstClauseMillis.Set(float64(d.Milliseconds()))
			o.recorder.ObserveFirstClause(d)
			o.logger.Debug("First clause committed",
				slog.Int("turn_id", t.id),
				slog.Duration("latency", d))
		}
	}
}

func (o *Orchestrator) commitOpen(t *turn) {
	for i := range t.units {
		if t.units[i].iu.Committed {
			continue
		}
		u, err := o.arena.Commit(t.units[i].iu.ID)
		if err != nil {
			o.logger.Warn("Committing IU failed", slog.String("iu", t.units[i].iu.String()), slog.String("error", err.Error()))
			continue
		}
		t.units[i].iu = u
		t.msg.Commit(u)
	}
}

func (o *Orchestrator) revoke(t *turn, u iu.IU) {
	revoked, err := o.arena.Revoke(u.ID)
	if err != nil {
		o.logger.Warn("Revoking IU failed", slog.String("iu", u.String()), slog.String("error", err.Error()))
		return
	}
	t.msg.Revoke(revoked)
}

// revokeOpen revokes every uncommitted unit of the turn.
func (o *Orchestrator) revokeOpen(t *turn) {
	kept := t.units[:0]
	for _, u := range t.units {
		if u.iu.Committed {
			kept = append(kept, u)
			continue
		}
		o.revoke(t, u.iu)
	}
	t.units = kept
}

// revokeTail revokes trailing units until at least n payload bytes are gone.
func (o *Orchestrator) revokeTail(t *turn, n int) {
	for n > 0 && len(t.units) > 0 {
		last := t.units[len(t.units)-1]
		o.revoke(t, last.iu)
		t.units = t.units[:len(t.units)-1]
		n -= len(last.iu.Payload)
	}
}

func (o *Orchestrator) revokeTrailingNewlines(t *turn) {
	for len(t.units) > 0 {
		last := t.units[len(t.units)-1]
		if last.iu.Payload == "" || strings.Trim(last.iu.Payload, "\n") != "" {
			return
		}
		o.revoke(t, last.iu)
		t.units = t.units[:len(t.units)-1]
	}
}

// stripStopPattern removes the stop pattern and trailing newlines from the
// generated text. The body is also cut where the last kept unit ends, so it
// renders like the IU stream when a revoked unit started before the pattern.
func (o *Orchestrator) stripStopPattern(t *turn, res generate.Result) (string, int) {
	body, removed := o.matcher.StripSuffix(res.Text, *res.StopPattern)
	tokens := res.Tokens - removed
	body, newlines := o.matcher.TrimTrailingNewlines(body)
	tokens -= newlines
	if tokens < 0 {
		tokens = 0
	}

	end := t.base
	if n := len(t.units); n > 0 {
		last := t.units[n-1]
		end = last.start + len(last.iu.Payload)
	}
	if end < len(body) {
		body = body[:end]
	}
	return body, tokens
}

func (o *Orchestrator) emitFinal(t *turn) {
	final := o.arena.CreateFinal(o.producer, t.last, t.id)
	committed, err := o.arena.Commit(final.ID)
	if err != nil {
		o.logger.Warn("Committing final IU failed", slog.String("error", err.Error()))
		return
	}
	t.msg.Add(final)
	t.msg.Commit(committed)
}

func (o *Orchestrator) flush(ctx context.Context, t *turn) error {
	if t.msg.Empty() {
		return nil
	}
	msg := t.msg
	t.msg = iu.UpdateMessage{}
	select {
	case o.updates <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) commitAgentTurn(t *turn, body string, tokens int) TurnResult {
	res := TurnResult{TurnID: t.id, UserTurnID: t.userID, Text: body, Tokens: tokens}
	if body == "" {
		return res
	}
	u := o.mem.AppendAgentTurn(body, tokens)
	if u.ID != t.id {
		o.logger.Warn("Agent turn stored under a different id",
			slog.Int("turn_id", t.id),
			slog.Int("stored_id", u.ID))
	}
	o.layouts[u.ID] = align.Layout{Start: t.base, Ends: t.ends}.Clip(len(body))
	res.TurnID = u.ID
	res.Tokens = u.Tokens
	return res
}

func (o *Orchestrator) interruptTurn(ctx context.Context, t *turn, res generate.Result) (TurnResult, error) {
	o.pending = &candidate{
		turnID:     t.id,
		userTurnID: t.userID,
		body:       res.Text,
		clauses:    t.clause,
		layout:     align.Layout{Start: t.base, Ends: t.ends},
		started:    t.started,
	}
	o.hasPending.Store(true)

	result := TurnResult{
		TurnID:     t.id,
		UserTurnID: t.userID,
		Text:       res.Text,
		Tokens:     res.Tokens,
		Pending:    true,
	}
	if m, ok := o.takeMarker(); ok {
		aligned, changed := o.applyMarker(m)
		switch {
		case changed && m.TurnID == t.id:
			aligned.UserTurnID = t.userID
			return aligned, nil
		case changed:
			// The marker belonged to an earlier turn.
			if err := o.sendResult(ctx, aligned); err != nil {
				return TurnResult{}, err
			}
		}
	}
	o.logger.Debug("Interrupted turn waits for playback marker",
		slog.Int("turn_id", t.id),
		slog.Int("committed_clauses", t.clause))
	return result, nil
}

// applyMarker aligns the turn the marker refers to. It reports whether a
// turn was changed.
func (o *Orchestrator) applyMarker(m Marker) (TurnResult, bool) {
	if m.Final {
		o.logger.Debug("Ignoring final playback marker", slog.String("marker", m.String()))
		return TurnResult{}, false
	}

	if p := o.pending; p != nil && p.turnID == m.TurnID {
		o.pending = nil
		o.hasPending.Store(false)
		return o.appendAligned(p, m), true
	}

	u, ok := o.mem.Turn(m.TurnID)
	if !ok || u.Role != memory.RoleAgent {
		o.logger.Info("Playback marker for unknown or evicted turn", slog.String("marker", m.String()))
		return TurnResult{}, false
	}

	layout, ok := o.layouts[u.ID]
	if !ok {
		layout = o.aligner.Layout(u.Body)
	}
	aligned, err := o.aligner.AlignLayout(u.Body, layout, m)
	if err != nil {
		return TurnResult{TurnID: u.ID, Reason: generate.ReasonInterrupted, Err: err}, true
	}
	if !aligned.Changed {
		return TurnResult{}, false
	}
	replaced, err := o.mem.ReplaceAgentTurn(u.ID, aligned.Body, aligned.Tokens)
	if err != nil {
		return TurnResult{TurnID: u.ID, Reason: generate.ReasonInterrupted, Err: err}, true
	}
	o.layouts[replaced.ID] = aligned.Layout
	o.countAlignment()
	return TurnResult{
		TurnID:  replaced.ID,
		Reason:  generate.ReasonInterrupted,
		Text:    replaced.Body,
		Tokens:  replaced.Tokens,
		Aligned: true,
	}, true
}

func (o *Orchestrator) appendAligned(p *candidate, m Marker) TurnResult {
	res := TurnResult{TurnID: p.turnID, UserTurnID: p.userTurnID, Reason: generate.ReasonInterrupted}

	aligned, err := o.aligner.AlignLayout(p.body, p.layout, m)
	if err != nil {
		res.Err = err
		return res
	}
	u := o.mem.AppendAgentTurn(aligned.Body, aligned.Tokens)
	if u.ID != p.turnID {
		o.logger.Warn("Aligned turn stored under a different id",
			slog.Int("turn_id", p.turnID),
			slog.Int("stored_id", u.ID))
	}
	o.layouts[u.ID] = aligned.Layout
	o.countAlignment()

	res.TurnID = u.ID
	res.Text = u.Body
	res.Tokens = u.Tokens
	res.Aligned = true
	res.Duration = time.Since(p.started)
	return res
}

// flushPending stores an interrupted turn that never got a marker, truncated
// to the clauses that were committed before the barge-in.
func (o *Orchestrator) flushPending(ctx context.Context) error {
	p := o.pending
	if p == nil {
		return nil
	}
	o.pending = nil
	o.hasPending.Store(false)

	if p.clauses == 0 {
		o.logger.Debug("Dropping interrupted turn without committed clauses", slog.Int("turn_id", p.turnID))
		return nil
	}
	res := o.appendAligned(p, Marker{TurnID: p.turnID, ClauseID: p.clauses - 1, CharID: math.MaxInt32})
	return o.sendResult(ctx, res)
}

func (o *Orchestrator) finishTurn(ctx context.Context, t *turn, res TurnResult) error {
	if res.TurnID == 0 {
		res.TurnID = t.id
	}
	res.UserTurnID = t.userID
	res.Duration = time.Since(t.started)

	o.metrics.Turns.Add(res.Reason.String(), 1)
	o.recorder.ObserveTurn(res.Reason.String(), res.Tokens, res.Duration)
	o.logger.Debug("Turn finished",
		slog.Int("turn_id", res.TurnID),
		slog.String("reason", res.Reason.String()),
		slog.Int("tokens", res.Tokens),
		slog.Bool("pending", res.Pending),
		slog.Duration("duration", res.Duration))

	o.setState(StateIdle)
	return o.sendResult(ctx, res)
}

func (o *Orchestrator) failTurn(ctx context.Context, res TurnResult) error {
	o.metrics.Turns.Add("error", 1)
	o.logger.Warn("Turn failed",
		slog.Int("turn_id", res.TurnID),
		slog.String("error", res.Err.Error()))
	o.setState(StateIdle)
	return o.sendResult(ctx, res)
}

func (o *Orchestrator) sendResult(ctx context.Context, res TurnResult) error {
	select {
	case o.results <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) countEvictions(n int) {
	if n == 0 {
		return
	}
	o.metrics.Evictions.Add(int64(n))
	o.recorder.AddEvictions(n)
}

func (o *Orchestrator) countAlignment() {
	o.metrics.Alignments.Add(1)
	o.recorder.IncAlignments()
}
