// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schedule turns an augmentation plan into a bounded stream of LLM
// calls and routes every completion to the writer or the log.
//
// Each call moves QUEUED -> IN_FLIGHT -> COMPLETED_OK | COMPLETED_FAILED.
// Calls are admitted in plan order and at most ConcurrentCalls are in flight
// at any time. Backend and parse failures are logged and dropped; only a
// sink (writer) failure stops the run.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/mesh-augment/internal/prompt"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// Message is one chat message sent to the backend.
type Message struct {
	Role    string
	Content string
}

// Completion is the request body for one outbound call.
type Completion struct {
	Model           string
	Messages        []Message
	Temperature     float64
	TopP            float64
	PresencePenalty float64
	// N is the number of choices requested. Backends that do not support
	// it always receive 1.
	N int
}

// Backend is the LLM collaborator. Its own retry or rate-limit handling is
// its concern.
type Backend interface {
	Generate(ctx context.Context, c Completion) ([]string, error)
	// SupportsN reports whether one call can return several choices.
	SupportsN() bool
}

// Sink receives parsed records. An error from Append aborts the run.
type Sink interface {
	Append(rec types.OutputRecord) error
}

// Ledger records every call as queued before dispatch and then its
// terminal state. Ledger errors are logged and do not stop the run.
type Ledger interface {
	QueueCalls(ctx context.Context, calls []types.CallResult) error
	RecordCall(ctx context.Context, res types.CallResult) error
}

// State is the lifecycle position of one outbound call.
type State int

const (
	Queued State = iota
	InFlight
	CompletedOK
	CompletedFailed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case InFlight:
		return "in_flight"
	case CompletedOK:
		return "completed_ok"
	case CompletedFailed:
		return "completed_failed"
	default:
		return "unknown"
	}
}

// Call is the immutable metadata of one outbound call: enough to build an
// output record on success without reading shared state. Seed is the seed
// record's SeedID, the key the ledger resumes by.
type Call struct {
	ID               int
	Label            string
	SeedPMID         string
	Seed             string
	SeedTags         []string
	SeedAbstract     string
	RequiredExamples int
	ExistingSeeds    int
	Year             int
	Model            string
	Prompt           string
	N                int
}

// Summary holds counts from one scheduler run.
type Summary struct {
	Requests      int            `json:"requests" yaml:"requests"`
	Calls         int            `json:"calls" yaml:"calls"`
	Succeeded     int            `json:"succeeded" yaml:"succeeded"`
	Failed        int            `json:"failed" yaml:"failed"`
	Written       int            `json:"written" yaml:"written"`
	ParseFailures int            `json:"parse_failures" yaml:"parse_failures"`
	ByLabel       map[string]int `json:"by_label" yaml:"by_label"`
}

// HasFailures reports whether any call or choice was dropped.
func (s Summary) HasFailures() bool {
	return s.Failed > 0 || s.ParseFailures > 0
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetryPolicy replaces the default NoRetry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.retry = p
		}
	}
}

// WithLedger records every call's terminal state in l.
func WithLedger(l Ledger) Option {
	return func(s *Scheduler) { s.ledger = l }
}

// WithIDFunc replaces the pmid generator for synthetic records.
func WithIDFunc(f func() string) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithTemplate sets the prompt template. The default is prompt.DefaultTemplate.
func WithTemplate(tmpl string) Option {
	return func(s *Scheduler) { s.template = tmpl }
}

// Scheduler dispatches calls to one backend and owns the output sink.
type Scheduler struct {
	backend  Backend
	sink     Sink
	cfg      types.GenerationConfig
	model    string
	template string
	retry    RetryPolicy
	ledger   Ledger
	newID    func() string
	log      *zap.Logger
}

// New creates a Scheduler. ConcurrentCalls below 1 is treated as 1.
func New(backend Backend, sink Sink, model string, cfg types.GenerationConfig, opts ...Option) *Scheduler {
	if cfg.ConcurrentCalls < 1 {
		cfg.ConcurrentCalls = 1
	}
	s := &Scheduler{
		backend:  backend,
		sink:     sink,
		cfg:      cfg,
		model:    model,
		template: prompt.DefaultTemplate,
		retry:    NoRetry{},
		newID:    NewPMID,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expand converts requests into calls in plan order. With a backend that
// supports N, a request becomes one call asking for ReplicationFactor
// choices (split into chunks of NumReplicasPerRequest when that is set);
// otherwise it becomes ReplicationFactor single-choice calls.
func (s *Scheduler) Expand(requests []types.AugmentationRequest) []Call {
	perCall := 1
	if s.backend.SupportsN() {
		perCall = s.cfg.NumReplicasPerRequest
	}

	var calls []Call
	for _, req := range requests {
		text := prompt.Render(s.template, req.Label, req.Seed.AbstractText)
		tags := slices.Clone(req.Seed.MeshMajor)

		for remaining := req.ReplicationFactor; remaining > 0; {
			n := remaining
			if perCall > 0 && n > perCall {
				n = perCall
			}
			calls = append(calls, Call{
				ID:               len(calls),
				Label:            req.Label,
				SeedPMID:         req.Seed.PMID,
				Seed:             req.Seed.SeedID(),
				SeedTags:         tags,
				SeedAbstract:     req.Seed.AbstractText,
				RequiredExamples: req.RequiredCount,
				ExistingSeeds:    req.SeedsUsed,
				Year:             req.Year,
				Model:            s.model,
				Prompt:           text,
				N:                n,
			})
			remaining -= n
		}
	}
	return calls
}

// Run dispatches every request and blocks until all calls have completed.
// It returns an error only when the sink fails or ctx is cancelled; the
// summary is valid in both cases.
func (s *Scheduler) Run(ctx context.Context, requests []types.AugmentationRequest) (Summary, error) {
	calls := s.Expand(requests)
	t := newTally(len(requests), len(calls))
	s = s.queue(ctx, calls)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ConcurrentCalls)

	for _, call := range calls {
		if gctx.Err() != nil {
			break
		}
		// Go blocks until a slot frees up, which gives FIFO admission.
		g.Go(func() error {
			return s.execute(gctx, call, t)
		})
	}

	err := g.Wait()
	sum := t.summary()
	if err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("generation interrupted: %w", err)
	}
	return sum, nil
}

// execute runs one call from IN_FLIGHT to a terminal state.
func (s *Scheduler) execute(ctx context.Context, call Call, t *tally) error {
	// Admitted after cancellation: never dispatched, the row stays queued.
	if ctx.Err() != nil {
		return nil
	}
	log := s.log.With(
		zap.Int("call", call.ID),
		zap.String("label", call.Label),
		zap.String("seed_pmid", call.SeedPMID),
	)
	log.Debug("dispatching", zap.Int("n", call.N), zap.Int("required", call.RequiredExamples))

	choices, callErr := s.retry.Do(ctx, func(ctx context.Context) ([]string, error) {
		return s.backend.Generate(ctx, s.completion(call))
	})

	state := CompletedOK
	if callErr != nil {
		state = CompletedFailed
	}

	written := 0
	var sinkErr error
	for _, cmd := range Handle(Outcome{Call: call, Choices: choices, Err: callErr}, s.newID) {
		if cmd.Log != nil {
			s.logEvent(log, *cmd.Log)
			if cmd.Log.Kind == ParseFailed {
				t.parseFailed()
			}
			continue
		}
		if err := s.sink.Append(*cmd.Write); err != nil {
			sinkErr = fmt.Errorf("appending record for %q: %w", call.Label, err)
			break
		}
		written++
		t.written(call.Label)
	}

	if sinkErr != nil {
		state = CompletedFailed
	}
	t.completed(state)
	if written > 0 {
		log.Info("data received", zap.Int("written", written))
	}
	s.recordCall(ctx, log, call, state, written, firstErr(sinkErr, callErr))

	return sinkErr
}

func (s *Scheduler) completion(call Call) Completion {
	n := call.N
	if !s.backend.SupportsN() {
		n = 1
	}
	return Completion{
		Model:           call.Model,
		Messages:        []Message{{Role: "user", Content: call.Prompt}},
		Temperature:     s.cfg.Temperature,
		TopP:            s.cfg.TopP,
		PresencePenalty: s.cfg.PresencePenalty,
		N:               n,
	}
}

func (s *Scheduler) logEvent(log *zap.Logger, ev Event) {
	switch ev.Kind {
	case BackendFailed:
		log.Warn("failed to get augmentation", zap.Error(ev.Err))
	case ParseFailed:
		log.Info("error processing output, skipping", zap.Int("choice", ev.Choice), zap.Error(ev.Err))
	}
}

// queue stores every call as queued. When that fails the run continues
// without recording calls.
func (s *Scheduler) queue(ctx context.Context, calls []Call) *Scheduler {
	if s.ledger == nil || len(calls) == 0 {
		return s
	}
	rows := make([]types.CallResult, len(calls))
	for i, call := range calls {
		rows[i] = callResult(call, Queued, 0, nil)
	}
	if err := s.ledger.QueueCalls(ctx, rows); err != nil {
		s.log.Warn("ledger queue failed, calls will not be recorded", zap.Error(err))
		detached := *s
		detached.ledger = nil
		return &detached
	}
	return s
}

func callResult(call Call, state State, written int, err error) types.CallResult {
	res := types.CallResult{
		CallID:  call.ID,
		Label:   call.Label,
		Seed:    call.Seed,
		N:       call.N,
		State:   state.String(),
		Written: written,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Scheduler) recordCall(ctx context.Context, log *zap.Logger, call Call, state State, written int, err error) {
	if s.ledger == nil {
		return
	}
	res := callResult(call, state, written, err)
	// The ledger outlives a cancelled run so the interruption is recorded.
	if lerr := s.ledger.RecordCall(context.WithoutCancel(ctx), res); lerr != nil {
		log.Warn("ledger write failed", zap.Error(lerr))
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// tally accumulates summary counts across call goroutines.
type tally struct {
	mu  sync.Mutex
	sum Summary
}

func newTally(requests, calls int) *tally {
	return &tally{sum: Summary{Requests: requests, Calls: calls, ByLabel: make(map[string]int)}}
}

func (t *tally) written(label string) {
	t.mu.Lock()
	t.sum.Written++
	t.sum.ByLabel[label]++
	t.mu.Unlock()
}

func (t *tally) parseFailed() {
	t.mu.Lock()
	t.sum.ParseFailures++
	t.mu.Unlock()
}

func (t *tally) completed(state State) {
	t.mu.Lock()
	if state == CompletedOK {
		t.sum.Succeeded++
	} else {
		t.sum.Failed++
	}
	t.mu.Unlock()
}

func (t *tally) summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.sum
	out.ByLabel = make(map[string]int, len(t.sum.ByLabel))
	for k, v := range t.sum.ByLabel {
		out.ByLabel[k] = v
	}
	return out
}
