// Package taskloop drives the fetch, score, submit, validate and delay cycle.
package taskloop

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	agenterrors "gata/internal/errors"
	"gata/internal/gata"
	"gata/internal/logging"
	"gata/internal/observability"
	"gata/internal/session"
)

// Controller owns the session and runs cycles strictly one after another.
type Controller struct {
	cfg      Config
	client   TaskClient
	rewards  RewardsRefresher
	scorer   Scorer
	reauth   Reauthenticator
	recorder CycleRecorder
	metrics  *observability.Metrics
	tracer   trace.Tracer
	sleeper  Sleeper
	rand     RandomSource
	logger   logging.Logger
	now      func() time.Time

	sess        session.Session
	needsReauth bool

	mu        sync.RWMutex
	state     State
	lastCycle CycleResult
	cycles    int64
}

// Option customises a Controller.
type Option func(*Controller)

// WithConfig sets the loop pacing; zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg.withDefaults() }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		if s != nil {
			c.sleeper = s
		}
	}
}

func WithRandomSource(r RandomSource) Option {
	return func(c *Controller) {
		if r != nil {
			c.rand = r
		}
	}
}

func WithReauthenticator(r Reauthenticator) Option {
	return func(c *Controller) { c.reauth = r }
}

func WithRecorder(r CycleRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// New builds a controller around an authenticated session.
func New(sess session.Session, client TaskClient, tracker RewardsRefresher, scorer Scorer, opts ...Option) *Controller {
	c := &Controller{
		cfg:     DefaultConfig(),
		client:  client,
		rewards: tracker,
		scorer:  scorer,
		tracer:  noop.NewTracerProvider().Tracer("gata"),
		sleeper: TimerSleeper,
		rand:    globalRand{},
		logger:  logging.NewComponentLogger("taskloop"),
		now:     time.Now,
		sess:    sess,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the phase the loop is currently in.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastCycle returns the most recent finished cycle and whether one exists.
func (c *Controller) LastCycle() (CycleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCycle, c.cycles > 0
}

// Cycles returns the number of finished cycles.
func (c *Controller) Cycles() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run loops until ctx is cancelled. A cycle that fails or panics is logged and
// the loop restarts from scratch after RetryDelay.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Starting task loop")
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateIdle)
			return err
		}

		_, err := c.safeCycle(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			c.setState(StateIdle)
			return ctx.Err()
		}

		c.setState(StateFailed)
		c.metrics.IncRestart()
		c.logger.Error("Cycle failed: %v", err)
		c.logger.Info("Restarting in %s", c.cfg.RetryDelay)
		if err := c.sleeper.Sleep(ctx, c.cfg.RetryDelay); err != nil {
			c.setState(StateIdle)
			return err
		}
	}
}

func (c *Controller) safeCycle(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("cycle panic stack: %s", debug.Stack())
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return c.RunCycle(ctx)
}

// RunCycle executes one fetch, score, submit, validate and delay pass. Only
// unexpected failures and cancellation are returned as errors.
func (c *Controller) RunCycle(ctx context.Context) (CycleResult, error) {
	logID := logging.NewLogID()
	ctx = logging.ContextWithLogID(ctx, logID)
	logger := logging.FromContext(ctx, c.logger)

	ctx, span := c.tracer.Start(ctx, observability.SpanCycle)
	var cycleErr error
	defer func() { observability.EndSpan(span, cycleErr) }()

	if c.needsReauth {
		if cycleErr = c.reauthenticate(ctx, logger); cycleErr != nil {
			return CycleResult{LogID: logID}, cycleErr
		}
	}

	before := c.rewards.Current().TotalPoints
	res := CycleResult{
		LogID:        logID,
		PointsBefore: before,
		PointsAfter:  before,
		StartedAt:    c.now(),
	}

	task, ok := c.fetch(ctx, logger)
	if !ok {
		logger.Info("No task available, waiting...")
		res.Outcome = OutcomeIdle
		res.Delay = c.cfg.MinDelay
		cycleErr = c.finish(ctx, logger, &res)
		return res, cycleErr
	}
	res.TaskID = string(task.ID)
	span.SetAttributes(observability.TaskAttrs(res.TaskID)...)

	logger.Info("Processing task %s", task.ID)
	logger.Info("Caption: %s", task.Text)
	logger.Info("Image URL: %s", task.Link)

	c.setState(StateScoring)
	res.Score = c.scorer.Score(task.Text)

	if err := c.submit(ctx, task, res.Score); err != nil {
		if ctx.Err() != nil {
			cycleErr = ctx.Err()
			return res, cycleErr
		}
		logger.Warn("Failed to submit score, retrying: %v", err)
		res.Outcome = OutcomeSubmitFailed
		res.Delay = c.cfg.RetryDelay
		cycleErr = c.finish(ctx, logger, &res)
		return res, cycleErr
	}
	logger.Info("Submitted score: %s", formatScore(res.Score))
	c.metrics.ObserveScore(res.Score)

	// A cancelled submission is abandoned, never validated.
	if err := ctx.Err(); err != nil {
		cycleErr = err
		return res, cycleErr
	}

	outcome, after, err := c.validate(ctx, logger, before)
	if err != nil {
		cycleErr = err
		return res, cycleErr
	}
	res.Outcome = outcome
	res.PointsAfter = after
	res.Delay = c.nextDelay(outcome)
	cycleErr = c.finish(ctx, logger, &res)
	return res, cycleErr
}

func (c *Controller) fetch(ctx context.Context, logger logging.Logger) (gata.Task, bool) {
	c.setState(StateFetching)
	ctx, span := c.tracer.Start(ctx, observability.SpanFetch)
	start := c.now()
	task, err := c.client.FetchTask(ctx, c.sess.TaskToken)
	c.metrics.ObservePhase("fetch", err, c.now().Sub(start))
	observability.EndSpan(span, err)

	if err != nil {
		c.noteUnauthorized(err)
		logger.Warn("Error getting task: %v", err)
		return gata.Task{}, false
	}
	if task.Empty() {
		return gata.Task{}, false
	}
	return task, true
}

func (c *Controller) submit(ctx context.Context, task gata.Task, score float64) error {
	c.setState(StateSubmitting)
	ctx, span := c.tracer.Start(ctx, observability.SpanSubmit,
		trace.WithAttributes(attribute.Float64(observability.AttrScore, score)))
	start := c.now()
	err := c.client.SubmitScore(ctx, c.sess.TaskToken, string(task.ID), score)
	c.metrics.ObservePhase("submit", err, c.now().Sub(start))
	observability.EndSpan(span, err)
	if err != nil {
		c.noteUnauthorized(err)
	}
	return err
}

// validate waits for the ledger to settle, refreshes rewards and compares the
// new total with before. Only cancellation is returned as an error.
func (c *Controller) validate(ctx context.Context, logger logging.Logger, before int64) (Outcome, int64, error) {
	c.setState(StateValidating)
	ctx, span := c.tracer.Start(ctx, observability.SpanValidate)
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	if spanErr = c.sleeper.Sleep(ctx, c.cfg.SettleDelay); spanErr != nil {
		return "", before, spanErr
	}

	start := c.now()
	snap, err := c.rewards.Refresh(ctx, c.sess.TaskToken)
	c.metrics.ObservePhase("rewards", err, c.now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			spanErr = ctx.Err()
			return "", before, spanErr
		}
		c.noteUnauthorized(err)
		logger.Warn("Error updating rewards: %v", err)
		snap = c.rewards.Current()
	} else {
		c.metrics.SetRewards(snap.TotalPoints, snap.DailyPoints, snap.CompletedCount)
	}
	span.SetAttributes(attribute.Int64(observability.AttrPoints, snap.TotalPoints))

	if snap.TotalPoints <= before {
		logger.Warn("No points awarded for last task (total %d, before %d)", snap.TotalPoints, before)
		if spanErr = c.sleeper.Sleep(ctx, 2*c.cfg.MinDelay); spanErr != nil {
			return "", snap.TotalPoints, spanErr
		}
		return OutcomeInvalid, snap.TotalPoints, nil
	}
	return OutcomeValid, snap.TotalPoints, nil
}

func (c *Controller) nextDelay(outcome Outcome) time.Duration {
	switch outcome {
	case OutcomeValid:
		spread := float64(c.cfg.MaxDelay - c.cfg.MinDelay)
		return c.cfg.MinDelay + time.Duration(clampUnit(c.rand.Float64())*spread)
	case OutcomeInvalid:
		return c.cfg.MaxDelay
	case OutcomeSubmitFailed:
		return c.cfg.RetryDelay
	default:
		return c.cfg.MinDelay
	}
}

// finish records the cycle and then sleeps for its scheduled delay.
func (c *Controller) finish(ctx context.Context, logger logging.Logger, res *CycleResult) error {
	res.FinishedAt = c.now()

	c.mu.Lock()
	c.lastCycle = *res
	c.cycles++
	c.mu.Unlock()

	c.metrics.ObserveCycle(string(res.Outcome))
	if c.recorder != nil {
		if err := c.recorder.RecordCycle(ctx, *res); err != nil {
			logger.Warn("Failed to record cycle: %v", err)
		}
	}

	if res.Outcome == OutcomeValid || res.Outcome == OutcomeInvalid {
		logger.Info("Waiting %d seconds before next task...", int64(math.Round(res.Delay.Seconds())))
	}
	// An empty fetch waits out its delay as Idle.
	if res.Outcome == OutcomeIdle {
		c.setState(StateIdle)
	} else {
		c.setState(StateDelaying)
	}
	if err := c.sleeper.Sleep(ctx, res.Delay); err != nil {
		return err
	}
	c.setState(StateIdle)
	return nil
}

func (c *Controller) noteUnauthorized(err error) {
	if agenterrors.IsUnauthorized(err) {
		c.needsReauth = true
	}
}

func (c *Controller) reauthenticate(ctx context.Context, logger logging.Logger) error {
	if c.reauth == nil {
		logger.Warn("Credentials rejected and no re-authenticator configured")
		c.needsReauth = false
		return nil
	}
	ctx, span := c.tracer.Start(ctx, observability.SpanReauth)
	logger.Info("Credentials rejected, re-authenticating")
	sess, err := c.reauth.Reauthenticate(ctx)
	c.metrics.ObserveReauth(err)
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("re-authenticate: %w", err)
	}
	c.sess = sess
	c.needsReauth = false
	logger.Info("Session renewed")
	return nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatScore(score float64) string {
	return fmt.Sprintf("%g", score)
}
