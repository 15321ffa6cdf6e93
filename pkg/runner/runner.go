package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xiaozhch5/openclaw/internal/observability"
	"github.com/xiaozhch5/openclaw/internal/tracing"
	"github.com/xiaozhch5/openclaw/pkg/agentsession"
	"github.com/xiaozhch5/openclaw/pkg/lane"
	"github.com/xiaozhch5/openclaw/pkg/model"
	"github.com/xiaozhch5/openclaw/pkg/workspace"
)

// ErrNoActiveRun is returned by out-of-band operations when the session has
// no registered run.
var ErrNoActiveRun = errors.New("no active run for session")

// laneWaitWarnMs is how long a run may sit queued before a wait warning.
const laneWaitWarnMs = 5000

// ModelResolver turns a provider/model pair into a usable model handle.
type ModelResolver interface {
	Resolve(provider, modelID string) (*model.Resolved, error)
}

// Config bundles the runner's collaborators.
type Config struct {
	Queue      *lane.Queue
	Registry   *Registry
	Resolver   ModelResolver
	Workspaces *workspace.Manager
	Opener     agentsession.Opener
	Logger     zerolog.Logger
	Defaults   Defaults
}

// Runner orchestrates agent runs over the lane queue.
type Runner struct {
	queue      *lane.Queue
	registry   *Registry
	resolver   ModelResolver
	workspaces *workspace.Manager
	opener     agentsession.Opener
	logger     zerolog.Logger
	defaults   Defaults
}

// New creates a runner. Queue, registry, resolver, workspaces, and opener
// are required.
func New(cfg Config) (*Runner, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if cfg.Opener == nil {
		return nil, errors.New("session opener is required")
	}

	if cfg.Defaults.GlobalLane == "" {
		cfg.Defaults.GlobalLane = "main"
	}
	if cfg.Defaults.TimeoutMs <= 0 {
		cfg.Defaults.TimeoutMs = defaultTimeoutMs
	}
	if cfg.Defaults.BlockReplyBreak == "" {
		cfg.Defaults.BlockReplyBreak = BreakTextEnd
	}

	observability.EnsureRegistered()

	return &Runner{
		queue:      cfg.Queue,
		registry:   cfg.Registry,
		resolver:   cfg.Resolver,
		workspaces: cfg.Workspaces,
		opener:     cfg.Opener,
		logger:     cfg.Logger,
		defaults:   cfg.Defaults,
	}, nil
}

// Registry returns the active run registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes one agent run. The request is serialized on its session lane
// and the global lane before any session resources are touched; the call
// blocks until the run settles and returns the assembled reply payload.
func (r *Runner) Run(ctx context.Context, params RunParams) (*ReplyPayload, error) {
	r.applyDefaults(&params)
	if params.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	ctx = tracing.WithRunID(tracing.WithSessionID(ctx, params.SessionID), params.RunID)
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"openclaw.runner",
		"runner.run",
		attribute.String("session_id", params.SessionID),
		attribute.String("provider", params.Provider),
		attribute.String("model", params.Model),
	)
	defer span.End()

	sessionLane := sessionLaneName(params.SessionKey)
	opts := &lane.TaskOptions{WarnAfterMs: laneWaitWarnMs}

	value, err := r.queue.EnqueueWithContext(ctx, sessionLane, func(ctx context.Context) (interface{}, error) {
		return r.queue.EnqueueWithContext(ctx, params.Lane, func(ctx context.Context) (interface{}, error) {
			return r.execute(ctx, params)
		}, opts)
	}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload, ok := value.(*ReplyPayload)
	if !ok {
		return nil, errors.New("unexpected run result type")
	}
	return payload, nil
}

// Abort requests cooperative cancellation of the session's active run.
// Returns false when no run is registered.
func (r *Runner) Abort(sessionID string) bool {
	h, ok := r.registry.Get(sessionID)
	if !ok {
		return false
	}
	h.Abort()
	return true
}

// QueueMessage folds text into the session's active run as an extra user
// turn.
func (r *Runner) QueueMessage(ctx context.Context, sessionID, text string) error {
	h, ok := r.registry.Get(sessionID)
	if !ok {
		return ErrNoActiveRun
	}
	return h.QueueMessage(ctx, text)
}

// IsStreaming reports whether the session's active run is mid-stream.
func (r *Runner) IsStreaming(sessionID string) bool {
	h, ok := r.registry.Get(sessionID)
	if !ok {
		return false
	}
	return h.IsStreaming()
}

func (r *Runner) applyDefaults(params *RunParams) {
	if params.SessionID == "" {
		params.SessionID = uuid.New().String()
	}
	if params.RunID == "" {
		params.RunID = tracing.NewRunID()
	}
	if params.Provider == "" {
		params.Provider = r.defaults.Provider
	}
	if params.Model == "" {
		params.Model = r.defaults.Model
	}
	if params.TimeoutMs <= 0 {
		params.TimeoutMs = r.defaults.TimeoutMs
	}
	if params.Lane == "" {
		params.Lane = r.defaults.GlobalLane
	}
	if params.BlockReplyBreak == "" {
		params.BlockReplyBreak = r.defaults.BlockReplyBreak
	}
	if r.defaults.EnforceFinalTag {
		params.EnforceFinalTag = true
	}
	if r.defaults.Verbose {
		params.Verbose = true
	}
}

// sessionLaneName derives the per-session serialization lane.
func sessionLaneName(key string) string {
	key = strings.TrimSpace(strings.TrimPrefix(key, "session:"))
	if key == "" {
		key = "main"
	}
	return "session:" + key
}

// execute performs the run body once both lane slots are held.
func (r *Runner) execute(ctx context.Context, params RunParams) (*ReplyPayload, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	phases := newPhaseTracker(logger)
	start := time.Now()

	phases.transition(PhaseResolving)
	resolved, err := r.resolver.Resolve(params.Provider, params.Model)
	if err != nil {
		phases.transition(PhaseFailed)
		return nil, fmt.Errorf("model resolution failed: %w", err)
	}

	phases.transition(PhasePreparing)
	workDir, err := r.workspaces.Prepare(params.WorkspaceDir, params.SessionID)
	if err != nil {
		phases.transition(PhaseFailed)
		return nil, fmt.Errorf("workspace preparation failed: %w", err)
	}

	bootstrap, err := r.workspaces.LoadBootstrap(workDir)
	if err != nil {
		logger.Warn().Err(err).Msg("Bootstrap context load failed, continuing without it")
		bootstrap = ""
	}

	// Everything acquired from here on is released in reverse order on
	// every exit path, including panics surfaced as prompt errors.
	var cleanup cleanupList

	cleanup.add("restore_env", workspace.ApplyEnv(params.EnvOverrides))

	if prevDir, wdErr := os.Getwd(); wdErr == nil {
		if chErr := os.Chdir(workDir); chErr != nil {
			logger.Warn().Err(chErr).Str("dir", workDir).Msg("Failed to enter workspace dir")
		} else {
			cleanup.add("restore_cwd", func() { _ = os.Chdir(prevDir) })
		}
	}

	sess, err := r.opener.Open(ctx, agentsession.OpenRequest{
		SessionID:    params.SessionID,
		Provider:     resolved.Provider,
		Model:        resolved.Model,
		SystemPrompt: composeSystemPrompt(params.SystemPrompt, bootstrap),
		WorkspaceDir: workDir,
		History:      agentsession.SanitizeHistoryImages(params.History),
	})
	if err != nil {
		phases.transition(PhaseFailed)
		cleanup.run(logger)
		return nil, fmt.Errorf("session open failed: %w", err)
	}
	cleanup.add("dispose_session", sess.Dispose)

	var aborted atomic.Bool
	var abortOnce sync.Once
	abort := func(reason string) {
		abortOnce.Do(func() {
			aborted.Store(true)
			logger.Info().Str("reason", reason).Msg("Run abort requested")
			if abortErr := sess.Abort(); abortErr != nil {
				logger.Warn().Err(abortErr).Msg("Session abort returned error")
			}
			observability.RecordRunAborted()
		})
	}

	handle := &Handle{
		sessionID:    params.SessionID,
		queueMessage: sess.QueueMessage,
		isStreaming:  sess.IsStreaming,
		abort:        func() { abort("external request") },
	}
	r.registry.Install(handle)
	cleanup.add("remove_run_handle", func() { r.registry.Remove(params.SessionID, handle) })

	gate := newCompactionGate()
	deb := newToolUpdateDebouncer(debounceInterval, func(tool string, metas []string) {
		logger.Info().Str("tool", tool).Int("updates", len(metas)).Msg("Tool progress")
		if params.Observers.OnToolNotice != nil {
			params.Observers.OnToolNotice(tool, metas)
		}
	})
	cleanup.add("flush_debouncer", deb.Stop)

	si := newStreamInterpreter(interpreterConfig{
		breakMode:       params.BlockReplyBreak,
		enforceFinalTag: params.EnforceFinalTag,
		verbose:         params.Verbose,
	}, params.Observers, gate, deb, logger)

	cleanup.add("unsubscribe", sess.Subscribe(si.HandleEvent))

	timeout := time.Duration(params.TimeoutMs) * time.Millisecond
	var timerMu sync.Mutex
	var warnTimer *time.Timer
	timeoutTimer := time.AfterFunc(timeout, func() {
		logger.Warn().Dur("timeout", timeout).Msg("Run timed out")
		abort("timeout")
		timerMu.Lock()
		warnTimer = time.AfterFunc(stuckAbortWarnDelay, func() {
			if sess.IsStreaming() {
				logger.Warn().
					Dur("grace", stuckAbortWarnDelay).
					Msg("Session still streaming after abort grace period")
			}
		})
		timerMu.Unlock()
	})
	cleanup.add("stop_timers", func() {
		timeoutTimer.Stop()
		timerMu.Lock()
		if warnTimer != nil {
			warnTimer.Stop()
		}
		timerMu.Unlock()
	})

	if ctx.Err() != nil {
		abort("canceled before prompt")
	} else {
		stop := context.AfterFunc(ctx, func() {
			abort("context canceled")
		})
		cleanup.add("detach_cancel_watch", func() { stop() })
	}

	phases.transition(PhaseStreaming)
	promptErr := sess.Prompt(ctx, params.Prompt)

	phases.transition(PhaseAwaitingCompactionDrain)
	if waitErr := gate.wait(ctx); waitErr != nil {
		logger.Debug().Err(waitErr).Msg("Compaction drain wait canceled")
	}

	phases.transition(PhaseFinalizing)

	blocks := si.Blocks()
	inline := si.InlineResults()
	var fallback, errorText string
	if last := lastAssistantMessage(sess.History()); last != nil {
		fallback = si.cleanText(last.Text())
		errorText = last.Error
	}

	cleanup.run(logger)

	wasAborted := aborted.Load()
	if promptErr != nil && !wasAborted {
		phases.transition(PhaseFailed)
		observability.RecordRun(resolved.Provider, time.Since(start), false)
		return nil, fmt.Errorf("prompt failed: %w", promptErr)
	}

	payload := assembleReply(replyInput{
		blocks:      blocks,
		inlineTools: inline,
		fallback:    fallback,
		errorText:   errorText,
		aborted:     wasAborted,
		duration:    time.Since(start),
		meta: &AgentMeta{
			SessionID: params.SessionID,
			Provider:  resolved.Provider,
			Model:     resolved.Model,
		},
	})

	if wasAborted {
		phases.transition(PhaseAborted)
	} else {
		phases.transition(PhaseCompleted)
	}
	observability.RecordRun(resolved.Provider, time.Since(start), true)

	logger.Info().
		Int("items", len(payload.Items)).
		Bool("aborted", wasAborted).
		Dur("duration", time.Since(start)).
		Msg("Run finished")

	return payload, nil
}

func composeSystemPrompt(base, bootstrap string) string {
	switch {
	case base == "":
		return bootstrap
	case bootstrap == "":
		return base
	default:
		return base + "\n\n" + bootstrap
	}
}

// cleanupList runs its steps in reverse acquisition order.
type cleanupList struct {
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func()
}

func (c *cleanupList) add(name string, fn func()) {
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

func (c *cleanupList) run(logger zerolog.Logger) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		step.fn()
		logger.Debug().Str("step", step.name).Msg("Cleanup step done")
	}
	c.steps = nil
}
