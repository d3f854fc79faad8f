// Package pipeline drives one message through the six stages: sanitize,
// classify, decompose, execute, synthesize, validate. Stages hand over
// immutable values; session state changes only at the edges, under the
// session's run lock.
package pipeline

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/backend"
	"github.com/quayline/orchestrator/internal/executor"
	"github.com/quayline/orchestrator/internal/guard"
	"github.com/quayline/orchestrator/internal/intent"
	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/plan"
	"github.com/quayline/orchestrator/internal/sanitize"
	"github.com/quayline/orchestrator/internal/session"
	"github.com/quayline/orchestrator/internal/streaming"
	"github.com/quayline/orchestrator/internal/synthesis"
)

const internalErrorText = "Something went wrong while processing your message. Please try again."

// Request is one inbound chat message with the caller's verified identity.
type Request struct {
	SessionID  string
	Role       models.Role
	Credential string
	Message    string
}

// Response is the released reply. SessionID may differ from the request's
// when the requested id belonged to another user.
type Response struct {
	SessionID             string            `json:"session_id"`
	Text                  string            `json:"text"`
	Category              models.Category   `json:"category,omitempty"`
	Payload               map[string]string `json:"payload,omitempty"`
	UsedTools             []string          `json:"used_tools,omitempty"`
	Rejected              bool              `json:"rejected,omitempty"`
	CredentialInvalidated bool              `json:"credential_invalidated,omitempty"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	store         session.Store
	sanitizer     *sanitize.Sanitizer
	classifier    intent.Classifier
	decomposer    *plan.Decomposer
	executor      *executor.Executor
	synthesizer   *synthesis.Synthesizer
	guard         *guard.Guard
	bus           *streaming.Bus
	historyWindow int
	logger        *zap.Logger
}

// Options collects the pipeline's collaborators.
type Options struct {
	Store         session.Store
	Sanitizer     *sanitize.Sanitizer
	Classifier    intent.Classifier
	Decomposer    *plan.Decomposer
	Executor      *executor.Executor
	Synthesizer   *synthesis.Synthesizer
	Guard         *guard.Guard
	Bus           *streaming.Bus
	HistoryWindow int
	Logger        *zap.Logger
}

// New assembles the pipeline.
func New(opts Options) *Pipeline {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	return &Pipeline{
		store:         opts.Store,
		sanitizer:     opts.Sanitizer,
		classifier:    opts.Classifier,
		decomposer:    opts.Decomposer,
		executor:      opts.Executor,
		synthesizer:   opts.Synthesizer,
		guard:         opts.Guard,
		bus:           opts.Bus,
		historyWindow: opts.HistoryWindow,
		logger:        opts.Logger,
	}
}

// Process runs one message end to end. It always returns a releasable
// response; stage failures surface as user-facing text, never as raw errors.
// The returned error is reserved for session store failures the transport
// should turn into a 5xx.
func (p *Pipeline) Process(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	outcome := "completed"
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic",
				zap.String("session_id", req.SessionID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = "panic"
			resp = &Response{SessionID: req.SessionID, Text: internalErrorText, Rejected: true}
			err = nil
		}
		metrics.PipelineRuns.WithLabelValues(outcome).Inc()
		metrics.PipelineStageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}()

	sess, created, err := p.store.GetOrCreate(ctx, req.SessionID, req.Role, req.Credential)
	if err != nil {
		outcome = "store_error"
		return nil, err
	}
	if created {
		p.logger.Info("session created",
			zap.String("session_id", sess.ID),
			zap.String("role", string(req.Role)))
	}

	if err := p.store.Acquire(ctx, sess.ID); err != nil {
		outcome = "store_error"
		return nil, err
	}
	defer p.store.Release(sess.ID)

	// Re-read under the lock; a concurrent run may have appended turns.
	if fresh, err := p.store.Get(ctx, sess.ID); err == nil {
		sess = fresh
	}

	meta := models.SessionMeta{SessionID: sess.ID, Role: req.Role}

	sanitized, err := p.runSanitize(sess.ID, req.Message, meta)
	if err != nil {
		outcome = "rejected"
		p.bus.Publish(sess.ID, streaming.Event{Type: streaming.TypePipelineRejected, Message: err.Error()})
		if touchErr := p.store.Touch(ctx, sess.ID); touchErr != nil {
			p.logger.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(touchErr))
		}
		return &Response{SessionID: sess.ID, Text: rejectionText(err), Rejected: true}, nil
	}

	history := sess.RecentHistory(p.historyWindow)

	classification, err := p.runClassify(ctx, sess.ID, sanitized, history, req.Role)
	if err != nil {
		outcome = "stage_error"
		return p.finish(ctx, sess.ID, req, sanitized.SanitizedText, internalErrorText, nil)
	}

	taskPlan, err := p.runDecompose(sess.ID, classification, sanitized, req.Role)
	if err != nil {
		outcome = "stage_error"
		return p.finish(ctx, sess.ID, req, sanitized.SanitizedText, internalErrorText, nil)
	}

	results, execErr := p.runExecute(ctx, sess.ID, taskPlan, req.Credential)
	credentialInvalidated := false
	if errors.Is(execErr, backend.ErrUnauthorized) {
		credentialInvalidated = true
		if invErr := p.store.InvalidateCredential(ctx, sess.ID); invErr != nil {
			p.logger.Warn("credential invalidation failed",
				zap.String("session_id", sess.ID), zap.Error(invErr))
		}
	} else if execErr != nil {
		outcome = "stage_error"
		return p.finish(ctx, sess.ID, req, sanitized.SanitizedText, internalErrorText, nil)
	}

	candidate := p.runSynthesize(sess.ID, req.Role, classification, taskPlan, results)
	verdict := p.runValidate(sess.ID, candidate, req.Role)

	resp, err = p.finish(ctx, sess.ID, req, sanitized.SanitizedText, verdict.Text, candidate.UsedTools)
	if resp != nil {
		resp.Category = classification.Category
		resp.Payload = verdict.Payload
		resp.CredentialInvalidated = credentialInvalidated
		resp.Rejected = !verdict.Approved
	}
	p.bus.Publish(sess.ID, streaming.Event{Type: streaming.TypePipelineCompleted})
	return resp, err
}

// finish appends the exchange to history and builds the response. The user
// turn records the sanitized text, not the raw input.
func (p *Pipeline) finish(ctx context.Context, sessionID string, req Request, userText, agentText string, usedTools []string) (*Response, error) {
	now := time.Now()
	if err := p.store.AppendTurn(ctx, sessionID, models.Turn{
		Speaker: models.SpeakerUser, Text: userText, Timestamp: now,
	}); err != nil {
		return nil, err
	}
	if err := p.store.AppendTurn(ctx, sessionID, models.Turn{
		Speaker: models.SpeakerAgent, Text: agentText, Timestamp: now,
	}); err != nil {
		return nil, err
	}
	return &Response{SessionID: sessionID, Text: agentText, UsedTools: usedTools}, nil
}

func (p *Pipeline) runSanitize(sessionID, message string, meta models.SessionMeta) (*models.SanitizedInput, error) {
	defer p.stage(sessionID, "sanitizer")()
	return p.sanitizer.Sanitize(message, meta)
}

func (p *Pipeline) runClassify(ctx context.Context, sessionID string, in *models.SanitizedInput, history []models.Turn, role models.Role) (models.IntentClassification, error) {
	defer p.stage(sessionID, "classifier")()
	c, err := p.classifier.Classify(ctx, in, history, role)
	if err != nil {
		p.logger.Error("classification failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return c, err
}

func (p *Pipeline) runDecompose(sessionID string, c models.IntentClassification, in *models.SanitizedInput, role models.Role) (models.TaskPlan, error) {
	defer p.stage(sessionID, "decomposer")()
	taskPlan, err := p.decomposer.Decompose(c, in, role)
	if err != nil {
		p.logger.Error("decomposition failed", zap.String("session_id", sessionID), zap.Error(err))
		return models.TaskPlan{}, err
	}
	return *taskPlan, nil
}

func (p *Pipeline) runExecute(ctx context.Context, sessionID string, taskPlan models.TaskPlan, credential string) ([]models.ToolResult, error) {
	defer p.stage(sessionID, "executor")()
	return p.executor.Execute(ctx, taskPlan, credential)
}

func (p *Pipeline) runSynthesize(sessionID string, role models.Role, c models.IntentClassification, taskPlan models.TaskPlan, results []models.ToolResult) models.SynthesizedOutput {
	defer p.stage(sessionID, "synthesizer")()
	return p.synthesizer.Synthesize(role, c, taskPlan, results)
}

func (p *Pipeline) runValidate(sessionID string, candidate models.SynthesizedOutput, role models.Role) models.ValidationVerdict {
	defer p.stage(sessionID, "guard")()
	return p.guard.Validate(candidate, role)
}

// stage publishes the started event and returns the completion hook.
func (p *Pipeline) stage(sessionID, name string) func() {
	start := time.Now()
	p.bus.Publish(sessionID, streaming.Event{Type: streaming.TypeStageStarted, Stage: name})
	return func() {
		metrics.PipelineStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		p.bus.Publish(sessionID, streaming.Event{Type: streaming.TypeStageCompleted, Stage: name})
	}
}

// rejectionText maps sanitizer errors to user-facing text.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, sanitize.ErrEmpty), errors.Is(err, sanitize.ErrEmptyAfterCleanup):
		return "Your message was empty. Tell me what you need help with."
	case errors.Is(err, sanitize.ErrTooShort):
		return "Your message was too short for me to act on. Could you add some detail?"
	case errors.Is(err, sanitize.ErrTooLong):
		return "Your message was too long. Please shorten it and try again."
	case errors.Is(err, sanitize.ErrRejectedInjection):
		return "I couldn't accept that message. Please rephrase your request."
	}
	return internalErrorText
}
