// Package executor runs task plans: independent sub-tasks fan out in
// parallel waves, transient failures retry with exponential backoff, and
// failed dependencies skip their dependents instead of aborting the run.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/agents"
	"github.com/quayline/orchestrator/internal/backend"
	"github.com/quayline/orchestrator/internal/errclass"
	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
	"github.com/quayline/orchestrator/internal/plan"
)

// Config bounds retries and fan-out.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TaskTimeout    time.Duration
	MaxConcurrent  int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		TaskTimeout:    15 * time.Second,
		MaxConcurrent:  4,
	}
}

// Executor dispatches sub-tasks to capability agents.
type Executor struct {
	registry *agents.Registry
	cfg      Config
	logger   *zap.Logger
}

// New builds an Executor. Zero config fields fall back to defaults.
func New(registry *agents.Registry, cfg Config, logger *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	return &Executor{registry: registry, cfg: cfg, logger: logger}
}

// Execute runs the plan and returns one result per sub-task, in plan order.
// Partial results are always returned: a failed sub-task fails alone and its
// dependents are skipped with a reason. The returned error is non-nil only
// for malformed plans and for credential rejections, which the caller must
// handle by invalidating the session credential.
func (e *Executor) Execute(ctx context.Context, p models.TaskPlan, credential string) ([]models.ToolResult, error) {
	if p.Tag != models.PlanExecute || len(p.SubTasks) == 0 {
		return nil, nil
	}
	waves, err := plan.Waves(p.SubTasks)
	if err != nil {
		return nil, err
	}

	var (
		mu           sync.Mutex
		byID         = make(map[string]models.ToolResult, len(p.SubTasks))
		unauthorized error
	)
	sem := make(chan struct{}, e.cfg.MaxConcurrent)

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, task := range wave {
			if reason, blocked := blockedBy(task, byID); blocked {
				byID[task.ID] = models.ToolResult{
					SubTaskID:  task.ID,
					ToolName:   task.ToolName,
					Skipped:    true,
					SkipReason: reason,
				}
				metrics.SubTaskExecutions.WithLabelValues(task.ToolName, "skipped").Inc()
				continue
			}

			wg.Add(1)
			go func(task models.SubTask) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				res, runErr := e.runTask(ctx, task, credential)

				mu.Lock()
				byID[task.ID] = res
				if unauthorized == nil && errors.Is(runErr, backend.ErrUnauthorized) {
					unauthorized = backend.ErrUnauthorized
				}
				mu.Unlock()
			}(task)
		}
		wg.Wait()
	}

	results := make([]models.ToolResult, 0, len(p.SubTasks))
	for _, task := range p.SubTasks {
		results = append(results, byID[task.ID])
	}
	return results, unauthorized
}

// blockedBy reports whether a dependency already finished unsuccessfully.
// Waves guarantee all dependencies ran in an earlier wave.
func blockedBy(task models.SubTask, byID map[string]models.ToolResult) (string, bool) {
	for _, dep := range task.DependsOn {
		res, ok := byID[dep]
		if !ok {
			continue
		}
		if res.Skipped {
			return "dependency " + dep + " was skipped", true
		}
		if !res.Success {
			return "dependency " + dep + " failed", true
		}
	}
	return "", false
}

func (e *Executor) runTask(ctx context.Context, task models.SubTask, credential string) (models.ToolResult, error) {
	start := time.Now()
	res := models.ToolResult{SubTaskID: task.ID, ToolName: task.ToolName}

	bridge, err := e.registry.For(task.Capability)
	if err != nil {
		res.Err = err.Error()
		res.Latency = time.Since(start)
		metrics.SubTaskExecutions.WithLabelValues(task.ToolName, "failure").Inc()
		return res, err
	}

	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialBackoff
	bo.MaxInterval = e.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxRetries)), taskCtx)

	var data map[string]string
	attempts := 0
	err = backoff.RetryNotify(func() error {
		attempts++
		var invokeErr error
		data, invokeErr = bridge.Invoke(taskCtx, task, credential)
		if invokeErr == nil {
			return nil
		}
		if errclass.IsTransient(invokeErr) {
			return invokeErr
		}
		return backoff.Permanent(invokeErr)
	}, policy, func(err error, _ time.Duration) {
		metrics.SubTaskRetries.Inc()
		e.logger.Warn("sub-task retrying after transient failure",
			zap.String("sub_task", task.ID),
			zap.String("tool", task.ToolName),
			zap.Error(err))
	})

	res.Attempts = attempts
	res.Latency = time.Since(start)
	metrics.SubTaskDuration.WithLabelValues(task.ToolName).Observe(res.Latency.Seconds())

	if err != nil {
		res.Err = err.Error()
		metrics.SubTaskExecutions.WithLabelValues(task.ToolName, "failure").Inc()
		if errors.Is(err, backend.ErrUnauthorized) {
			metrics.CredentialInvalidations.Inc()
			res.Err = "credential rejected by backend"
		}
		e.logger.Warn("sub-task failed",
			zap.String("sub_task", task.ID),
			zap.String("tool", task.ToolName),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return res, err
	}

	res.Success = true
	res.Data = data
	metrics.SubTaskExecutions.WithLabelValues(task.ToolName, "success").Inc()
	return res, nil
}
