// Package guard is the last stage before release. It applies role-keyed
// confidentiality rules to synthesized output: sensitive spans are redacted
// in place, and output a role must never see is replaced wholesale with a
// fallback text. Nothing leaves the pipeline without an approved verdict.
package guard

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

const (
	redactedMark = "[REDACTED]"

	defaultFallback = "I can't share the full details of that result. Please contact the terminal office if you need more."
)

// Guard validates synthesized output before release.
type Guard struct {
	mu       sync.RWMutex
	rules    []Rule
	path     string
	fallback string
	logger   *zap.Logger
}

// New builds a Guard. rulesPath may be empty, in which case the built-in
// rules apply and hot-reload is unavailable.
func New(rulesPath, fallback string, logger *zap.Logger) (*Guard, error) {
	g := &Guard{
		rules:    defaultRules(),
		path:     rulesPath,
		fallback: fallback,
		logger:   logger,
	}
	if g.fallback == "" {
		g.fallback = defaultFallback
	}
	if rulesPath != "" {
		rules, err := loadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		g.rules = rules
	}
	return g, nil
}

// Watch reloads the rule file when it changes, until ctx is done. A rule
// file that fails to load keeps the previous rules in force.
func (g *Guard) Watch(ctx context.Context) error {
	if g.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != g.path || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				g.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn("guard rule watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (g *Guard) reload() {
	rules, err := loadRules(g.path)
	if err != nil {
		g.logger.Error("guard rules reload failed, keeping previous rules",
			zap.String("path", g.path), zap.Error(err))
		return
	}
	g.mu.Lock()
	g.rules = rules
	g.mu.Unlock()
	g.logger.Info("guard rules reloaded",
		zap.String("path", g.path), zap.Int("rules", len(rules)))
}

// Validate applies the rule set for the role to the candidate text and its
// structured payload. Redactions run before reject checks so a span covered
// by both kinds of rule is redacted rather than sinking the whole output. A
// reject match in the text drops the whole output; a reject match on a
// payload entry withholds only that entry, keeping the narration the role is
// allowed to read. Validate is idempotent: running an approved verdict
// through again approves it unchanged.
func (g *Guard) Validate(out models.SynthesizedOutput, role models.Role) models.ValidationVerdict {
	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	text := out.Text
	var payload map[string]string
	if len(out.StructuredPayload) > 0 {
		payload = make(map[string]string, len(out.StructuredPayload))
		for k, v := range out.StructuredPayload {
			payload[k] = v
		}
	}
	var redactions []models.Redaction

	record := func(rule, match string) {
		redactions = append(redactions, models.Redaction{Rule: rule, Matched: match})
		metrics.GuardRedactions.WithLabelValues(rule).Inc()
	}

	for i := range rules {
		r := &rules[i]
		if r.Action != ActionRedact || !r.appliesTo(role) {
			continue
		}
		for _, match := range r.re.FindAllString(text, -1) {
			record(r.Name, match)
		}
		text = r.re.ReplaceAllString(text, redactedMark)
		for k, v := range payload {
			for _, match := range r.re.FindAllString(v, -1) {
				record(r.Name, match)
			}
			payload[k] = r.re.ReplaceAllString(v, redactedMark)
		}
	}

	for i := range rules {
		r := &rules[i]
		if r.Action != ActionReject || !r.appliesTo(role) {
			continue
		}
		if r.re.MatchString(text) {
			metrics.GuardVerdicts.WithLabelValues("rejected").Inc()
			g.logger.Warn("output rejected by guard rule",
				zap.String("rule", r.Name), zap.String("role", string(role)))
			return models.ValidationVerdict{
				Approved: false,
				Text:     g.fallback,
				Reason:   "rule " + r.Name,
			}
		}
		// Key-based rules see the entry name too.
		for k, v := range payload {
			if r.re.MatchString(k + ": " + v) {
				delete(payload, k)
				record(r.Name, k)
			}
		}
	}

	metrics.GuardVerdicts.WithLabelValues("approved").Inc()
	return models.ValidationVerdict{
		Approved:   true,
		Text:       text,
		Payload:    payload,
		Redactions: redactions,
	}
}
