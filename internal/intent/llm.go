package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

// JSONCompleter is the slice of the LLM client the classifier needs: one
// schema-constrained completion per message.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// LLMClassifier delegates category selection to the language model but never
// lets free-form output escape: the reply is parsed, schema-checked and
// snapped to the closed taxonomy before anything downstream sees it. On any
// provider or parse failure it falls back to the rule classifier, so the
// external contract (inputs to one closed category) holds either way.
type LLMClassifier struct {
	completer JSONCompleter
	fallback  *RuleClassifier
	threshold float64
	logger    *zap.Logger
}

// NewLLMClassifier creates an LLM-backed classifier with a rule fallback.
func NewLLMClassifier(completer JSONCompleter, fallback *RuleClassifier, threshold float64, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		completer: completer,
		fallback:  fallback,
		threshold: threshold,
		logger:    logger,
	}
}

const classifySystemPrompt = `You classify port-logistics chat messages.
Reply with a single JSON object: {"category": "<category>", "confidence": <0..1>}
Valid categories: %s.
Use "out-of-scope" for anything unrelated to bookings, slots or terminal capacity.
Do not add any other keys or text.`

type llmVerdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (c *LLMClassifier) Classify(ctx context.Context, in *models.SanitizedInput, history []models.Turn, role models.Role) (models.IntentClassification, error) {
	system := fmt.Sprintf(classifySystemPrompt, categoryList())
	user := buildClassifyInput(in.SanitizedText, history)

	raw, err := c.completer.CompleteJSON(ctx, system, user)
	if err != nil {
		c.logger.Warn("LLM classification failed, using rule fallback",
			zap.String("session_id", in.SessionMeta.SessionID),
			zap.Error(err),
		)
		return c.fallback.Classify(ctx, in, history, role)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		c.logger.Warn("LLM classification unparseable, using rule fallback",
			zap.String("session_id", in.SessionMeta.SessionID),
			zap.Error(err),
		)
		return c.fallback.Classify(ctx, in, history, role)
	}

	category := models.Category(verdict.Category)
	if !KnownCategory(category) {
		// The model invented a label; snap to out-of-scope rather than
		// trusting it.
		c.logger.Warn("LLM returned unknown category, snapping to out-of-scope",
			zap.String("category", verdict.Category),
		)
		category = models.CategoryOutOfScope
		verdict.Confidence = 0.0
	}

	out := resolve(category, verdict.Confidence, role, c.threshold)
	metrics.IntentClassifications.WithLabelValues(string(out.Category), string(out.TargetCapability)).Inc()
	return out, nil
}

func parseVerdict(raw string) (llmVerdict, error) {
	// Models occasionally wrap JSON in fences; strip them before decoding.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var v llmVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return v, fmt.Errorf("decode classification: %w", err)
	}
	if v.Category == "" {
		return v, fmt.Errorf("classification missing category")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return v, fmt.Errorf("confidence %f out of range", v.Confidence)
	}
	return v, nil
}

func categoryList() string {
	names := make([]string, len(AllCategories))
	for i, c := range AllCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// buildClassifyInput renders the recent conversation plus the current message
// the way the model sees it. History is bounded to keep the prompt small.
func buildClassifyInput(text string, history []models.Turn) string {
	const maxTurns = 6
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(string(turn.Speaker))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString("current message: ")
	b.WriteString(text)
	return b.String()
}
