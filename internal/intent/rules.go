package intent

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

// Classifier labels sanitized input with one category from the closed
// taxonomy. Implementations must be deterministic for identical inputs.
type Classifier interface {
	Classify(ctx context.Context, in *models.SanitizedInput, history []models.Turn, role models.Role) (models.IntentClassification, error)
}

// categoryPatterns drive the rule classifier. Scores are pattern hit counts;
// ties between categories drop confidence below any sane threshold so the
// pipeline asks for clarification instead of guessing.
var categoryPatterns = map[models.Category][]*regexp.Regexp{
	models.CategoryBookingCreate: {
		regexp.MustCompile(`(?i)\b(new|create|make|request|schedule)\b.{0,30}\bbooking\b`),
		regexp.MustCompile(`(?i)\bbook\b.{0,30}\b(slot|appointment|time)\b`),
		regexp.MustCompile(`(?i)\bI\s+(need|want)\s+(a|to)\s+book`),
	},
	models.CategoryBookingStatus: {
		regexp.MustCompile(`(?i)\b(status|state|progress)\b.{0,30}\bbooking\b`),
		regexp.MustCompile(`(?i)\bbooking\b.{0,30}\b(status|confirmed|pending|approved)\b`),
		regexp.MustCompile(`(?i)\b(is|was)\s+my\s+booking\b`),
		regexp.MustCompile(`(?i)\btrack\b.{0,20}\bbooking\b`),
	},
	models.CategoryBookingUpdate: {
		regexp.MustCompile(`(?i)\b(change|update|modify|move|reschedule)\b.{0,30}\bbooking\b`),
		regexp.MustCompile(`(?i)\bbooking\b.{0,30}\b(different|another)\s+(time|slot|date)\b`),
	},
	models.CategoryBookingCancel: {
		regexp.MustCompile(`(?i)\bcancel\b.{0,30}\bbooking\b`),
		regexp.MustCompile(`(?i)\bbooking\b.{0,30}\bcancel`),
		regexp.MustCompile(`(?i)\bcall\s+off\b.{0,20}\bbooking\b`),
	},
	models.CategoryBookingApprove: {
		regexp.MustCompile(`(?i)\bapprove\b.{0,30}\bbooking\b`),
		regexp.MustCompile(`(?i)\bbooking\b.{0,30}\bapprov`),
		regexp.MustCompile(`(?i)\b(reject|decline)\b.{0,30}\bbooking\b`),
	},
	models.CategorySlotQuery: {
		regexp.MustCompile(`(?i)\b(slot|slots)\b.{0,40}\b(available|free|open)\b`),
		regexp.MustCompile(`(?i)\b(available|free|open)\b.{0,40}\b(slot|slots|time)\b`),
		regexp.MustCompile(`(?i)\bavailability\b`),
		regexp.MustCompile(`(?i)\bwhen\s+can\s+I\s+(come|arrive|deliver)\b`),
	},
	models.CategoryCapacityQuery: {
		regexp.MustCompile(`(?i)\bcapacity\b`),
		regexp.MustCompile(`(?i)\bhow\s+(many|much)\b.{0,40}\b(slots?|trucks?|containers?|space)\b`),
		regexp.MustCompile(`(?i)\butili[sz]ation\b`),
	},
	models.CategoryGeneralHelp: {
		regexp.MustCompile(`(?i)\bhelp\b`),
		regexp.MustCompile(`(?i)\bwhat\s+can\s+you\s+do\b`),
		regexp.MustCompile(`(?i)\bhow\s+do(es)?\s+(I|this|it)\b`),
		regexp.MustCompile(`(?i)\b(hi|hello|hey)\b`),
	},
}

// followUpRe marks messages that lean on the previous exchange for their
// subject: bare ids, "what about ...", "and ...".
var followUpRe = regexp.MustCompile(`(?i)^\s*(?:and\b|what about\b|how about\b|same\b|again\b|\d+\??\s*$|(?:it|that(?:\s+one)?)\b)`)

// followUpLookback bounds how far back a follow-up searches for its subject.
const followUpLookback = 6

// RuleClassifier is the deterministic pattern-scoring classifier. It serves
// as the fallback when the LLM classifier is unavailable and as the fixture
// for pipeline tests. History matters only for follow-up phrasings, which
// inherit the category of the most recent classifiable user turn.
type RuleClassifier struct {
	threshold float64
	logger    *zap.Logger
}

// NewRuleClassifier creates a rule classifier with the given confidence
// threshold.
func NewRuleClassifier(threshold float64, logger *zap.Logger) *RuleClassifier {
	return &RuleClassifier{threshold: threshold, logger: logger}
}

func (c *RuleClassifier) Classify(ctx context.Context, in *models.SanitizedInput, history []models.Turn, role models.Role) (models.IntentClassification, error) {
	text := in.SanitizedText

	best, bestScore, secondScore := models.CategoryOutOfScope, 0, 0
	for _, cat := range AllCategories {
		score := 0
		for _, re := range categoryPatterns[cat] {
			if re.MatchString(text) {
				score++
			}
		}
		if score > bestScore {
			secondScore = bestScore
			best, bestScore = cat, score
		} else if score > secondScore {
			secondScore = score
		}
	}

	followUp := false
	if bestScore == 0 && followUpRe.MatchString(text) {
		if cat, ok := recentCategory(history); ok {
			best, followUp = cat, true
		}
	}

	var confidence float64
	switch {
	case followUp:
		confidence = 0.6
	case bestScore == 0:
		best = models.CategoryOutOfScope
		confidence = 0.9
	case bestScore == secondScore:
		// Two categories tied: ambiguous, force clarification.
		confidence = 0.4
	case bestScore == 1:
		confidence = 0.7
	default:
		confidence = 0.95
	}

	out := resolve(best, confidence, role, c.threshold)
	metrics.IntentClassifications.WithLabelValues(string(out.Category), string(out.TargetCapability)).Inc()
	c.logger.Debug("Classified intent",
		zap.String("session_id", in.SessionMeta.SessionID),
		zap.String("category", string(out.Category)),
		zap.Float64("confidence", out.Confidence),
		zap.String("capability", string(out.TargetCapability)),
	)
	return out, nil
}

// recentCategory rescores the latest user turns so a bare follow-up such as
// "what about 6611?" inherits the subject of the exchange.
func recentCategory(history []models.Turn) (models.Category, bool) {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < followUpLookback; i-- {
		seen++
		if history[i].Speaker != models.SpeakerUser {
			continue
		}
		best, bestScore := models.CategoryOutOfScope, 0
		for _, cat := range AllCategories {
			score := 0
			for _, re := range categoryPatterns[cat] {
				if re.MatchString(history[i].Text) {
					score++
				}
			}
			if score > bestScore {
				best, bestScore = cat, score
			}
		}
		if bestScore > 0 {
			return best, true
		}
	}
	return models.CategoryOutOfScope, false
}
