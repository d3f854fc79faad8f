// Package sanitize normalizes and screens raw user input before it reaches
// any downstream stage. It is the only stage that sees the original text; a
// message the sanitizer rejects never reaches the language-model backend.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

var (
	// ErrEmpty is returned for empty or whitespace-only input.
	ErrEmpty = errors.New("empty input")

	// ErrTooShort is returned for input below the configured minimum.
	ErrTooShort = errors.New("input too short")

	// ErrTooLong is returned for input above the configured maximum.
	ErrTooLong = errors.New("input too long")

	// ErrRejectedInjection is returned in strict mode when an injection
	// pattern matches.
	ErrRejectedInjection = errors.New("rejected: input matches injection pattern")

	// ErrEmptyAfterCleanup is returned when stripping leaves nothing usable.
	ErrEmptyAfterCleanup = errors.New("input empty after cleanup")
)

// Config bounds input size and selects strictness.
type Config struct {
	MinLength  int
	MaxLength  int
	StrictMode bool
}

// Sanitizer screens raw input. It is stateless and safe for concurrent use.
type Sanitizer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Sanitizer.
func New(cfg Config, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{cfg: cfg, logger: logger}
}

// Sanitize validates, screens and normalizes one inbound message. It never
// mutates session state; its only output is the returned value or a typed
// error the caller surfaces as a user-facing rejection.
func (s *Sanitizer) Sanitize(raw string, meta models.SessionMeta) (*models.SanitizedInput, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		metrics.InputRejections.WithLabelValues("empty").Inc()
		return nil, ErrEmpty
	}
	if len([]rune(trimmed)) < s.cfg.MinLength {
		metrics.InputRejections.WithLabelValues("too_short").Inc()
		return nil, ErrTooShort
	}
	if len([]rune(trimmed)) > s.cfg.MaxLength {
		metrics.InputRejections.WithLabelValues("too_long").Inc()
		return nil, fmt.Errorf("%w: %d runes over limit %d", ErrTooLong, len([]rune(trimmed)), s.cfg.MaxLength)
	}

	out := &models.SanitizedInput{
		OriginalText: raw,
		SessionMeta:  meta,
	}

	// Injection scan runs on the raw trimmed text so patterns hidden inside
	// markup are still caught.
	for _, family := range injectionFamilies {
		for _, re := range family.patterns {
			if re.MatchString(trimmed) {
				out.InjectionDetected = true
				out.RemovedPatterns = append(out.RemovedPatterns, family.name)
				metrics.InjectionsDetected.WithLabelValues(family.name).Inc()
				s.logger.Warn("Injection pattern detected",
					zap.String("session_id", meta.SessionID),
					zap.String("family", family.name),
				)
				break // one hit per family is enough
			}
		}
	}
	if out.InjectionDetected && s.cfg.StrictMode {
		metrics.InputRejections.WithLabelValues("rejected_injection").Inc()
		return nil, ErrRejectedInjection
	}

	cleaned := trimmed
	for _, mp := range markupPatterns {
		if mp.re.MatchString(cleaned) {
			cleaned = mp.re.ReplaceAllString(cleaned, " ")
			out.RemovedPatterns = append(out.RemovedPatterns, mp.name)
		}
	}

	cleaned = normalize(cleaned)
	if cleaned == "" {
		metrics.InputRejections.WithLabelValues("empty_after_cleanup").Inc()
		return nil, ErrEmptyAfterCleanup
	}

	out.SanitizedText = cleaned
	out.DetectedLanguage = detectLanguage(cleaned)
	return out, nil
}

// normalize strips zero-width and control characters, straightens quote
// glyphs, and collapses whitespace runs.
func normalize(text string) string {
	text = zeroWidthRe.ReplaceAllString(text, "")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if repl, ok := quoteReplacer[r]; ok {
			b.WriteRune(repl)
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	out := whitespaceRe.ReplaceAllString(b.String(), " ")
	out = newlineRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// detectLanguage does coarse script/diacritic detection for downstream
// formatting. It is not a translation step.
func detectLanguage(text string) string {
	counts := map[string]int{}
	total := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hebrew, r):
			counts["he"]++
		case unicode.Is(unicode.Thai, r):
			counts["th"]++
		}
	}
	if total == 0 {
		return "en"
	}
	for lang, n := range counts {
		if n*5 >= total { // 20% of letters in a non-Latin script decides
			return lang
		}
	}
	return latinLanguage(text)
}

// latinLanguage separates a few Latin-script languages by diacritic markers.
func latinLanguage(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.ContainsAny(lower, "¿¡ñ"):
		return "es"
	case strings.ContainsAny(lower, "ßäöü"):
		return "de"
	case strings.ContainsAny(lower, "çàâêîôûëï"):
		return "fr"
	}
	return "en"
}
