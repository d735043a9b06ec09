package conversation

import (
	"errors"
	"strings"

	"chat-agent/internal/domain"
)

const (
	DefaultFromLanguage = "English"
	DefaultToLanguage   = "Ukrainian"
)

// ErrInvalidConfig is returned when a patch carries a blank language.
var ErrInvalidConfig = errors.New("conversation: invalid configuration")

// resolveConfig applies defaults to a stored config. Records written before
// the combined languages field existed get it synthesized from the legacy
// from/to pair; the legacy fields are kept as they were.
func resolveConfig(stored domain.ConversationConfig) domain.ConversationConfig {
	cfg := domain.ConversationConfig{
		FromLanguage: strings.TrimSpace(stored.FromLanguage),
		ToLanguage:   strings.TrimSpace(stored.ToLanguage),
		Languages:    cleanLanguages(stored.Languages),
		LearningMode: stored.LearningMode,
	}

	if len(cfg.Languages) == 0 {
		if cfg.FromLanguage != "" || cfg.ToLanguage != "" {
			cfg.Languages = cleanLanguages([]string{
				orDefault(cfg.FromLanguage, DefaultFromLanguage),
				orDefault(cfg.ToLanguage, DefaultToLanguage),
			})
		} else {
			cfg.Languages = []string{DefaultFromLanguage, DefaultToLanguage}
		}
	}
	if cfg.FromLanguage == "" {
		cfg.FromLanguage = cfg.Languages[0]
	}
	if cfg.ToLanguage == "" {
		cfg.ToLanguage = cfg.Languages[len(cfg.Languages)-1]
	}
	return cfg
}

// applyPatch merges p into an already resolved config. Setting either half of
// the legacy pair rewrites the combined list so both stay consistent.
func applyPatch(cfg domain.ConversationConfig, p domain.ConfigPatch) (domain.ConversationConfig, error) {
	out := cfg
	out.Languages = append([]string(nil), cfg.Languages...)

	if p.Languages != nil {
		langs := cleanLanguages(p.Languages)
		if len(langs) == 0 {
			return cfg, ErrInvalidConfig
		}
		out.Languages = langs
		out.FromLanguage = langs[0]
		out.ToLanguage = langs[len(langs)-1]
	}
	if p.FromLanguage != nil || p.ToLanguage != nil {
		if p.FromLanguage != nil {
			if strings.TrimSpace(*p.FromLanguage) == "" {
				return cfg, ErrInvalidConfig
			}
			out.FromLanguage = strings.TrimSpace(*p.FromLanguage)
		}
		if p.ToLanguage != nil {
			if strings.TrimSpace(*p.ToLanguage) == "" {
				return cfg, ErrInvalidConfig
			}
			out.ToLanguage = strings.TrimSpace(*p.ToLanguage)
		}
		out.Languages = cleanLanguages([]string{out.FromLanguage, out.ToLanguage})
	}
	if p.LearningMode != nil {
		out.LearningMode = *p.LearningMode
	}
	return resolveConfig(out), nil
}

// cleanLanguages trims entries and drops blanks and case-insensitive duplicates.
func cleanLanguages(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		key := strings.ToLower(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
