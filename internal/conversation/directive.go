package conversation

import (
	"fmt"
	"strings"

	"chat-agent/internal/domain"
)

// BuildDirective renders the system message for a resolved config.
func BuildDirective(cfg domain.ConversationConfig) string {
	sections := []string{
		"Role:",
		"You are a translator and helpful assistant taking part in a group chat.",
		"Several people may be talking; each user message is labelled with its author's name.",
		"",
		"Languages:",
		languagesRule(cfg.Languages),
		"",
		"Behavior Rules:",
		behaviorRules(),
	}
	if cfg.LearningMode {
		sections = append(sections, "", "Learning Mode:", learningRules())
	}
	sections = append(sections, "", "Tools:", toolRules())
	return strings.Join(sections, "\n")
}

func languagesRule(langs []string) string {
	switch len(langs) {
	case 0:
		return "Reply in the language the message was written in."
	case 1:
		return fmt.Sprintf("Translate every message into %s.", langs[0])
	case 2:
		return fmt.Sprintf(
			"The conversation languages are %s and %s. Translate messages written in %s into %s, and messages written in %s into %s.",
			langs[0], langs[1], langs[0], langs[1], langs[1], langs[0],
		)
	default:
		return fmt.Sprintf(
			"The conversation languages are %s. Translate each message into every other conversation language, one line per language, prefixed with the language name.",
			strings.Join(langs, ", "),
		)
	}
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Translate faithfully; keep names, numbers and emoji unchanged.",
		"2) Keep the tone and register of the original message.",
		"3) Reply with the translation only unless someone addresses you directly.",
		"4) When addressed directly, answer briefly in the language you were addressed in.",
	}, "\n")
}

func learningRules() string {
	return strings.Join([]string{
		"After each translation add one short note explaining a word, idiom or grammar point from it.",
		"Keep notes friendly and under two sentences.",
	}, "\n")
}

func toolRules() string {
	return "When someone asks to add something to the shopping list, call add_to_list with the item and, if given, when it is due. " +
		"When someone asks what is on the list, call list_items."
}
