package domain

// ConversationID identifies one chat's independent history and configuration.
type ConversationID string

// ConversationConfig is the mutable per-conversation configuration.
// FromLanguage/ToLanguage are the legacy discrete pair; Languages is the
// combined field that newer records carry.
type ConversationConfig struct {
	FromLanguage string   `json:"fromLanguage,omitempty"`
	ToLanguage   string   `json:"toLanguage,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	LearningMode bool     `json:"learningMode"`
}

// ConfigPatch carries the fields of a partial configuration update.
// Nil fields are left unchanged.
type ConfigPatch struct {
	FromLanguage *string  `json:"fromLanguage,omitempty"`
	ToLanguage   *string  `json:"toLanguage,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	LearningMode *bool    `json:"learningMode,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p.FromLanguage == nil && p.ToLanguage == nil && p.Languages == nil && p.LearningMode == nil
}

// ConversationState is the persisted record of one conversation.
type ConversationState struct {
	ConversationID ConversationID
	Messages       []ChatMessage
	Config         ConversationConfig
	Version        int64
	UpdatedAt      string
	TTL            int64
}
