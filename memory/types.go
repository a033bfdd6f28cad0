// Package memory implements the three-layer conversational memory system:
// global product knowledge, per-tenant facts, and per-user conversation
// history with rolling summaries.
package memory

import "time"

// BotType identifies which bot surface a conversation belongs to.
type BotType string

const (
	BotAdmin  BotType = "admin"
	BotParent BotType = "parent"
)

// GlobalCategory classifies a global memory entry.
type GlobalCategory string

const (
	GlobalFAQPattern       GlobalCategory = "faq_pattern"
	GlobalBehaviorLearning GlobalCategory = "behavior_learning"
	GlobalCommonCorrection GlobalCategory = "common_correction"
)

// GlobalEntry is a tenant-agnostic knowledge entry (learned FAQ patterns,
// corrections). Read-mostly; UsageCount is best-effort and may lose
// increments under concurrency.
type GlobalEntry struct {
	ID         string         `json:"id" bson:"_id"`
	Category   GlobalCategory `json:"category" bson:"category"`
	Title      string         `json:"title" bson:"title"`
	Content    string         `json:"content" bson:"content"`
	Keywords   []string       `json:"keywords" bson:"keywords"`
	Source     string         `json:"source" bson:"source"` // manual, auto
	UsageCount int            `json:"usage_count" bson:"usage_count"`
	Active     bool           `json:"active" bson:"active"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" bson:"updated_at"`
}

// TenantFactCategory classifies a tenant fact.
type TenantFactCategory string

const (
	TenantPreference TenantFactCategory = "preference"
	TenantNaming     TenantFactCategory = "naming"
	TenantWorkflow   TenantFactCategory = "workflow"
	TenantPolicy     TenantFactCategory = "policy"
	TenantCorrection TenantFactCategory = "correction"
)

// TenantFact is one per-tenant fact. Key is unique within a tenant's fact
// list; upserting an existing key replaces content, confidence and
// last_used_at while preserving the original created_at.
type TenantFact struct {
	Key        string             `json:"key" bson:"key"`
	Category   TenantFactCategory `json:"category" bson:"category"`
	Content    string             `json:"content" bson:"content"`
	Confidence float64            `json:"confidence" bson:"confidence"`
	Source     string             `json:"source" bson:"source"` // conversation, manual
	LastUsedAt time.Time          `json:"last_used_at" bson:"last_used_at"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}

// TenantDoc is the whole-document unit of tenant memory storage and cache
// invalidation.
type TenantDoc struct {
	TenantID  string       `json:"tenant_id" bson:"_id"`
	Facts     []TenantFact `json:"facts" bson:"facts"`
	UpdatedAt time.Time    `json:"updated_at" bson:"updated_at"`
}

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one raw conversation message. Append-only within a
// conversation; insertion order is preserved across compaction.
type Message struct {
	Role      Role           `json:"role" bson:"role"`
	Content   string         `json:"content" bson:"content"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Intent    string         `json:"intent,omitempty" bson:"intent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Summary is the result of compacting a contiguous prefix of raw messages.
// MessageCount retains how many raw messages it replaced, so total lifetime
// turns can be computed without re-reading archived messages.
type Summary struct {
	PeriodStart  time.Time `json:"period_start" bson:"period_start"`
	PeriodEnd    time.Time `json:"period_end" bson:"period_end"`
	Summary      string    `json:"summary" bson:"summary"`
	KeyFacts     []string  `json:"key_facts" bson:"key_facts"`
	MessageCount int       `json:"message_count" bson:"message_count"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// UserFactCategory classifies a user fact.
type UserFactCategory string

const (
	UserPreference UserFactCategory = "preference"
	UserPattern    UserFactCategory = "pattern"
	UserContext    UserFactCategory = "context"
)

// UserFact is a freeform note about one individual.
type UserFact struct {
	Fact      string           `json:"fact" bson:"fact"`
	Category  UserFactCategory `json:"category" bson:"category"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// UserDoc holds one user's conversation state for one bot surface: the live
// raw message window, rolling summaries and per-user facts.
type UserDoc struct {
	Key       string     `json:"-" bson:"_id"` // <botType>_<userID>
	BotType   BotType    `json:"bot_type" bson:"bot_type"`
	UserID    string     `json:"user_id" bson:"user_id"`
	TenantID  string     `json:"tenant_id" bson:"tenant_id"`
	Messages  []Message  `json:"messages" bson:"messages"`
	Summaries []Summary  `json:"summaries" bson:"summaries"`
	UserFacts []UserFact `json:"user_facts" bson:"user_facts"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
}

// TotalMessages returns the lifetime message count: live window plus
// everything archived into summaries.
func (d *UserDoc) TotalMessages() int {
	if d == nil {
		return 0
	}
	total := len(d.Messages)
	for _, s := range d.Summaries {
		total += s.MessageCount
	}
	return total
}

// HistoryMessage is one conversation turn handed to the reply generator.
type HistoryMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Context is the assembled memory context for one inbound turn. Constructed
// fresh per turn and discarded after use; never cached itself.
type Context struct {
	Global              []GlobalEntry
	Tenant              *TenantDoc
	User                *UserDoc
	ConversationHistory []HistoryMessage
	MemoryPromptSection string
}
