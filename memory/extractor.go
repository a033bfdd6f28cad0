package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/94cram/botcore/internal/metrics"
)

// LLMClient is the external summarizer/extractor contract. Implementations
// send one instruction plus input text and return the model's JSON text.
type LLMClient interface {
	CompleteJSON(ctx context.Context, instruction, input string) (string, error)
}

const compactionPrompt = `你是一個對話摘要助手。請將以下對話摘要成：
1. 一段簡短摘要（50字以內）
2. 關鍵事實列表（最多5項）

重點記錄：用戶經常問什麼、偏好、糾正過的錯誤、重要決定。

回傳 JSON：{ "summary": "...", "key_facts": ["...", "..."] }`

const tenantFactPrompt = `你是一個補習班記憶助手。請分析以下對話回合，判斷是否有值得記錄的補習班習慣或偏好。

只記錄明確的、可重複使用的資訊，例如：
- 班主任糾正了某個稱呼方式
- 班主任表達了某個操作偏好
- 發現了某個補習班特有的工作流程

如果沒有值得記錄的資訊，回傳 null。

回傳 JSON 格式：
{
  "key": "唯一識別鍵（英文snake_case）",
  "category": "preference | naming | workflow | policy | correction",
  "content": "具體描述",
  "confidence": 0.0-1.0
}

或回傳：null`

const maxKeyFacts = 5

// Extractor runs conversation compaction and tenant fact mining against an
// external LLM. Every call is bounded by a timeout; any failure degrades to
// the documented fallback and is never propagated.
type Extractor struct {
	client  LLMClient
	timeout time.Duration
	logger  *zap.Logger
	mc      *metrics.Collector
}

// NewExtractor creates the compaction/extraction pipeline. timeout bounds
// each external call; zero means 30 seconds.
func NewExtractor(client LLMClient, timeout time.Duration, logger *zap.Logger, mc *metrics.Collector) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		client:  client,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "memory_extractor")),
		mc:      mc,
	}
}

type compactionResult struct {
	Summary  string   `json:"summary"`
	KeyFacts []string `json:"key_facts"`
}

// CompactConversation summarizes an ordered message transcript. It never
// fails: on timeout or malformed output it returns a degenerate summary that
// still carries the correct message count.
func (e *Extractor) CompactConversation(ctx context.Context, messages []Message) Summary {
	now := time.Now()
	periodStart, periodEnd := now, now
	if len(messages) > 0 {
		periodStart = messages[0].Timestamp
		periodEnd = messages[len(messages)-1].Timestamp
	}

	var b strings.Builder
	for _, m := range messages {
		speaker := "用戶"
		if m.Role == RoleAssistant {
			speaker = "助手"
		}
		fmt.Fprintf(&b, "%s：%s\n", speaker, m.Content)
	}

	summary := Summary{
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		MessageCount: len(messages),
		CreatedAt:    now,
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.client.CompleteJSON(ctx, compactionPrompt, b.String())
	if err == nil {
		var parsed compactionResult
		if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr == nil && parsed.Summary != "" {
			keyFacts := parsed.KeyFacts
			if len(keyFacts) > maxKeyFacts {
				keyFacts = keyFacts[:maxKeyFacts]
			}
			if keyFacts == nil {
				keyFacts = []string{}
			}
			summary.Summary = parsed.Summary
			summary.KeyFacts = keyFacts
			e.mc.RecordCompaction(false)
			return summary
		}
		err = fmt.Errorf("malformed compaction output: %q", text)
	}

	e.logger.Warn("compaction failed, using fallback summary",
		zap.Int("message_count", len(messages)), zap.Error(err))
	e.mc.RecordCompaction(true)

	summary.Summary = fmt.Sprintf("conversation summary (%d messages)", len(messages))
	summary.KeyFacts = []string{}
	return summary
}

type tenantFactCandidate struct {
	Key        string             `json:"key"`
	Category   TenantFactCategory `json:"category"`
	Content    string             `json:"content"`
	Confidence float64            `json:"confidence"`
}

// ExtractTenantFact mines one conversational turn for a durable tenant-level
// fact. Returns nil when nothing worth recording is found; a literal "null",
// an empty response, malformed JSON and transport errors all count as "no
// fact found" and are never propagated.
func (e *Extractor) ExtractTenantFact(ctx context.Context, userMessage, botResponse string) *TenantFact {
	input := fmt.Sprintf("用戶：%s\n助手：%s", userMessage, botResponse)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.client.CompleteJSON(ctx, tenantFactPrompt, input)
	if err != nil {
		e.logger.Warn("tenant fact extraction failed", zap.Error(err))
		e.mc.RecordExtraction(false)
		return nil
	}

	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		e.mc.RecordExtraction(false)
		return nil
	}

	var parsed tenantFactCandidate
	if err := json.Unmarshal([]byte(text), &parsed); err != nil || parsed.Key == "" {
		e.logger.Warn("unusable tenant fact output", zap.String("output", text), zap.Error(err))
		e.mc.RecordExtraction(false)
		return nil
	}

	now := time.Now()
	e.mc.RecordExtraction(true)
	return &TenantFact{
		Key:        parsed.Key,
		Category:   parsed.Category,
		Content:    parsed.Content,
		Confidence: parsed.Confidence,
		Source:     "conversation",
		LastUsedAt: now,
		CreatedAt:  now,
	}
}
