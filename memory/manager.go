package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/94cram/botcore/internal/metrics"
)

// ManagerConfig tunes context assembly and background maintenance.
type ManagerConfig struct {
	// MaxSectionChars 每个提示段落的最大字符数
	MaxSectionChars int `yaml:"max_section_chars" json:"max_section_chars"`
	// HistoryLimit 交给回复生成器的最近原始消息条数
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
	// SummaryLimit 提示文本中展示的最近摘要条数
	SummaryLimit int `yaml:"summary_limit" json:"summary_limit"`
	// ExtractionInterval 每累计多少条消息触发一次租户事实提取
	ExtractionInterval int `yaml:"extraction_interval" json:"extraction_interval"`
	// TurnTimeout 后台回合处理的总超时
	TurnTimeout time.Duration `yaml:"turn_timeout" json:"turn_timeout"`
}

// DefaultManagerConfig returns the production tuning.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSectionChars:    500,
		HistoryLimit:       6,
		SummaryLimit:       3,
		ExtractionInterval: 50,
		TurnTimeout:        2 * time.Minute,
	}
}

// Manager orchestrates the three memory layers: it assembles a per-turn
// context from all of them and, after a reply is produced, updates them in
// the background without blocking the caller.
type Manager struct {
	global    *GlobalStore
	tenant    *TenantStore
	user      *UserStore
	extractor *Extractor
	config    ManagerConfig

	turns  *keyedMutex
	wg     sync.WaitGroup
	tracer trace.Tracer
	logger *zap.Logger
	mc     *metrics.Collector
}

// NewManager creates the memory orchestrator.
func NewManager(global *GlobalStore, tenant *TenantStore, user *UserStore, extractor *Extractor, config ManagerConfig, logger *zap.Logger, mc *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HistoryLimit <= 0 {
		config = DefaultManagerConfig()
	}
	return &Manager{
		global:    global,
		tenant:    tenant,
		user:      user,
		extractor: extractor,
		config:    config,
		turns:     newKeyedMutex(),
		tracer:    otel.Tracer("botcore/memory"),
		logger:    logger.With(zap.String("component", "memory_manager")),
		mc:        mc,
	}
}

// Context assembles the memory context for one inbound turn. The three
// layer reads are issued in parallel; a failing layer is substituted with an
// empty value so that one outage never prevents the others from
// contributing.
func (m *Manager) Context(ctx context.Context, botType BotType, userID, tenantID string) *Context {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "memory.Context",
		trace.WithAttributes(
			attribute.String("bot_type", string(botType)),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	var (
		globalEntries []GlobalEntry
		tenantDoc     *TenantDoc
		userDoc       *UserDoc
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := m.global.Entries(gctx)
		if err != nil {
			m.logger.Warn("global memory read failed", zap.Error(err))
			return nil
		}
		globalEntries = entries
		return nil
	})
	g.Go(func() error {
		doc, err := m.tenant.Doc(gctx, tenantID)
		if err != nil {
			m.logger.Warn("tenant memory read failed",
				zap.String("tenant_id", tenantID), zap.Error(err))
			return nil
		}
		tenantDoc = doc
		return nil
	})
	g.Go(func() error {
		doc, err := m.user.Doc(gctx, botType, userID)
		if err != nil {
			m.logger.Warn("user memory read failed",
				zap.String("bot_type", string(botType)),
				zap.String("user_id", userID),
				zap.Error(err))
			return nil
		}
		userDoc = doc
		return nil
	})
	_ = g.Wait()

	// 最近 N 条原始消息交给回复生成器
	var history []HistoryMessage
	if userDoc != nil {
		recent := userDoc.Messages
		if len(recent) > m.config.HistoryLimit {
			recent = recent[len(recent)-m.config.HistoryLimit:]
		}
		history = make([]HistoryMessage, 0, len(recent))
		for _, msg := range recent {
			history = append(history, HistoryMessage{Role: msg.Role, Text: msg.Content})
		}
	}

	result := &Context{
		Global:              globalEntries,
		Tenant:              tenantDoc,
		User:                userDoc,
		ConversationHistory: history,
		MemoryPromptSection: m.buildPromptSection(globalEntries, tenantDoc, userDoc),
	}

	m.mc.RecordContextAssembly(string(botType), time.Since(start))
	return result
}

// buildPromptSection concatenates the prompt-ready text block in fixed
// order: global entries, tenant facts, recent summaries, user facts.
// Sections with no data are omitted entirely.
func (m *Manager) buildPromptSection(globalEntries []GlobalEntry, tenantDoc *TenantDoc, userDoc *UserDoc) string {
	var b strings.Builder

	if len(globalEntries) > 0 {
		lines := make([]string, 0, len(globalEntries))
		for _, e := range globalEntries {
			lines = append(lines, fmt.Sprintf("- [%s] %s: %s", e.Category, e.Title, e.Content))
		}
		fmt.Fprintf(&b, "## 你學到的經驗\n\n%s\n\n",
			truncate(strings.Join(lines, "\n"), m.config.MaxSectionChars))
	}

	if tenantDoc != nil && len(tenantDoc.Facts) > 0 {
		lines := make([]string, 0, len(tenantDoc.Facts))
		for _, f := range tenantDoc.Facts {
			lines = append(lines, fmt.Sprintf("- [%s] %s", f.Category, f.Content))
		}
		fmt.Fprintf(&b, "## 這間補習班的習慣\n\n%s\n\n",
			truncate(strings.Join(lines, "\n"), m.config.MaxSectionChars))
	}

	if userDoc != nil && len(userDoc.Summaries) > 0 {
		recent := userDoc.Summaries
		if len(recent) > m.config.SummaryLimit {
			recent = recent[len(recent)-m.config.SummaryLimit:]
		}
		lines := make([]string, 0, len(recent))
		for _, s := range recent {
			line := "- " + s.Summary
			if len(s.KeyFacts) > 0 {
				line += fmt.Sprintf("（%s）", strings.Join(s.KeyFacts, "；"))
			}
			lines = append(lines, line)
		}
		fmt.Fprintf(&b, "## 之前的對話摘要\n\n%s\n\n", strings.Join(lines, "\n"))
	}

	if userDoc != nil && len(userDoc.UserFacts) > 0 {
		lines := make([]string, 0, len(userDoc.UserFacts))
		for _, f := range userDoc.UserFacts {
			lines = append(lines, fmt.Sprintf("- [%s] %s", f.Category, f.Fact))
		}
		fmt.Fprintf(&b, "## 你對這個人的認識\n\n%s\n\n", strings.Join(lines, "\n"))
	}

	return strings.TrimSpace(b.String())
}

// truncate cuts text to maxChars runes, ending on a complete ellipsis
// rather than mid-budget.
func truncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars-3]) + "..."
}

// RecordTurn appends the turn to user memory, triggers compaction when the
// window threshold is crossed, and mines a tenant fact on a fixed modulo of
// lifetime message count. It returns immediately; all work happens on a
// detached task whose failures are logged and never surface to the caller.
// Turns for the same (botType, userID) are processed in order.
func (m *Manager) RecordTurn(botType BotType, userID, tenantID, userMessage, botResponse, intent string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("record turn panicked", zap.Any("panic", r))
			}
			m.mc.RecordTurn(time.Since(start))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.config.TurnTimeout)
		defer cancel()
		ctx, span := m.tracer.Start(ctx, "memory.RecordTurn",
			trace.WithAttributes(attribute.String("bot_type", string(botType))))
		defer span.End()

		unlock := m.turns.Lock(DocKey(botType, userID))
		defer unlock()

		m.recordTurn(ctx, botType, userID, tenantID, userMessage, botResponse, intent)
	}()
}

func (m *Manager) recordTurn(ctx context.Context, botType BotType, userID, tenantID, userMessage, botResponse, intent string) {
	needsCompaction, err := m.user.AppendMessage(ctx, botType, userID, tenantID, Message{
		Role:    RoleUser,
		Content: userMessage,
		Intent:  intent,
	})
	if err != nil {
		m.logger.Warn("record turn failed",
			zap.String("bot_type", string(botType)),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	if _, err := m.user.AppendMessage(ctx, botType, userID, tenantID, Message{
		Role:    RoleAssistant,
		Content: botResponse,
	}); err != nil {
		m.logger.Warn("record turn failed",
			zap.String("bot_type", string(botType)),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	if needsCompaction {
		m.compactIfReady(ctx, botType, userID)
	}

	m.maybeExtractTenantFact(ctx, botType, userID, tenantID, userMessage, botResponse)
}

// compactIfReady re-reads the document and, when the live window is large
// enough, swaps its oldest slice for a summary.
func (m *Manager) compactIfReady(ctx context.Context, botType BotType, userID string) {
	doc, err := m.user.Doc(ctx, botType, userID)
	if err != nil {
		m.logger.Warn("compaction read failed", zap.Error(err))
		return
	}
	slice := m.user.Config().CompactionSlice
	if doc == nil || len(doc.Messages) < slice {
		return
	}

	oldest := doc.Messages[:slice]
	summary := m.extractor.CompactConversation(ctx, oldest)
	if err := m.user.Compact(ctx, botType, userID, summary); err != nil {
		m.logger.Warn("compaction write failed", zap.Error(err))
		return
	}
	m.logger.Info("compaction complete",
		zap.String("bot_type", string(botType)), zap.String("user_id", userID))
}

// maybeExtractTenantFact runs fact extraction every ExtractionInterval
// lifetime messages and upserts the result into tenant memory.
func (m *Manager) maybeExtractTenantFact(ctx context.Context, botType BotType, userID, tenantID, userMessage, botResponse string) {
	doc, err := m.user.Doc(ctx, botType, userID)
	if err != nil {
		m.logger.Warn("extraction read failed", zap.Error(err))
		return
	}
	if doc == nil || doc.TotalMessages()%m.config.ExtractionInterval != 0 {
		return
	}

	fact := m.extractor.ExtractTenantFact(ctx, userMessage, botResponse)
	if fact == nil {
		return
	}
	if err := m.tenant.UpsertFact(ctx, tenantID, *fact); err != nil {
		m.logger.Warn("extracted fact upsert failed",
			zap.String("tenant_id", tenantID),
			zap.String("fact_key", fact.Key),
			zap.Error(err))
		return
	}
	m.logger.Info("tenant fact extracted",
		zap.String("tenant_id", tenantID), zap.String("fact_key", fact.Key))
}

// Wait blocks until all in-flight background turns have finished. Intended
// for graceful shutdown and tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}
