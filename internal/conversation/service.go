package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/credential"
	"github.com/clarity-platform/clarity/internal/gateway"
	"github.com/clarity-platform/clarity/internal/knowledge"
	"github.com/clarity-platform/clarity/internal/metrics"
	inats "github.com/clarity-platform/clarity/internal/nats"
	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
)

const (
	// historyFetchLimit caps how many recent turns enter prompt assembly
	// before the character budget trims further.
	historyFetchLimit = 50

	// charsPerToken is the rough budget conversion used when bounding
	// history and retrieved context by the model's context window.
	charsPerToken = 4

	// ragBudgetShare is the fraction of the prompt budget reserved for
	// retrieved context when the session has knowledge bases attached.
	ragBudgetShare = 0.25

	defaultMaxTokens = 2048
	ragSearchLimit   = 5
)

// Collaborator contracts, satisfied by the concrete services wired in
// main. Narrow interfaces keep the orchestrator testable without storage.
type (
	QuotaLedger interface {
		TryConsume(ctx context.Context, userID uuid.UUID, tokens int64) (int64, error)
		Status(ctx context.Context, userID uuid.UUID) (*quota.Status, error)
	}

	CredentialResolver interface {
		Resolve(ctx context.Context, userID uuid.UUID, p *provider.Provider, preference string) (*credential.Resolved, error)
		RecordUsage(ctx context.Context, cred *credential.Config, tokens int64) error
	}

	ContextRetriever interface {
		Search(ctx context.Context, kbIDs []uuid.UUID, query string, limit int) ([]knowledge.SearchResult, error)
	}

	ModelGateway interface {
		Invoke(ctx context.Context, call *gateway.Call) (*provider.Response, error)
		InvokeStream(ctx context.Context, call *gateway.Call) (<-chan provider.StreamDelta, error)
	}

	UsagePublisher interface {
		PublishUsageEvent(ctx context.Context, event inats.UsageEvent) error
	}
)

// Service orchestrates conversation turns: sequencing, retrieval,
// credential selection, the provider call, and post-call quota accounting.
type Service struct {
	repo        Repository
	history     *HistoryCache
	ledger      QuotaLedger
	credentials CredentialResolver
	providers   provider.Repository
	retriever   ContextRetriever
	gw          ModelGateway
	publisher   UsagePublisher
	logger      *slog.Logger
}

func NewService(
	repo Repository,
	history *HistoryCache,
	ledger QuotaLedger,
	credentials CredentialResolver,
	providers provider.Repository,
	retriever ContextRetriever,
	gw ModelGateway,
	publisher UsagePublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		history:     history,
		ledger:      ledger,
		credentials: credentials,
		providers:   providers,
		retriever:   retriever,
		gw:          gw,
		publisher:   publisher,
		logger:      logger,
	}
}

type CreateSessionInput struct {
	Title                string
	ProviderID           uuid.UUID
	ModelCode            string
	CredentialPreference string
	SystemPrompt         string
	KnowledgeBaseIDs     []uuid.UUID
}

// CreateSession validates the provider/model pairing and opens an ACTIVE
// session. An unset provider falls back to the system default.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, in CreateSessionInput) (*Session, error) {
	var p *provider.Provider
	var err error
	if in.ProviderID == uuid.Nil {
		p, err = s.providers.GetSystemDefault(ctx)
	} else {
		p, err = s.providers.GetByID(ctx, in.ProviderID)
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("provider not found")
	}

	model, err := s.providers.GetModel(ctx, p.ID, in.ModelCode)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("model %q not offered by provider %s", in.ModelCode, p.Code)
	}

	preference := in.CredentialPreference
	if preference == "" {
		preference = credential.PreferenceAuto
	}
	if !credential.ValidPreference(preference) {
		return nil, fmt.Errorf("%w: %q", credential.ErrInvalidPreference, preference)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:                   uuid.New(),
		UserID:               userID,
		Title:                in.Title,
		ProviderID:           p.ID,
		ModelCode:            in.ModelCode,
		CredentialPreference: preference,
		SystemPrompt:         in.SystemPrompt,
		KnowledgeBaseIDs:     in.KnowledgeBaseIDs,
		Status:               SessionActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID || session.Status == SessionDeleted {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

// Archive transitions ACTIVE -> ARCHIVED. Archived sessions reject sends.
func (s *Service) Archive(ctx context.Context, sessionID, userID uuid.UUID) error {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.repo.UpdateSessionStatus(ctx, sessionID, SessionActive, SessionArchived)
}

// Unarchive reactivates an archived session.
func (s *Service) Unarchive(ctx context.Context, sessionID, userID uuid.UUID) error {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.repo.UpdateSessionStatus(ctx, sessionID, SessionArchived, SessionActive)
}

// Delete soft-deletes from either non-terminal state.
func (s *Service) Delete(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateSessionStatus(ctx, sessionID, session.Status, SessionDeleted); err != nil {
		return err
	}
	if err := s.history.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("invalidating history cache", "error", err, "session_id", sessionID)
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID, userID uuid.UUID, limit int) ([]*Message, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, sessionID, limit)
}

// SendMessage runs one full turn. The user message is persisted first and
// survives any later failure; the assistant message is persisted once
// generated, even when the subsequent quota charge is rejected, because
// the upstream provider has already billed for it.
func (s *Service) SendMessage(ctx context.Context, sessionID, userID uuid.UUID, content string) (*TurnResult, error) {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionActive {
		return nil, ErrSessionNotActive
	}
	if session.OverQuota {
		return nil, ErrSessionOverQuota
	}

	userMsg, err := s.appendUserMessage(ctx, session, content)
	if err != nil {
		return nil, err
	}

	turn, err := s.prepareTurn(ctx, session, content)
	if err != nil {
		// Aborts before any provider cost; the user message stays as a
		// normal turn with no assistant reply.
		return nil, err
	}

	resp, err := s.gw.Invoke(ctx, turn.call)
	if err != nil {
		return nil, err
	}

	assistantMsg, quotaWarning, err := s.recordAssistantTurn(ctx, session, turn, resp.Content, resp.Usage)
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		QuotaWarning:     quotaWarning,
	}, nil
}

// SendMessageStream runs one turn with incremental output. Deltas are
// forwarded to the returned channel; the assistant message is persisted
// only from the complete stream. Cancellation mid-stream discards the
// partial output while the user message stays.
func (s *Service) SendMessageStream(ctx context.Context, sessionID, userID uuid.UUID, content string) (<-chan provider.StreamDelta, error) {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionActive {
		return nil, ErrSessionNotActive
	}
	if session.OverQuota {
		return nil, ErrSessionOverQuota
	}

	if _, err := s.appendUserMessage(ctx, session, content); err != nil {
		return nil, err
	}

	turn, err := s.prepareTurn(ctx, session, content)
	if err != nil {
		return nil, err
	}

	upstream, err := s.gw.InvokeStream(ctx, turn.call)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.StreamDelta, 16)
	go func() {
		defer close(out)

		var sb strings.Builder
		for delta := range upstream {
			if delta.Err != nil {
				out <- delta
				return
			}
			sb.WriteString(delta.Content)

			if !delta.Done {
				out <- delta
				continue
			}

			// Persistence must survive client disconnect; the request ctx
			// is already done when the consumer cancelled.
			persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			usage := provider.Usage{}
			if delta.Usage != nil {
				usage = *delta.Usage
			}
			if _, _, err := s.recordAssistantTurn(persistCtx, session, turn, sb.String(), usage); err != nil {
				s.logger.Error("persisting streamed assistant turn", "error", err, "session_id", session.ID)
			}
			cancel()
			out <- delta
		}
	}()
	return out, nil
}

func (s *Service) appendUserMessage(ctx context.Context, session *Session, content string) (*Message, error) {
	msg := &Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   content,
		Status:    MessageCompleted,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.history.Append(ctx, session.ID, msg); err != nil {
		s.logger.Warn("caching user message", "error", err, "session_id", session.ID)
	}
	return msg, nil
}

// preparedTurn carries everything resolved before the provider call that
// post-call accounting needs again.
type preparedTurn struct {
	call       *gateway.Call
	model      *provider.Model
	credential *credential.Config
}

// prepareTurn performs the pre-provider stages: retrieval, credential
// selection, and prompt assembly. Any failure here aborts the turn before
// cost is incurred.
func (s *Service) prepareTurn(ctx context.Context, session *Session, query string) (*preparedTurn, error) {
	p, err := s.providers.GetByID(ctx, session.ProviderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("provider %s not found", session.ProviderID)
	}

	model, err := s.providers.GetModel(ctx, p.ID, session.ModelCode)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("model %q not offered by provider %s", session.ModelCode, p.Code)
	}

	maxTokens := model.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	promptBudget := (model.ContextWindow - maxTokens) * charsPerToken
	if promptBudget <= 0 {
		promptBudget = 8192 * charsPerToken
	}

	var ragContext string
	if len(session.KnowledgeBaseIDs) > 0 {
		results, err := s.retriever.Search(ctx, session.KnowledgeBaseIDs, query, ragSearchLimit)
		if err != nil {
			return nil, err
		}
		ragContext = knowledge.AssembleContext(results, int(float64(promptBudget)*ragBudgetShare))
	}

	resolved, err := s.credentials.Resolve(ctx, session.UserID, p, session.CredentialPreference)
	if err != nil {
		return nil, err
	}

	messages := s.assemblePrompt(ctx, session, ragContext, query, promptBudget-len(ragContext))

	return &preparedTurn{
		call: &gateway.Call{
			Provider:      p,
			APIKey:        resolved.APIKey,
			CredentialKey: resolved.Credential.ID.String(),
			Request: &provider.Request{
				ModelCode: session.ModelCode,
				Messages:  messages,
				MaxTokens: maxTokens,
			},
		},
		model:      model,
		credential: resolved.Credential,
	}, nil
}

// assemblePrompt builds the provider message list: system prompt, then
// retrieved context as a leading system message, then as many recent turns
// as the character budget allows, newest kept preferentially. The current
// user message is already in the history (it was appended first).
func (s *Service) assemblePrompt(ctx context.Context, session *Session, ragContext, query string, budget int) []provider.ChatMessage {
	var leading []provider.ChatMessage
	if session.SystemPrompt != "" {
		leading = append(leading, provider.ChatMessage{Role: RoleSystem, Content: session.SystemPrompt})
		budget -= len(session.SystemPrompt)
	}
	if ragContext != "" {
		leading = append(leading, provider.ChatMessage{
			Role:    RoleSystem,
			Content: "Relevant reference material:\n\n" + ragContext,
		})
	}

	history := s.loadHistory(ctx, session)

	// Walk backwards so the newest turns survive the budget cut.
	var kept []historyEntry
	for i := len(history) - 1; i >= 0; i-- {
		if len(history[i].Content) > budget {
			break
		}
		budget -= len(history[i].Content)
		kept = append(kept, history[i])
	}

	msgs := make([]provider.ChatMessage, 0, len(leading)+len(kept)+1)
	msgs = append(msgs, leading...)
	for i := len(kept) - 1; i >= 0; i-- {
		msgs = append(msgs, provider.ChatMessage{Role: kept[i].Role, Content: kept[i].Content})
	}
	if len(msgs) == len(leading) {
		// Budget starvation must not drop the current question.
		msgs = append(msgs, provider.ChatMessage{Role: RoleUser, Content: query})
	}
	return msgs
}

func (s *Service) loadHistory(ctx context.Context, session *Session) []historyEntry {
	cached, err := s.history.Recent(ctx, session.ID, historyFetchLimit)
	if err != nil {
		s.logger.Warn("reading history cache", "error", err, "session_id", session.ID)
	}
	if len(cached) > 0 {
		return cached
	}

	msgs, err := s.repo.ListMessages(ctx, session.ID, historyFetchLimit)
	if err != nil {
		s.logger.Error("loading message history", "error", err, "session_id", session.ID)
		return nil
	}
	entries := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, historyEntry{Role: m.Role, Content: m.Content, SequenceNumber: m.SequenceNumber})
	}
	return entries
}

// recordAssistantTurn persists the assistant message, charges quota, and
// emits the usage event. A rejected quota charge keeps the message (the
// upstream already billed for it) and flags the session for later turns.
func (s *Service) recordAssistantTurn(ctx context.Context, session *Session, turn *preparedTurn, content string, usage provider.Usage) (*Message, bool, error) {
	msg := &Message{
		ID:           uuid.New(),
		SessionID:    session.ID,
		Role:         RoleAssistant,
		Content:      content,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Status:       MessageCompleted,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, false, err
	}
	if err := s.history.Append(ctx, session.ID, msg); err != nil {
		s.logger.Warn("caching assistant message", "error", err, "session_id", session.ID)
	}

	totalTokens := usage.InputTokens + usage.OutputTokens
	quotaWarning := false
	if totalTokens > 0 {
		_, err := s.ledger.TryConsume(ctx, session.UserID, totalTokens)
		switch {
		case errors.Is(err, quota.ErrQuotaExceeded):
			if mErr := s.repo.MarkSessionOverQuota(ctx, session.ID); mErr != nil {
				s.logger.Error("flagging session over quota", "error", mErr, "session_id", session.ID)
			}
			quotaWarning = true
		case err != nil:
			return nil, false, err
		default:
			status, sErr := s.ledger.Status(ctx, session.UserID)
			if sErr == nil {
				quotaWarning = status.Warning
			}
		}
		metrics.TokensConsumedTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
		metrics.TokensConsumedTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}

	if err := s.credentials.RecordUsage(ctx, turn.credential, totalTokens); err != nil {
		s.logger.Warn("recording free-tier credential usage", "error", err, "session_id", session.ID)
	}

	event := inats.UsageEvent{
		UserID:       session.UserID,
		SessionID:    session.ID,
		MessageID:    msg.ID,
		ProviderCode: turn.call.Provider.Code,
		ModelCode:    turn.model.Code,
		KeyType:      turn.credential.KeyType,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.publisher.PublishUsageEvent(ctx, event); err != nil {
		s.logger.Warn("publishing usage event", "error", err, "session_id", session.ID)
	}

	return msg, quotaWarning, nil
}
