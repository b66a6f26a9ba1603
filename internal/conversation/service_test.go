package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-platform/clarity/internal/credential"
	"github.com/clarity-platform/clarity/internal/gateway"
	"github.com/clarity-platform/clarity/internal/knowledge"
	inats "github.com/clarity-platform/clarity/internal/nats"
	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
)

// memRepository mirrors the row-locked append semantics with a mutex.
type memRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	messages map[uuid.UUID][]*Message
}

func newMemRepository() *memRepository {
	return &memRepository{
		sessions: make(map[uuid.UUID]*Session),
		messages: make(map[uuid.UUID][]*Message),
	}
}

func (r *memRepository) CreateSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.ID] = &copied
	return nil
}

func (r *memRepository) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *memRepository) ListSessions(_ context.Context, userID uuid.UUID) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status != SessionDeleted {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memRepository) UpdateSessionStatus(_ context.Context, id uuid.UUID, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != from {
		return ErrSessionNotActive
	}
	s.Status = to
	return nil
}

func (r *memRepository) MarkSessionOverQuota(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.OverQuota = true
	}
	return nil
}

func (r *memRepository) AppendMessage(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[msg.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != SessionActive {
		return ErrSessionNotActive
	}
	msg.SequenceNumber = s.MessageCount + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	copied := *msg
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], &copied)
	s.MessageCount++
	s.TotalInputTokens += msg.InputTokens
	s.TotalOutputTokens += msg.OutputTokens
	s.LastMessageAt = &copied.CreatedAt
	return nil
}

func (r *memRepository) ListMessages(_ context.Context, sessionID uuid.UUID, limit int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	start := 0
	if len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

type fakeProviderRepo struct {
	provider.Repository
	p *provider.Provider
	m *provider.Model
}

func (f *fakeProviderRepo) GetByID(_ context.Context, _ uuid.UUID) (*provider.Provider, error) {
	return f.p, nil
}

func (f *fakeProviderRepo) GetSystemDefault(_ context.Context) (*provider.Provider, error) {
	return f.p, nil
}

func (f *fakeProviderRepo) GetModel(_ context.Context, _ uuid.UUID, code string) (*provider.Model, error) {
	if code != f.m.Code {
		return nil, nil
	}
	return f.m, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	consumed []int64
}

func (f *fakeLedger) TryConsume(_ context.Context, _ uuid.UUID, tokens int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used+tokens > f.limit {
		return 0, fmt.Errorf("%w: %d requested", quota.ErrQuotaExceeded, tokens)
	}
	f.used += tokens
	f.consumed = append(f.consumed, tokens)
	return f.limit - f.used, nil
}

func (f *fakeLedger) Status(_ context.Context, _ uuid.UUID) (*quota.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return quota.BuildStatus(&quota.Usage{TokenLimit: f.limit, TokenUsed: f.used}, 0.8), nil
}

type fakeResolver struct {
	cred *credential.Config
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, _ uuid.UUID, _ *provider.Provider, _ string) (*credential.Resolved, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &credential.Resolved{Credential: f.cred, APIKey: "sk-test"}, nil
}

func (f *fakeResolver) RecordUsage(_ context.Context, _ *credential.Config, _ int64) error {
	return nil
}

type fakeRetriever struct {
	results []knowledge.SearchResult
}

func (f *fakeRetriever) Search(_ context.Context, _ []uuid.UUID, _ string, _ int) ([]knowledge.SearchResult, error) {
	return f.results, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	resp  *provider.Response
	err   error
}

func (f *fakeGateway) Invoke(_ context.Context, _ *gateway.Call) (*provider.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeGateway) InvokeStream(_ context.Context, call *gateway.Call) (<-chan provider.StreamDelta, error) {
	resp, err := f.Invoke(nil, call)
	if err != nil {
		return nil, err
	}
	ch := make(chan provider.StreamDelta, 2)
	ch <- provider.StreamDelta{Content: resp.Content}
	ch <- provider.StreamDelta{Done: true, Usage: &resp.Usage}
	close(ch)
	return ch, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []inats.UsageEvent
}

func (f *fakePublisher) PublishUsageEvent(_ context.Context, event inats.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memRepository
	ledger    *fakeLedger
	gw        *fakeGateway
	publisher *fakePublisher
	userID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	p := &provider.Provider{ID: uuid.New(), Code: "openai"}
	m := &provider.Model{ID: uuid.New(), ProviderID: p.ID, Code: "gpt-4o-mini", ContextWindow: 128000, MaxTokens: 4096}

	repo := newMemRepository()
	ledger := &fakeLedger{limit: 1_000_000}
	gw := &fakeGateway{resp: &provider.Response{
		Content: "assistant reply",
		Usage:   provider.Usage{InputTokens: 100, OutputTokens: 50},
	}}
	publisher := &fakePublisher{}

	svc := NewService(
		repo,
		NewHistoryCache(rdb),
		ledger,
		&fakeResolver{cred: &credential.Config{ID: uuid.New(), KeyType: credential.KeyUserProvided}},
		&fakeProviderRepo{p: p, m: m},
		&fakeRetriever{},
		gw,
		publisher,
		slog.Default(),
	)

	return &fixture{svc: svc, repo: repo, ledger: ledger, gw: gw, publisher: publisher, userID: uuid.New()}
}

func (f *fixture) newSession(t *testing.T) *Session {
	t.Helper()
	session, err := f.svc.CreateSession(context.Background(), f.userID, CreateSessionInput{
		Title:     "test chat",
		ModelCode: "gpt-4o-mini",
	})
	require.NoError(t, err)
	return session
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t)

	result, err := f.svc.SendMessage(context.Background(), session.ID, f.userID, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, result.UserMessage.SequenceNumber)
	assert.Equal(t, RoleUser, result.UserMessage.Role)
	assert.Equal(t, 2, result.AssistantMessage.SequenceNumber)
	assert.Equal(t, "assistant reply", result.AssistantMessage.Content)
	assert.False(t, result.QuotaWarning)

	assert.Equal(t, []int64{150}, f.ledger.consumed)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, int64(100), f.publisher.events[0].InputTokens)
	assert.Equal(t, credential.KeyUserProvided, f.publisher.events[0].KeyType)

	updated, err := f.svc.GetSession(context.Background(), session.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MessageCount)
	assert.Equal(t, int64(100), updated.TotalInputTokens)
	assert.Equal(t, int64(50), updated.TotalOutputTokens)
	assert.NotNil(t, updated.LastMessageAt)
}

func TestSessionStateMachine(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Archive(ctx, session.ID, f.userID))

	_, err := f.svc.SendMessage(ctx, session.ID, f.userID, "hi")
	assert.ErrorIs(t, err, ErrSessionNotActive)

	err = f.svc.Archive(ctx, session.ID, f.userID)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	require.NoError(t, f.svc.Unarchive(ctx, session.ID, f.userID))
	_, err = f.svc.SendMessage(ctx, session.ID, f.userID, "hi again")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, session.ID, f.userID))
	_, err = f.svc.GetSession(ctx, session.ID, f.userID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendMessageQuotaExceededKeepsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	f.ledger.limit = 100 // turn costs 150
	session := f.newSession(t)
	ctx := context.Background()

	result, err := f.svc.SendMessage(ctx, session.ID, f.userID, "expensive question")
	require.NoError(t, err)

	// Already-generated output is kept; the session is flagged instead.
	assert.NotNil(t, result.AssistantMessage)
	assert.True(t, result.QuotaWarning)

	updated, err := f.svc.GetSession(ctx, session.ID, f.userID)
	require.NoError(t, err)
	assert.True(t, updated.OverQuota)
	assert.Equal(t, 2, updated.MessageCount)

	_, err = f.svc.SendMessage(ctx, session.ID, f.userID, "another")
	assert.ErrorIs(t, err, ErrSessionOverQuota)
	assert.Equal(t, 1, f.gw.calls, "no provider call once flagged")
}

func TestSendMessageCredentialFailureAbortsBeforeProvider(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t)
	f.svc.credentials = &fakeResolver{err: credential.ErrNoAvailableCredential}

	_, err := f.svc.SendMessage(context.Background(), session.ID, f.userID, "hello")
	assert.ErrorIs(t, err, credential.ErrNoAvailableCredential)
	assert.Zero(t, f.gw.calls)

	// The user message persists as a normal turn with no reply.
	msgs, err := f.svc.ListMessages(context.Background(), session.ID, f.userID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestSendMessageStream(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t)

	deltas, err := f.svc.SendMessageStream(context.Background(), session.ID, f.userID, "hello")
	require.NoError(t, err)

	var content string
	for d := range deltas {
		require.NoError(t, d.Err)
		content += d.Content
	}
	assert.Equal(t, "assistant reply", content)

	// The complete stream is persisted as one assistant message.
	require.Eventually(t, func() bool {
		msgs, err := f.svc.ListMessages(context.Background(), session.ID, f.userID, 0)
		return err == nil && len(msgs) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentSendsKeepSequenceContiguous(t *testing.T) {
	f := newFixture(t)
	session := f.newSession(t)
	ctx := context.Background()

	const senders = 50
	var wg sync.WaitGroup
	errs := make([]error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SendMessage(ctx, session.ID, f.userID, fmt.Sprintf("message %d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.True(t, errors.Is(err, ErrSessionOverQuota) || errors.Is(err, quota.ErrQuotaExceeded),
				"unexpected failure: %v", err)
		}
	}
	require.Positive(t, succeeded)

	msgs, err := f.svc.ListMessages(ctx, session.ID, f.userID, 200)
	require.NoError(t, err)

	updated, err := f.svc.GetSession(ctx, session.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, len(msgs), updated.MessageCount)

	// Sequence numbers form a contiguous 1..N range with no duplicates.
	seqs := make([]int, len(msgs))
	for i, m := range msgs {
		seqs[i] = m.SequenceNumber
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
}
