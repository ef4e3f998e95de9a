package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// In-memory fakes implementing the domain ports. They reproduce the
// conditional-update semantics of the real repositories so concurrency
// tests exercise the same guarantees.

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[int64]domain.User{}} }

func (m *memUsers) Create(_ context.Context, u domain.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return 0, domain.ErrConflict
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.Active = true
	m.byID[u.ID] = u
	return u.ID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memUsers) Get(_ context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) setActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	u.Active = active
	m.byID[id] = u
}

type memProducts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.Product
}

func newMemProducts() *memProducts { return &memProducts{byID: map[int64]domain.Product{}} }

func (m *memProducts) Create(_ context.Context, p domain.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.byID[p.ID] = p
	return p.ID, nil
}

func (m *memProducts) GetAny(_ context.Context, id int64) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) ListByIDs(_ context.Context, userID int64, ids []int64) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := m.byID[id]; ok && p.UserID == userID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) ListByUser(_ context.Context, userID int64) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.byID {
		if p.UserID == userID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) SoftDelete(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.UserID != userID || p.Deleted {
		return domain.ErrNotFound
	}
	p.Deleted = true
	m.byID[id] = p
	return nil
}

type memPersonas struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.Persona
}

func newMemPersonas() *memPersonas { return &memPersonas{byID: map[int64]*domain.Persona{}} }

func (m *memPersonas) CreateBatch(_ context.Context, personas []domain.Persona) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(personas))
	for _, p := range personas {
		m.nextID++
		cp := p
		cp.ID = m.nextID
		m.byID[cp.ID] = &cp
		ids = append(ids, cp.ID)
	}
	return ids, nil
}

func (m *memPersonas) GetAny(_ context.Context, id int64) (domain.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return *p, nil
}

func (m *memPersonas) ListByIDs(_ context.Context, userID int64, ids []int64) ([]domain.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Persona
	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := m.byID[id]; ok && p.UserID == userID && !p.Deleted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPersonas) ClaimGeneration(_ context.Context, id, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Version != version || p.Status != domain.PersonaGenerating || p.GenerationInProgress {
		return false, nil
	}
	p.GenerationInProgress = true
	p.Version++
	return true, nil
}

func (m *memPersonas) CompleteGeneration(_ context.Context, id int64, name, description, attitudes, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok && p.Status == domain.PersonaGenerating {
		p.Status = domain.PersonaActive
		p.Name, p.Description, p.ProductAttitudes, p.Model = name, description, attitudes, model
		p.GenerationInProgress = false
		p.Version++
	}
	return nil
}

func (m *memPersonas) FailGeneration(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok && p.Status == domain.PersonaGenerating {
		p.Status = domain.PersonaFailed
		p.GenerationInProgress = false
		p.Version++
	}
	return nil
}

func (m *memPersonas) ReleaseGeneration(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok && p.GenerationInProgress {
		p.GenerationInProgress = false
		p.Version++
	}
	return nil
}

type memSessions struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*domain.FeedbackSession
	results *memResults
}

func newMemSessions(results *memResults) *memSessions {
	return &memSessions{byID: map[int64]*domain.FeedbackSession{}, results: results}
}

func (m *memSessions) CreateWithResults(_ context.Context, s domain.FeedbackSession, cells []domain.FeedbackResult) (int64, []int64, error) {
	m.mu.Lock()
	m.nextID++
	s.ID = m.nextID
	s.Status = domain.SessionPending
	m.byID[s.ID] = &s
	m.mu.Unlock()

	ids := make([]int64, 0, len(cells))
	for _, c := range cells {
		c.SessionID = s.ID
		c.Status = domain.ResultPending
		ids = append(ids, m.results.add(c))
	}
	return s.ID, ids, nil
}

func (m *memSessions) Get(_ context.Context, userID, id int64) (domain.FeedbackSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.UserID != userID {
		return domain.FeedbackSession{}, domain.ErrNotFound
	}
	return *s, nil
}

func (m *memSessions) GetAny(_ context.Context, id int64) (domain.FeedbackSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return domain.FeedbackSession{}, domain.ErrNotFound
	}
	return *s, nil
}

func (m *memSessions) MarkInProgress(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok && s.Status == domain.SessionPending {
		s.Status = domain.SessionInProgress
	}
	return nil
}

func (m *memSessions) CompleteIfNotCompleted(_ context.Context, id int64, status domain.SessionStatus, insights *domain.SessionInsights) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status == domain.SessionCompleted || s.Status == domain.SessionFailed {
		return false, nil
	}
	s.Status = status
	s.Insights = insights
	return true, nil
}

func (m *memSessions) TerminalCounts(_ context.Context, id int64) (domain.TerminalCounts, error) {
	return m.results.terminalCounts(id), nil
}

func (m *memSessions) GetWithResults(ctx context.Context, userID, id int64, pageNumber, pageSize int) (domain.FeedbackSession, domain.ResultPage, error) {
	s, err := m.Get(ctx, userID, id)
	if err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, err
	}
	all := m.results.bySession(id)
	page := domain.ResultPage{PageNumber: pageNumber, PageSize: pageSize, TotalCount: len(all)}
	if pageSize > 0 {
		start := (pageNumber - 1) * pageSize
		if start > len(all) {
			start = len(all)
		}
		end := start + pageSize
		if end > len(all) {
			end = len(all)
		}
		all = all[start:end]
	}
	for _, r := range all {
		page.Results = append(page.Results, domain.SessionResultView{FeedbackResult: r})
	}
	return s, page, nil
}

type memResults struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.FeedbackResult
}

func newMemResults() *memResults { return &memResults{byID: map[int64]*domain.FeedbackResult{}} }

func (m *memResults) add(r domain.FeedbackResult) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.byID[r.ID] = &r
	return r.ID
}

func (m *memResults) Get(_ context.Context, id int64) (domain.FeedbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return domain.FeedbackResult{}, domain.ErrNotFound
	}
	return *r, nil
}

func (m *memResults) MarkInProgress(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok && (r.Status == domain.ResultPending || r.Status == domain.ResultFailed) {
		r.Status = domain.ResultInProgress
	}
	return nil
}

func (m *memResults) Complete(_ context.Context, id int64, feedback string, intent int, concerns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok && r.Status != domain.ResultCompleted && r.Status != domain.ResultFailed {
		r.Status = domain.ResultCompleted
		r.Feedback, r.PurchaseIntent, r.KeyConcerns = feedback, intent, concerns
	}
	return nil
}

func (m *memResults) Fail(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok && r.Status != domain.ResultCompleted && r.Status != domain.ResultFailed {
		r.Status = domain.ResultFailed
	}
	return nil
}

func (m *memResults) ListCompleted(_ context.Context, sessionID int64) ([]domain.FeedbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FeedbackResult
	for _, r := range m.byID {
		if r.SessionID == sessionID && r.Status == domain.ResultCompleted {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memResults) bySession(sessionID int64) []domain.FeedbackResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FeedbackResult
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.byID[id]; ok && r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *memResults) terminalCounts(sessionID int64) domain.TerminalCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t domain.TerminalCounts
	for _, r := range m.byID {
		if r.SessionID != sessionID {
			continue
		}
		t.Total++
		switch r.Status {
		case domain.ResultCompleted:
			t.Completed++
		case domain.ResultFailed:
			t.Failed++
		}
	}
	return t
}

type memQueue struct {
	mu           sync.Mutex
	personaTasks []domain.PersonaTaskPayload
	feedback     []domain.FeedbackTaskPayload
	personaErr   error
	feedbackErr  error
	// failAfter fails feedback enqueues once this many succeeded; negative
	// disables it.
	failAfter int
}

func newMemQueue() *memQueue { return &memQueue{failAfter: -1} }

func (m *memQueue) EnqueuePersonaBatch(_ context.Context, p domain.PersonaTaskPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.personaErr != nil {
		return m.personaErr
	}
	m.personaTasks = append(m.personaTasks, p)
	return nil
}

func (m *memQueue) EnqueueFeedback(_ context.Context, p domain.FeedbackTaskPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedbackErr != nil {
		return m.feedbackErr
	}
	if m.failAfter >= 0 && len(m.feedback) >= m.failAfter {
		return domain.ErrInternal
	}
	m.feedback = append(m.feedback, p)
	return nil
}

type memIdempotency struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMemIdempotency() *memIdempotency { return &memIdempotency{m: map[string]int64{}} }

func (c *memIdempotency) Get(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[key]
	return id, ok, nil
}

func (c *memIdempotency) Set(_ context.Context, key string, id int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = id
	return nil
}

// memLocker is a real in-process mutex per key so concurrency tests get
// genuine mutual exclusion.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	// forceTimeout makes every Acquire fail with ErrLockTimeout.
	forceTimeout bool
}

func newMemLocker() *memLocker { return &memLocker{locks: map[string]chan struct{}{}} }

func (l *memLocker) Acquire(ctx context.Context, key string, wait, _ time.Duration) (func(domain.Context) error, error) {
	if l.forceTimeout {
		return nil, domain.ErrLockTimeout
	}
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func(domain.Context) error {
			<-ch
			return nil
		}, nil
	case <-time.After(wait):
		return nil, domain.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memGateway struct {
	mu             sync.Mutex
	aggregateCalls int
	aggregateErr   error
	themes         []domain.InsightTheme
}

func (g *memGateway) GeneratePersonaBatch(_ context.Context, specs []domain.PersonaCharacteristics) ([]domain.GeneratedPersona, error) {
	out := make([]domain.GeneratedPersona, len(specs))
	for i := range out {
		out[i] = domain.GeneratedPersona{Name: "P", Description: "D", ProductAttitudes: "A"}
	}
	return out, nil
}

func (g *memGateway) GenerateFeedback(_ context.Context, _ domain.Persona, _ domain.Product, _ string) (domain.GeneratedFeedback, error) {
	return domain.GeneratedFeedback{Feedback: "ok", PurchaseIntent: 5, KeyConcerns: []string{"a", "b"}}, nil
}

func (g *memGateway) AggregateInsights(_ context.Context, _ []string) ([]domain.InsightTheme, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aggregateCalls++
	if g.aggregateErr != nil {
		return nil, g.aggregateErr
	}
	if g.themes != nil {
		return g.themes, nil
	}
	return []domain.InsightTheme{
		{Theme: "price", Mentions: 4}, {Theme: "quality", Mentions: 3},
		{Theme: "shipping", Mentions: 2}, {Theme: "support", Mentions: 2},
		{Theme: "design", Mentions: 1},
	}, nil
}
