package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// Minimal in-memory ports backing the real usecase services in handler tests.

type stubUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.User
}

func newStubUsers() *stubUsers { return &stubUsers{byID: map[int64]domain.User{}} }

func (s *stubUsers) Create(_ context.Context, u domain.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byID {
		if e.Email == u.Email {
			return 0, domain.ErrConflict
		}
	}
	s.nextID++
	u.ID = s.nextID
	u.Active = true
	s.byID[u.ID] = u
	return u.ID, nil
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *stubUsers) Get(_ context.Context, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type stubProducts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.Product
}

func newStubProducts() *stubProducts { return &stubProducts{byID: map[int64]domain.Product{}} }

func (s *stubProducts) Create(_ context.Context, p domain.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.byID[p.ID] = p
	return p.ID, nil
}

func (s *stubProducts) GetAny(_ context.Context, id int64) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubProducts) ListByIDs(_ context.Context, userID int64, ids []int64) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := s.byID[id]; ok && p.UserID == userID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProducts) ListByUser(_ context.Context, userID int64) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Product
	for id := int64(1); id <= s.nextID; id++ {
		if p, ok := s.byID[id]; ok && p.UserID == userID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProducts) SoftDelete(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || p.UserID != userID || p.Deleted {
		return domain.ErrNotFound
	}
	p.Deleted = true
	s.byID[id] = p
	return nil
}

type stubPersonas struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.Persona
}

func newStubPersonas() *stubPersonas { return &stubPersonas{byID: map[int64]domain.Persona{}} }

func (s *stubPersonas) CreateBatch(_ context.Context, personas []domain.Persona) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(personas))
	for _, p := range personas {
		s.nextID++
		p.ID = s.nextID
		s.byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *stubPersonas) GetAny(_ context.Context, id int64) (domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPersonas) ListByIDs(_ context.Context, userID int64, ids []int64) ([]domain.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Persona
	for _, id := range ids {
		if p, ok := s.byID[id]; ok && p.UserID == userID && !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPersonas) ClaimGeneration(context.Context, int64, int64) (bool, error) { return true, nil }
func (s *stubPersonas) CompleteGeneration(context.Context, int64, string, string, string, string) error {
	return nil
}
func (s *stubPersonas) FailGeneration(context.Context, int64) error    { return nil }
func (s *stubPersonas) ReleaseGeneration(context.Context, int64) error { return nil }

func (s *stubPersonas) setStatus(id int64, status domain.PersonaStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byID[id]
	p.Status = status
	s.byID[id] = p
}

type stubSessions struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]domain.FeedbackSession
	results *stubResults
}

func newStubSessions(results *stubResults) *stubSessions {
	return &stubSessions{byID: map[int64]domain.FeedbackSession{}, results: results}
}

func (s *stubSessions) CreateWithResults(_ context.Context, fs domain.FeedbackSession, cells []domain.FeedbackResult) (int64, []int64, error) {
	s.mu.Lock()
	s.nextID++
	fs.ID = s.nextID
	fs.Status = domain.SessionPending
	s.byID[fs.ID] = fs
	s.mu.Unlock()

	ids := make([]int64, 0, len(cells))
	for _, c := range cells {
		c.SessionID = fs.ID
		c.Status = domain.ResultPending
		ids = append(ids, s.results.add(c))
	}
	return fs.ID, ids, nil
}

func (s *stubSessions) Get(_ context.Context, userID, id int64) (domain.FeedbackSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.byID[id]
	if !ok || fs.UserID != userID {
		return domain.FeedbackSession{}, domain.ErrNotFound
	}
	return fs, nil
}

func (s *stubSessions) GetAny(_ context.Context, id int64) (domain.FeedbackSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.byID[id]
	if !ok {
		return domain.FeedbackSession{}, domain.ErrNotFound
	}
	return fs, nil
}

func (s *stubSessions) MarkInProgress(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs, ok := s.byID[id]; ok && fs.Status == domain.SessionPending {
		fs.Status = domain.SessionInProgress
		s.byID[id] = fs
	}
	return nil
}

func (s *stubSessions) CompleteIfNotCompleted(_ context.Context, id int64, status domain.SessionStatus, insights *domain.SessionInsights) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if fs.Status == domain.SessionCompleted || fs.Status == domain.SessionFailed {
		return false, nil
	}
	fs.Status = status
	fs.Insights = insights
	s.byID[id] = fs
	return true, nil
}

func (s *stubSessions) TerminalCounts(_ context.Context, id int64) (domain.TerminalCounts, error) {
	return s.results.terminalCounts(id), nil
}

func (s *stubSessions) GetWithResults(ctx context.Context, userID, id int64, pageNumber, pageSize int) (domain.FeedbackSession, domain.ResultPage, error) {
	fs, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, err
	}
	all := s.results.bySession(id)
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
	return fs, page, nil
}

type stubResults struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.FeedbackResult
}

func newStubResults() *stubResults { return &stubResults{byID: map[int64]domain.FeedbackResult{}} }

func (s *stubResults) add(r domain.FeedbackResult) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.byID[r.ID] = r
	return r.ID
}

func (s *stubResults) Get(_ context.Context, id int64) (domain.FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return domain.FeedbackResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *stubResults) MarkInProgress(context.Context, int64) error { return nil }

func (s *stubResults) Complete(_ context.Context, id int64, feedback string, intent int, concerns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byID[id]; ok {
		r.Status = domain.ResultCompleted
		r.Feedback, r.PurchaseIntent, r.KeyConcerns = feedback, intent, concerns
		s.byID[id] = r
	}
	return nil
}

func (s *stubResults) Fail(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byID[id]; ok {
		r.Status = domain.ResultFailed
		s.byID[id] = r
	}
	return nil
}

func (s *stubResults) ListCompleted(_ context.Context, sessionID int64) ([]domain.FeedbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedbackResult
	for _, r := range s.byID {
		if r.SessionID == sessionID && r.Status == domain.ResultCompleted {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubResults) bySession(sessionID int64) []domain.FeedbackResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedbackResult
	for id := int64(1); id <= s.nextID; id++ {
		if r, ok := s.byID[id]; ok && r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

func (s *stubResults) terminalCounts(sessionID int64) domain.TerminalCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t domain.TerminalCounts
	for _, r := range s.byID {
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

type stubQueue struct {
	mu           sync.Mutex
	personaTasks []domain.PersonaTaskPayload
	feedback     []domain.FeedbackTaskPayload
}

func (q *stubQueue) EnqueuePersonaBatch(_ context.Context, p domain.PersonaTaskPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.personaTasks = append(q.personaTasks, p)
	return nil
}

func (q *stubQueue) EnqueueFeedback(_ context.Context, p domain.FeedbackTaskPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.feedback = append(q.feedback, p)
	return nil
}

type stubIdem struct {
	mu sync.Mutex
	m  map[string]int64
}

func newStubIdem() *stubIdem { return &stubIdem{m: map[string]int64{}} }

func (c *stubIdem) Get(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[key]
	return id, ok, nil
}

func (c *stubIdem) Set(_ context.Context, key string, id int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = id
	return nil
}
