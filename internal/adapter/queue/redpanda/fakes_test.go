package redpanda

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// In-memory port fakes shared by the handler tests.

type fakePersonaRepo struct {
	mu       sync.Mutex
	personas map[int64]*domain.Persona
	claims   int
}

func newFakePersonaRepo(personas ...*domain.Persona) *fakePersonaRepo {
	m := make(map[int64]*domain.Persona, len(personas))
	for _, p := range personas {
		m[p.ID] = p
	}
	return &fakePersonaRepo{personas: m}
}

func (f *fakePersonaRepo) CreateBatch(_ context.Context, _ []domain.Persona) ([]int64, error) {
	panic("not used")
}

func (f *fakePersonaRepo) Get(_ context.Context, _, id int64) (domain.Persona, error) {
	return f.GetAny(nil, id)
}

func (f *fakePersonaRepo) GetAny(_ context.Context, id int64) (domain.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	if !ok {
		return domain.Persona{}, domain.ErrNotFound
	}
	return *p, nil
}

func (f *fakePersonaRepo) ListByIDs(_ context.Context, _ int64, ids []int64) ([]domain.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Persona
	for _, id := range ids {
		if p, ok := f.personas[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePersonaRepo) ClaimGeneration(_ context.Context, id, version int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Version != version || p.Status != domain.PersonaGenerating || p.GenerationInProgress {
		return false, nil
	}
	p.GenerationInProgress = true
	p.Version++
	f.claims++
	return true, nil
}

func (f *fakePersonaRepo) CompleteGeneration(_ context.Context, id int64, name, description, attitudes, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PersonaGenerating {
		return nil
	}
	p.Status = domain.PersonaActive
	p.Name, p.Description, p.ProductAttitudes, p.Model = name, description, attitudes, model
	p.GenerationInProgress = false
	p.Version++
	return nil
}

func (f *fakePersonaRepo) FailGeneration(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PersonaGenerating {
		return nil
	}
	p.Status = domain.PersonaFailed
	p.GenerationInProgress = false
	p.Version++
	return nil
}

func (f *fakePersonaRepo) ReleaseGeneration(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.personas[id]; ok && p.GenerationInProgress {
		p.GenerationInProgress = false
		p.Version++
	}
	return nil
}

type fakeProductRepo struct {
	products map[int64]domain.Product
}

func (f *fakeProductRepo) Create(_ context.Context, _ domain.Product) (int64, error) {
	panic("not used")
}

func (f *fakeProductRepo) Get(_ context.Context, _, id int64) (domain.Product, error) {
	return f.GetAny(nil, id)
}

func (f *fakeProductRepo) GetAny(_ context.Context, id int64) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProductRepo) ListByIDs(_ context.Context, _ int64, _ []int64) ([]domain.Product, error) {
	panic("not used")
}

func (f *fakeProductRepo) ListByUser(_ context.Context, _ int64) ([]domain.Product, error) {
	panic("not used")
}

func (f *fakeProductRepo) SoftDelete(_ context.Context, _, _ int64) error { panic("not used") }

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[int64]*domain.FeedbackSession
}

func (f *fakeSessionRepo) CreateWithResults(_ context.Context, _ domain.FeedbackSession, _ []domain.FeedbackResult) (int64, []int64, error) {
	panic("not used")
}

func (f *fakeSessionRepo) Get(_ context.Context, _, id int64) (domain.FeedbackSession, error) {
	return f.GetAny(nil, id)
}

func (f *fakeSessionRepo) GetAny(_ context.Context, id int64) (domain.FeedbackSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.FeedbackSession{}, domain.ErrNotFound
	}
	return *s, nil
}

func (f *fakeSessionRepo) MarkInProgress(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.Status == domain.SessionPending {
		s.Status = domain.SessionInProgress
	}
	return nil
}

func (f *fakeSessionRepo) CompleteIfNotCompleted(_ context.Context, id int64, status domain.SessionStatus, insights *domain.SessionInsights) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
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

func (f *fakeSessionRepo) TerminalCounts(_ context.Context, _ int64) (domain.TerminalCounts, error) {
	panic("not used")
}

func (f *fakeSessionRepo) GetWithResults(_ context.Context, _, _ int64, _, _ int) (domain.FeedbackSession, domain.ResultPage, error) {
	panic("not used")
}

type fakeResultRepo struct {
	mu      sync.Mutex
	results map[int64]*domain.FeedbackResult
}

func (f *fakeResultRepo) Get(_ context.Context, id int64) (domain.FeedbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return domain.FeedbackResult{}, domain.ErrNotFound
	}
	return *r, nil
}

func (f *fakeResultRepo) MarkInProgress(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[id]; ok && (r.Status == domain.ResultPending || r.Status == domain.ResultFailed) {
		r.Status = domain.ResultInProgress
	}
	return nil
}

func (f *fakeResultRepo) Complete(_ context.Context, id int64, feedback string, intent int, concerns []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status == domain.ResultCompleted || r.Status == domain.ResultFailed {
		return nil
	}
	r.Status = domain.ResultCompleted
	r.Feedback, r.PurchaseIntent, r.KeyConcerns = feedback, intent, concerns
	return nil
}

func (f *fakeResultRepo) Fail(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status == domain.ResultCompleted || r.Status == domain.ResultFailed {
		return nil
	}
	r.Status = domain.ResultFailed
	return nil
}

func (f *fakeResultRepo) ListCompleted(_ context.Context, sessionID int64) ([]domain.FeedbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FeedbackResult
	for _, r := range f.results {
		if r.SessionID == sessionID && r.Status == domain.ResultCompleted {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu            sync.Mutex
	personaCalls  int
	feedbackCalls int
	personaErr    error
	feedbackErr   error
	feedback      domain.GeneratedFeedback
}

func (f *fakeGateway) GeneratePersonaBatch(_ context.Context, specs []domain.PersonaCharacteristics) ([]domain.GeneratedPersona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personaCalls++
	if f.personaErr != nil {
		return nil, f.personaErr
	}
	out := make([]domain.GeneratedPersona, len(specs))
	for i := range specs {
		out[i] = domain.GeneratedPersona{
			Name:             "Persona",
			Description:      "Generated description.",
			ProductAttitudes: "Generated attitudes.",
		}
	}
	return out, nil
}

func (f *fakeGateway) GenerateFeedback(_ context.Context, _ domain.Persona, _ domain.Product, _ string) (domain.GeneratedFeedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbackCalls++
	if f.feedbackErr != nil {
		return domain.GeneratedFeedback{}, f.feedbackErr
	}
	return f.feedback, nil
}

func (f *fakeGateway) AggregateInsights(_ context.Context, _ []string) ([]domain.InsightTheme, error) {
	panic("not used")
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeFinalizer) FinalizeIfComplete(_ context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	return f.err
}

func genPersona(id int64, status domain.PersonaStatus) *domain.Persona {
	return &domain.Persona{
		ID:        id,
		UserID:    1,
		Status:    status,
		CreatedAt: time.Now(),
	}
}
