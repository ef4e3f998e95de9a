package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
	"github.com/fairyhunter13/persona-feedback/pkg/textx"
)

const (
	minPersonaCount    = 1
	maxPersonaCount    = 10
	maxAdditionalLen   = 500
	minPersonaAge      = 1
	maxPersonaAge      = 120
	maxPersonaInterest = 20
)

// PersonaGenerationInput is the start-generation request.
type PersonaGenerationInput struct {
	Country          string
	City             string
	Gender           string
	MinAge           int
	MaxAge           int
	ActivitySphere   string
	Profession       string
	IncomeLevel      string
	Interests        []string
	AdditionalParams string
	Count            int
}

// PersonaService dispatches persona generation and reads personas back.
type PersonaService struct {
	personas domain.PersonaRepository
	queue    domain.Queue
	model    string
}

// NewPersonaService constructs a PersonaService. model names the LLM every
// batch is generated with.
func NewPersonaService(personas domain.PersonaRepository, queue domain.Queue, model string) PersonaService {
	return PersonaService{personas: personas, queue: queue, model: model}
}

// StartGeneration validates the request, creates count personas in
// GENERATING and publishes one batch task covering all of them. The rows
// are committed before the publish; a publish failure fails the batch
// immediately rather than leaving it dangling.
func (s PersonaService) StartGeneration(ctx domain.Context, userID int64, in PersonaGenerationInput, requestID string) ([]int64, error) {
	chars, err := validateCharacteristics(in)
	if err != nil {
		return nil, err
	}

	// Target ages are spread evenly across the requested range so the batch
	// does not cluster around one age.
	ages := spreadAges(in.MinAge, in.MaxAge, in.Count)
	batch := make([]domain.Persona, 0, in.Count)
	specs := make([]domain.PersonaCharacteristics, 0, in.Count)
	for i := 0; i < in.Count; i++ {
		c := chars
		c.Age = ages[i]
		batch = append(batch, domain.Persona{
			UserID:              userID,
			Status:              domain.PersonaGenerating,
			Characteristics:     c,
			CharacteristicsHash: c.Hash(),
			Model:               s.model,
		})
		specs = append(specs, c)
	}

	ids, err := s.personas.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	payload := domain.PersonaTaskPayload{
		PersonaID:       ids[0],
		PersonaIDs:      ids,
		OwnerUserID:     userID,
		Characteristics: specs,
		Count:           in.Count,
		Model:           s.model,
		RequestID:       requestID,
	}
	if err := s.queue.EnqueuePersonaBatch(ctx, payload); err != nil {
		// The rows are already committed; without a message nothing will
		// ever pick them up, so fail them now.
		for _, id := range ids {
			if fErr := s.personas.FailGeneration(ctx, id); fErr != nil {
				slog.Error("failing unpublished persona",
					slog.Int64("persona_id", id), slog.Any("error", fErr))
			}
		}
		return nil, fmt.Errorf("op=persona.start_generation: %w", err)
	}

	lg := observability.LoggerFromContext(ctx)
	lg.Info("persona generation dispatched",
		slog.Int64("user_id", userID),
		slog.Int("count", in.Count),
		slog.Int64("anchor_id", ids[0]))
	return ids, nil
}

// Get loads one persona. A persona owned by someone else surfaces as
// domain.ErrForbidden; a missing or deleted one as domain.ErrNotFound.
func (s PersonaService) Get(ctx domain.Context, userID, id int64) (domain.Persona, error) {
	p, err := s.personas.GetAny(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	if p.Deleted {
		return domain.Persona{}, fmt.Errorf("%w: persona %d", domain.ErrNotFound, id)
	}
	if p.UserID != userID {
		return domain.Persona{}, fmt.Errorf("%w: persona %d", domain.ErrForbidden, id)
	}
	return p, nil
}

func validateCharacteristics(in PersonaGenerationInput) (domain.PersonaCharacteristics, error) {
	var zero domain.PersonaCharacteristics
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if len(country) != 2 || country[0] < 'A' || country[0] > 'Z' || country[1] < 'A' || country[1] > 'Z' {
		return zero, fmt.Errorf("%w: country must be an ISO-3166 alpha-2 code", domain.ErrInvalidArgument)
	}
	switch in.Gender {
	case domain.GenderMale, domain.GenderFemale, domain.GenderOther:
	default:
		return zero, fmt.Errorf("%w: unknown gender %q", domain.ErrInvalidArgument, in.Gender)
	}
	if in.MinAge < minPersonaAge || in.MaxAge > maxPersonaAge || in.MinAge > in.MaxAge {
		return zero, fmt.Errorf("%w: age range must satisfy %d <= minAge <= maxAge <= %d", domain.ErrInvalidArgument, minPersonaAge, maxPersonaAge)
	}
	if !containsString(domain.ActivitySpheres, in.ActivitySphere) {
		return zero, fmt.Errorf("%w: unknown activity sphere %q", domain.ErrInvalidArgument, in.ActivitySphere)
	}
	switch in.IncomeLevel {
	case domain.IncomeLow, domain.IncomeMedium, domain.IncomeHigh:
	default:
		return zero, fmt.Errorf("%w: unknown income level %q", domain.ErrInvalidArgument, in.IncomeLevel)
	}
	interests := make([]string, 0, len(in.Interests))
	for _, it := range in.Interests {
		if it = textx.SanitizeText(it); it != "" {
			interests = append(interests, it)
		}
	}
	if len(interests) == 0 {
		return zero, fmt.Errorf("%w: at least one interest required", domain.ErrInvalidArgument)
	}
	if len(interests) > maxPersonaInterest {
		return zero, fmt.Errorf("%w: at most %d interests", domain.ErrInvalidArgument, maxPersonaInterest)
	}
	additional := textx.SanitizeText(in.AdditionalParams)
	if len([]rune(additional)) > maxAdditionalLen {
		return zero, fmt.Errorf("%w: additional parameters longer than %d characters", domain.ErrInvalidArgument, maxAdditionalLen)
	}
	if in.Count < minPersonaCount || in.Count > maxPersonaCount {
		return zero, fmt.Errorf("%w: count must be within [%d,%d]", domain.ErrInvalidArgument, minPersonaCount, maxPersonaCount)
	}
	return domain.PersonaCharacteristics{
		Country:          country,
		City:             textx.SanitizeText(in.City),
		Gender:           in.Gender,
		MinAge:           in.MinAge,
		MaxAge:           in.MaxAge,
		ActivitySphere:   in.ActivitySphere,
		Profession:       textx.SanitizeText(in.Profession),
		IncomeLevel:      in.IncomeLevel,
		Interests:        interests,
		AdditionalParams: additional,
	}, nil
}

// spreadAges returns count target ages evenly distributed across
// [minAge, maxAge]. A single persona lands on the midpoint.
func spreadAges(minAge, maxAge, count int) []int {
	ages := make([]int, count)
	if count == 1 {
		ages[0] = (minAge + maxAge) / 2
		return ages
	}
	step := float64(maxAge-minAge) / float64(count-1)
	for i := 0; i < count; i++ {
		ages[i] = minAge + int(math.Round(step*float64(i)))
	}
	return ages
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
