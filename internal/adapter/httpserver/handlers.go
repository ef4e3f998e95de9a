package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/usecase"
)

const maxJSONBody = 1 << 20 // 1MB

// Server aggregates handler dependencies for the API process.
type Server struct {
	Auth     usecase.AuthService
	Products usecase.ProductService
	Personas usecase.PersonaService
	Feedback usecase.FeedbackService
	Tokens   *TokenIssuer

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	KafkaCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeJSON caps the body and decodes into dst, then runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(dst); err != nil {
		return fmt.Errorf("%w: validation failed: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func urlID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", domain.ErrInvalidArgument)
	}
	return id, nil
}

type credentialsReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	UserID      int64  `json:"user_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) tokenResponse(w http.ResponseWriter, r *http.Request, status int, userID int64) {
	token, err := s.Tokens.Issue(userID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, status, tokenResponse{UserID: userID, AccessToken: token, TokenType: "Bearer"})
}

// RegisterHandler creates a user and returns a fresh access token.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		userID, err := s.Auth.Register(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.tokenResponse(w, r, http.StatusCreated, userID)
	}
}

// LoginHandler verifies credentials and returns an access token.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		u, err := s.Auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		s.tokenResponse(w, r, http.StatusOK, u.ID)
	}
}

type productReq struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Price       *float64 `json:"price"`
	Currency    string   `json:"currency"`
	Category    string   `json:"category"`
	KeyFeatures []string `json:"key_features"`
}

func productView(p domain.Product) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"price":        p.Price,
		"currency":     p.Currency,
		"category":     p.Category,
		"key_features": p.KeyFeatures,
		"created_at":   p.CreatedAt,
	}
}

// CreateProductHandler stores a product for the authenticated user.
func (s *Server) CreateProductHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		var req productReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Products.Create(r.Context(), userID, usecase.ProductInput{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Currency:    req.Currency,
			Category:    req.Category,
			KeyFeatures: req.KeyFeatures,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

// ListProductsHandler returns the authenticated user's products.
func (s *Server) ListProductsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		products, err := s.Products.List(r.Context(), userID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]map[string]any, 0, len(products))
		for _, p := range products {
			views = append(views, productView(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": views})
	}
}

// DeleteProductHandler soft-deletes one owned product.
func (s *Server) DeleteProductHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		id, err := urlID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Products.Delete(r.Context(), userID, id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type personaReq struct {
	Country          string   `json:"country" validate:"required"`
	City             string   `json:"city"`
	Gender           string   `json:"gender" validate:"required"`
	MinAge           int      `json:"min_age" validate:"required"`
	MaxAge           int      `json:"max_age" validate:"required"`
	ActivitySphere   string   `json:"activity_sphere" validate:"required"`
	Profession       string   `json:"profession"`
	IncomeLevel      string   `json:"income_level" validate:"required"`
	Interests        []string `json:"interests" validate:"required"`
	AdditionalParams string   `json:"additional_params"`
	Count            int      `json:"count" validate:"required"`
}

func personaView(p domain.Persona) map[string]any {
	v := map[string]any{
		"id":         p.ID,
		"status":     string(p.Status),
		"created_at": p.CreatedAt,
	}
	if p.Status == domain.PersonaActive {
		v["name"] = p.Name
		v["description"] = p.Description
		v["product_attitudes"] = p.ProductAttitudes
		v["characteristics"] = p.Characteristics
		v["model"] = p.Model
	}
	return v
}

// GeneratePersonasHandler dispatches one persona generation batch and
// returns 202 with the created ids.
func (s *Server) GeneratePersonasHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		var req personaReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		ids, err := s.Personas.StartGeneration(r.Context(), userID, usecase.PersonaGenerationInput{
			Country:          req.Country,
			City:             req.City,
			Gender:           req.Gender,
			MinAge:           req.MinAge,
			MaxAge:           req.MaxAge,
			ActivitySphere:   req.ActivitySphere,
			Profession:       req.Profession,
			IncomeLevel:      req.IncomeLevel,
			Interests:        req.Interests,
			AdditionalParams: req.AdditionalParams,
			Count:            req.Count,
		}, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":      ids[0],
			"persona_ids": ids,
			"status":      string(domain.PersonaGenerating),
		})
	}
}

// GetPersonaHandler returns one owned persona.
func (s *Server) GetPersonaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		id, err := urlID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		p, err := s.Personas.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, personaView(p))
	}
}

type sessionReq struct {
	ProductIDs []int64 `json:"product_ids" validate:"required"`
	PersonaIDs []int64 `json:"persona_ids" validate:"required"`
	Language   string  `json:"language" validate:"required"`
}

// StartFeedbackSessionHandler creates a feedback session and returns 202.
// An Idempotency-Key header deduplicates retried creates.
func (s *Server) StartFeedbackSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		var req sessionReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		sessionID, err := s.Feedback.StartSession(r.Context(), userID, usecase.FeedbackSessionInput{
			ProductIDs:     req.ProductIDs,
			PersonaIDs:     req.PersonaIDs,
			Language:       req.Language,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		}, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": sessionID,
			"status": string(domain.SessionPending),
		})
	}
}

func resultView(rv domain.SessionResultView) map[string]any {
	v := map[string]any{
		"id":           rv.ID,
		"product_id":   rv.ProductID,
		"product_name": rv.ProductName,
		"persona_id":   rv.PersonaID,
		"persona_name": rv.PersonaName,
		"status":       string(rv.Status),
	}
	if rv.Status == domain.ResultCompleted {
		v["feedback"] = rv.Feedback
		v["purchase_intent"] = rv.PurchaseIntent
		v["key_concerns"] = rv.KeyConcerns
	}
	return v
}

// GetFeedbackSessionHandler returns a session with one page of results.
// Pagination via ?page and ?size; both omitted returns every result.
func (s *Server) GetFeedbackSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		id, err := urlID(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		page, size, err := pagination(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		view, err := s.Feedback.GetSession(r.Context(), userID, id, page, size)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		results := make([]map[string]any, 0, len(view.Page.Results))
		for _, rv := range view.Page.Results {
			results = append(results, resultView(rv))
		}
		body := map[string]any{
			"id":         view.Session.ID,
			"status":     string(view.Session.Status),
			"language":   view.Session.Language,
			"results":    results,
			"created_at": view.Session.CreatedAt,
		}
		if view.Session.Insights != nil {
			body["insights"] = view.Session.Insights
		}
		if view.Page.PageSize > 0 {
			body["pagination"] = map[string]any{
				"page_number": view.Page.PageNumber,
				"page_size":   view.Page.PageSize,
				"total_count": view.Page.TotalCount,
			}
		} else {
			body["total_count"] = view.Page.TotalCount
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func pagination(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("%w: page must be a positive integer", domain.ErrInvalidArgument)
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 {
			return 0, 0, fmt.Errorf("%w: size must be a positive integer", domain.ErrInvalidArgument)
		}
	}
	if size > 0 && page == 0 {
		page = 1
	}
	return page, size, nil
}

// ReadyzHandler probes the downstream dependencies of the API process.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Read the check fields per request; they may be wired after the
		// router is built.
		probes := []struct {
			name string
			fn   func(ctx context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"kafka", s.KafkaCheck},
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ok := true
		checks := make([]check, 0, len(probes))
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			c := check{Name: p.name, OK: true}
			if err := p.fn(ctx); err != nil {
				c.OK, c.Details = false, err.Error()
				ok = false
			}
			checks = append(checks, c)
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}
