// Package domain contains the entities, state machines and ports of the
// persona/feedback pipelines. Adapters depend on this package, never the
// other way around.
package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Context is an alias so ports read naturally; adapters pass context.Context.
type Context = context.Context

// User is the identity principal owning every other entity.
type User struct {
	ID           int64
	Email        string
	PasswordHash string // bcrypt, opaque
	Active       bool
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product is an item under evaluation.
type Product struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	Price       *float64
	Currency    string
	Category    string
	KeyFeatures []string
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PersonaStatus enumerates the persona state machine.
// GENERATING -> ACTIVE | FAILED; a persona never returns to GENERATING.
type PersonaStatus string

const (
	PersonaGenerating PersonaStatus = "GENERATING"
	PersonaActive     PersonaStatus = "ACTIVE"
	PersonaFailed     PersonaStatus = "FAILED"
)

// Gender, income level and activity sphere are closed sets; validation
// happens at the dispatch boundary so workers can trust them.
const (
	GenderMale   = "MALE"
	GenderFemale = "FEMALE"
	GenderOther  = "OTHER"
)

const (
	IncomeLow    = "LOW"
	IncomeMedium = "MEDIUM"
	IncomeHigh   = "HIGH"
)

// ActivitySpheres is the whitelist for PersonaCharacteristics.ActivitySphere.
var ActivitySpheres = []string{
	"TECHNOLOGY", "HEALTHCARE", "EDUCATION", "FINANCE", "RETAIL",
	"MANUFACTURING", "ARTS", "SPORTS", "HOSPITALITY", "AGRICULTURE",
}

// PersonaCharacteristics is the demographic/psychographic bundle a persona
// is generated from. Hash() gives the deterministic digest used for reuse
// lookup.
type PersonaCharacteristics struct {
	Country          string   `json:"country"` // ISO-3166 alpha-2
	City             string   `json:"city"`
	Gender           string   `json:"gender"`
	MinAge           int      `json:"min_age"`
	MaxAge           int      `json:"max_age"`
	Age              int      `json:"age"` // chosen target age for this persona
	ActivitySphere   string   `json:"activity_sphere"`
	Profession       string   `json:"profession"`
	IncomeLevel      string   `json:"income_level"`
	Interests        []string `json:"interests"`
	AdditionalParams string   `json:"additional_params"`
}

// Hash returns a deterministic digest of the input attributes. The chosen
// age is excluded so all members of one batch share a hash.
func (c PersonaCharacteristics) Hash() string {
	interests := append([]string(nil), c.Interests...)
	sort.Strings(interests)
	canonical := strings.Join([]string{
		strings.ToUpper(c.Country), strings.ToLower(c.City), c.Gender,
		fmt.Sprintf("%d-%d", c.MinAge, c.MaxAge),
		c.ActivitySphere, strings.ToLower(c.Profession), c.IncomeLevel,
		strings.ToLower(strings.Join(interests, ",")),
		strings.ToLower(c.AdditionalParams),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Persona is a generated synthetic consumer.
type Persona struct {
	ID                   int64
	UserID               int64
	Status               PersonaStatus
	Name                 string
	Description          string
	ProductAttitudes     string
	Characteristics      PersonaCharacteristics
	CharacteristicsHash  string
	Model                string
	Version              int64 // optimistic lock
	GenerationInProgress bool
	Deleted              bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SessionStatus enumerates the feedback session state machine.
// PENDING -> IN_PROGRESS -> COMPLETED | FAILED; terminal transitions are
// idempotent via a conditional update.
type SessionStatus string

const (
	SessionPending    SessionStatus = "PENDING"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionFailed     SessionStatus = "FAILED"
)

// FeedbackSession is a batch evaluation job over products x personas.
type FeedbackSession struct {
	ID        int64
	UserID    int64
	Status    SessionStatus
	Language  string // ISO 639-1, validated against LanguageWhitelist
	Insights  *SessionInsights
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionInsights is the aggregated insight document persisted on session
// completion.
type SessionInsights struct {
	AverageScore      float64        `json:"average_score"`
	PurchaseIntentPct float64        `json:"purchase_intent_percent"`
	KeyThemes         []InsightTheme `json:"key_themes"`
	CompletedResults  int            `json:"completed_results"`
	FailedResults     int            `json:"failed_results"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// InsightTheme is one aggregated concern theme.
type InsightTheme struct {
	Theme    string `json:"theme"`
	Mentions int    `json:"mentions"`
}

// ResultStatus enumerates the feedback result state machine.
// PENDING -> IN_PROGRESS -> COMPLETED | FAILED; FAILED may be reprocessed.
type ResultStatus string

const (
	ResultPending    ResultStatus = "PENDING"
	ResultInProgress ResultStatus = "IN_PROGRESS"
	ResultCompleted  ResultStatus = "COMPLETED"
	ResultFailed     ResultStatus = "FAILED"
)

// FeedbackResult is one (product x persona) cell of a session.
// Unique over (SessionID, ProductID, PersonaID).
type FeedbackResult struct {
	ID             int64
	SessionID      int64
	ProductID      int64
	PersonaID      int64
	Status         ResultStatus
	Feedback       string
	PurchaseIntent int // 1..10
	KeyConcerns    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TerminalCounts is the single aggregated view the termination detector
// reads under the session lock.
type TerminalCounts struct {
	Completed int
	Failed    int
	Total     int
}

// AllTerminal reports whether every child of the session reached a terminal
// status.
func (t TerminalCounts) AllTerminal() bool { return t.Completed+t.Failed >= t.Total }

// LanguageWhitelist is the closed set of ISO 639-1 codes feedback may be
// requested in.
var LanguageWhitelist = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "nl": true, "pl": true, "ru": true, "uk": true,
	"tr": true, "ar": true, "zh": true, "ja": true, "ko": true,
	"id": true, "hi": true,
}

// Task payloads carried on the queues.

// PersonaTaskPayload is the persona.generation envelope. One message covers
// one generation batch: PersonaIDs lists every row created for the request
// and Count equals len(PersonaIDs). PersonaID is the batch anchor (first id)
// kept for per-entity tooling and partitioning.
type PersonaTaskPayload struct {
	PersonaID       int64                    `json:"personaId"`
	PersonaIDs      []int64                  `json:"personaIds"`
	OwnerUserID     int64                    `json:"ownerUserId"`
	Characteristics []PersonaCharacteristics `json:"characteristics"`
	Count           int                      `json:"count"`
	Model           string                   `json:"model"`
	RequestID       string                   `json:"requestId,omitempty"`
}

// FeedbackTaskPayload is the feedback.generation envelope, one per cell.
type FeedbackTaskPayload struct {
	ResultID    int64  `json:"resultId"`
	SessionID   int64  `json:"sessionId"`
	OwnerUserID int64  `json:"ownerUserId"`
	ProductID   int64  `json:"productId"`
	PersonaID   int64  `json:"personaId"`
	Language    string `json:"language"`
	RequestID   string `json:"requestId,omitempty"`
}

// Repositories (ports).

type UserRepository interface {
	Create(ctx Context, u User) (int64, error)
	GetByEmail(ctx Context, email string) (User, error)
	Get(ctx Context, id int64) (User, error)
}

type ProductRepository interface {
	Create(ctx Context, p Product) (int64, error)
	// GetAny loads by id ignoring ownership and the deleted flag; callers
	// classify ownership themselves, and sessions keep processing cells
	// whose product was soft-deleted mid-flight.
	GetAny(ctx Context, id int64) (Product, error)
	ListByIDs(ctx Context, userID int64, ids []int64) ([]Product, error)
	ListByUser(ctx Context, userID int64) ([]Product, error)
	SoftDelete(ctx Context, userID, id int64) error
}

type PersonaRepository interface {
	CreateBatch(ctx Context, personas []Persona) ([]int64, error)
	GetAny(ctx Context, id int64) (Persona, error)
	ListByIDs(ctx Context, userID int64, ids []int64) ([]Persona, error)
	// ClaimGeneration performs the CAS on (generation_in_progress, version)
	// that guarantees a persona in GENERATING is mutated by exactly one
	// worker. It returns false when another writer holds the claim or the
	// persona already left GENERATING.
	ClaimGeneration(ctx Context, id, version int64) (bool, error)
	CompleteGeneration(ctx Context, id int64, name, description, attitudes, model string) error
	FailGeneration(ctx Context, id int64) error
	// ReleaseGeneration clears the in-progress claim without changing
	// status, so a re-delivered task can claim again after a transient
	// failure.
	ReleaseGeneration(ctx Context, id int64) error
}

type SessionRepository interface {
	// CreateWithResults inserts the session and its |products|x|personas|
	// cells in a single transaction and returns (sessionID, resultIDs).
	CreateWithResults(ctx Context, s FeedbackSession, cells []FeedbackResult) (int64, []int64, error)
	GetAny(ctx Context, id int64) (FeedbackSession, error)
	// MarkInProgress moves PENDING -> IN_PROGRESS; it is a no-op when the
	// session already advanced.
	MarkInProgress(ctx Context, id int64) error
	// CompleteIfNotCompleted persists insights and the terminal status with
	// a conditional update (status != COMPLETED) so the transition is
	// idempotent. Returns true when this caller performed the transition.
	CompleteIfNotCompleted(ctx Context, id int64, status SessionStatus, insights *SessionInsights) (bool, error)
	TerminalCounts(ctx Context, id int64) (TerminalCounts, error)
	// GetWithResults reads the session row and one page of join-fetched
	// results inside a single read transaction; pageSize <= 0 returns all
	// rows. Ownership-scoped by userID.
	GetWithResults(ctx Context, userID, id int64, pageNumber, pageSize int) (FeedbackSession, ResultPage, error)
}

// SessionResultView is a join-fetched result row: the cell plus the product
// and persona names the API renders, loaded in one query to avoid N+1.
type SessionResultView struct {
	FeedbackResult
	ProductName string
	PersonaName string
}

// ResultPage is a paged view over a session's results.
type ResultPage struct {
	Results    []SessionResultView
	PageNumber int
	PageSize   int
	TotalCount int
}

type ResultRepository interface {
	Get(ctx Context, id int64) (FeedbackResult, error)
	MarkInProgress(ctx Context, id int64) error
	Complete(ctx Context, id int64, feedback string, intent int, concerns []string) error
	Fail(ctx Context, id int64) error
	ListCompleted(ctx Context, sessionID int64) ([]FeedbackResult, error)
}

// Queue (port).

type Queue interface {
	EnqueuePersonaBatch(ctx Context, payload PersonaTaskPayload) error
	EnqueueFeedback(ctx Context, payload FeedbackTaskPayload) error
}

// GeneratedPersona is one element of a validated persona-batch response.
type GeneratedPersona struct {
	Name             string `json:"name"`
	Description      string `json:"detailed_description"`
	ProductAttitudes string `json:"product_attitudes"`
}

// GeneratedFeedback is a validated feedback response.
type GeneratedFeedback struct {
	Feedback       string   `json:"feedback"`
	PurchaseIntent int      `json:"purchase_intent"`
	KeyConcerns    []string `json:"key_concerns"`
}

// AIGateway is the LLM gateway port. Implementations classify failures as
// ErrAITransient (retriable) or ErrInvalidAIResponse / permanent.
type AIGateway interface {
	GeneratePersonaBatch(ctx Context, specs []PersonaCharacteristics) ([]GeneratedPersona, error)
	GenerateFeedback(ctx Context, persona Persona, product Product, language string) (GeneratedFeedback, error)
	AggregateInsights(ctx Context, concerns []string) ([]InsightTheme, error)
}

// SessionLocker is the cluster-wide mutual-exclusion port guarding session
// termination. Acquire blocks up to wait; the lease self-expires. A timeout
// returns ErrLockTimeout (retriable).
type SessionLocker interface {
	Acquire(ctx Context, key string, wait, lease time.Duration) (release func(ctx Context) error, err error)
}

// IdempotencyCache deduplicates create requests within a short window.
type IdempotencyCache interface {
	Get(ctx Context, key string) (int64, bool, error)
	Set(ctx Context, key string, id int64, ttl time.Duration) error
}
