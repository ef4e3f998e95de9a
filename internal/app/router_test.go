package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/persona-feedback/internal/adapter/httpserver"
	"github.com/fairyhunter13/persona-feedback/internal/config"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , ,"))
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
}

func TestBuildRouterBaseline(t *testing.T) {
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 100}
	srv := &httpserver.Server{Tokens: httpserver.NewTokenIssuer("test-secret", time.Hour)}
	h := BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Protected routes reject anonymous callers before reaching handlers.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type pingOK struct{}

func (pingOK) Ping(context.Context) error { return nil }

type redisPing struct{ err error }
type redisPingRes struct{ err error }

func (r redisPingRes) Err() error { return r.err }
func (r redisPing) Ping(context.Context) RedisPingResult {
	return redisPingRes{err: r.err}
}

func TestBuildReadinessChecks(t *testing.T) {
	ctx := context.Background()

	db, redis, kafka := BuildReadinessChecks(pingOK{}, redisPing{}, pingOK{})
	require.NoError(t, db(ctx))
	require.NoError(t, redis(ctx))
	require.NoError(t, kafka(ctx))

	db, redis, kafka = BuildReadinessChecks(nil, redisPing{err: errors.New("down")}, nil)
	assert.Error(t, db(ctx))
	assert.Error(t, redis(ctx))
	assert.Error(t, kafka(ctx))
}
