package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Mockaj/ai-service/internal/api/handlers"
	"github.com/Mockaj/ai-service/internal/api/middleware"
	"github.com/Mockaj/ai-service/internal/domain/intent"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/service"
)

const (
	testKeyID  = "server-test-key"
	testIssuer = "https://idp.test/realms/ai"
)

// stubServices реализует все сервисные интерфейсы обработчиков.
type stubServices struct{}

func (stubServices) List(context.Context) ([]string, error) { return []string{"skills"}, nil }
func (stubServices) Monitoring(context.Context) service.MonitoringStatus {
	return service.MonitoringStatus{Elastic: service.MonitoringSuccess, AIService: service.MonitoringSuccess}
}
func (stubServices) Sync(context.Context, string, []intent.Intent) error { return nil }
func (stubServices) Search(context.Context, string, []string, int) ([]model.SimilarRecord, error) {
	return nil, nil
}
func (stubServices) StartRebuild(name string) (*model.RebuildReport, error) {
	return &model.RebuildReport{ID: "run-1", Collection: name}, nil
}
func (stubServices) History(context.Context, string, int) ([]*model.RebuildReport, error) {
	return nil, nil
}

type okChecker struct{}

func (okChecker) CheckReady() (string, string) { return "ok", "" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(auth *middleware.JWTAuth) http.Handler {
	s := stubServices{}
	h := handlers.NewAPIHandler(handlers.NewHealthHandler(okChecker{}, okChecker{}, nil), s, s, s, s, discardLogger())
	return NewRouter(h, auth, discardLogger())
}

func newTestAuth(t *testing.T) (*middleware.JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return middleware.NewJWTAuthWithKeyfunc(kf, testIssuer, []string{"ais-admins"}, []string{"ais-readers"}, discardLogger()), key
}

func sign(t *testing.T, key *rsa.PrivateKey, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "subject-1",
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func request(h http.Handler, method, path, token, body string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

// TestRouter_NoAuth — без JWT все маршруты открыты.
func TestRouter_NoAuth(t *testing.T) {
	h := newTestRouter(nil)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/v1/monitoring", "", http.StatusOK},
		{http.MethodGet, "/api/v1/collections", "", http.StatusOK},
		{http.MethodPost, "/api/v1/collections/skills/sync", `{"payload":[]}`, http.StatusOK},
		{http.MethodPost, "/api/v1/collections/skills/similarities", `{"query":["go"]}`, http.StatusOK},
		{http.MethodPost, "/api/v1/collections/skills/rebuild", "", http.StatusAccepted},
		{http.MethodGet, "/api/v1/collections/skills/rebuilds", "", http.StatusOK},
		{http.MethodGet, "/api/v1/collections/skills/sync", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := request(h, tt.method, tt.path, "", tt.body); got != tt.want {
			t.Errorf("%s %s: статус %d, ожидался %d", tt.method, tt.path, got, tt.want)
		}
	}
}

// TestRouter_Auth — публичные маршруты и разграничение чтения/записи.
func TestRouter_Auth(t *testing.T) {
	auth, key := newTestAuth(t)
	h := newTestRouter(auth)

	admin := sign(t, key, jwt.MapClaims{"groups": []string{"ais-admins"}})
	reader := sign(t, key, jwt.MapClaims{"groups": []string{"ais-readers"}})
	saRead := sign(t, key, jwt.MapClaims{"client_id": "sa_bi", "scope": "records:read"})
	saWrite := sign(t, key, jwt.MapClaims{"client_id": "sa_crm", "scope": "records:write"})

	tests := []struct {
		name, method, path, token, body string
		want                             int
	}{
		{"live без токена", http.MethodGet, "/health/live", "", "", http.StatusOK},
		{"metrics без токена", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"monitoring без токена", http.MethodGet, "/api/v1/monitoring", "", "", http.StatusOK},
		{"collections без токена", http.MethodGet, "/api/v1/collections", "", "", http.StatusUnauthorized},
		{"sync без токена", http.MethodPost, "/api/v1/collections/skills/sync", "", `{"payload":[]}`, http.StatusUnauthorized},
		{"collections reader", http.MethodGet, "/api/v1/collections", reader, "", http.StatusOK},
		{"similarities SA read", http.MethodPost, "/api/v1/collections/skills/similarities", saRead, `{"query":["go"]}`, http.StatusOK},
		{"rebuilds SA write", http.MethodGet, "/api/v1/collections/skills/rebuilds", saWrite, "", http.StatusOK},
		{"sync reader", http.MethodPost, "/api/v1/collections/skills/sync", reader, `{"payload":[]}`, http.StatusForbidden},
		{"sync SA read", http.MethodPost, "/api/v1/collections/skills/sync", saRead, `{"payload":[]}`, http.StatusForbidden},
		{"sync SA write", http.MethodPost, "/api/v1/collections/skills/sync", saWrite, `{"payload":[]}`, http.StatusOK},
		{"rebuild admin", http.MethodPost, "/api/v1/collections/skills/rebuild", admin, "", http.StatusAccepted},
		{"rebuild reader", http.MethodPost, "/api/v1/collections/skills/rebuild", reader, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := request(h, tt.method, tt.path, tt.token, tt.body); got != tt.want {
				t.Errorf("статус %d, ожидался %d", got, tt.want)
			}
		})
	}
}

// panickingSearch — поиск, завершающийся паникой.
type panickingSearch struct{ stubServices }

func (panickingSearch) Search(context.Context, string, []string, int) ([]model.SimilarRecord, error) {
	panic("search exploded")
}

// TestRouter_RecoversPanic — паника обработчика превращается в 500, сервер продолжает работу.
func TestRouter_RecoversPanic(t *testing.T) {
	s := stubServices{}
	h := handlers.NewAPIHandler(handlers.NewHealthHandler(okChecker{}, okChecker{}, nil), s, s, panickingSearch{}, s, discardLogger())
	router := NewRouter(h, nil, discardLogger())

	if got := request(router, http.MethodPost, "/api/v1/collections/skills/similarities", "", `{"query":["go"]}`); got != http.StatusInternalServerError {
		t.Errorf("статус %d, ожидался 500", got)
	}
	if got := request(router, http.MethodGet, "/health/live", "", ""); got != http.StatusOK {
		t.Errorf("после паники: статус %d, ожидался 200", got)
	}
}
