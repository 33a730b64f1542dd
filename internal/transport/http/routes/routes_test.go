package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/infra/config"
	"github.com/toolme/marketplace-api/internal/infra/kafka"
	"github.com/toolme/marketplace-api/internal/infra/mail"
	"github.com/toolme/marketplace-api/internal/infra/oauth"
	"github.com/toolme/marketplace-api/internal/infra/security"
	"github.com/toolme/marketplace-api/internal/repository/memory"
	"github.com/toolme/marketplace-api/internal/transport/http/middleware"
	httproutes "github.com/toolme/marketplace-api/internal/transport/http/routes"
	"github.com/toolme/marketplace-api/internal/usecase"
)

const scenarioPassword = "correct-horse-battery"

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App:       config.AppSettings{Name: "toolme-api", Env: "test"},
		Cookie:    config.CookieSettings{Name: "toolme_access_token", Path: "/"},
		CORS:      config.CORSSettings{AllowedOrigins: []string{"http://localhost:5173"}},
		RateLimit: config.RateLimitSettings{AuthPerMinute: 100, WindowDuration: time.Minute},
	}
}

func newAuthService(t *testing.T) *usecase.AuthService {
	t.Helper()
	log := zaptest.NewLogger(t)

	hasher, err := security.NewPasswordHasher(security.HasherConfig{Algorithm: security.AlgorithmBcrypt, BcryptCost: 4})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	issuer, err := security.NewSessionTokenIssuer(security.SessionTokenConfig{
		Secret: "routes-test-secret-long-enough-32b",
		Issuer: "toolme-test",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	svc, err := usecase.NewAuthService(usecase.AuthConfig{
		FrontendURL:  "http://localhost:5173",
		ExposeTokens: true,
	}, usecase.AuthDependencies{
		Users:    memory.NewUserRepository(),
		Hasher:   hasher,
		Policy:   security.NewPasswordPolicy(security.DefaultPolicyConfig()),
		Tokens:   issuer,
		Notifier: mail.NewDevNotifier("", log),
		Events:   kafka.NewStubPublisher(log),
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return svc
}

func newRouter(t *testing.T, mutate func(*httproutes.Dependencies)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	deps := httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		Auth:        newAuthService(t),
		RateLimiter: middleware.NewRateLimiter(memory.NewRateLimitStore(), zaptest.NewLogger(t)),
		Metrics:     metrics,
		Gatherer:    registry,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return httproutes.Register(deps)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "toolme_access_token" {
			return cookie
		}
	}
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

type fakeDatabase struct{ err error }

func (f fakeDatabase) Ping(context.Context) error { return f.err }

func TestReadinessReportsFailingDependency(t *testing.T) {
	r := newRouter(t, func(deps *httproutes.Dependencies) {
		deps.Database = fakeDatabase{err: errors.New("connection refused")}
	})

	w := doJSON(t, r, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	checks, _ := body["checks"].(map[string]any)
	if checks["database"] != "unavailable" {
		t.Fatalf("expected database check to fail, got %v", body)
	}
}

func TestSignupVerifyLoginScenario(t *testing.T) {
	r := newRouter(t, nil)

	signup := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":            "Ada@Example.com",
		"password":         scenarioPassword,
		"password_confirm": scenarioPassword,
	})
	if signup.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", signup.Code, signup.Body.String())
	}
	created := decode[map[string]any](t, signup)
	if created["email"] != "ada@example.com" {
		t.Fatalf("expected normalized email, got %v", created["email"])
	}
	verificationToken, _ := created["verification_token"].(string)
	if verificationToken == "" {
		t.Fatalf("expected verification token in test environment")
	}

	credentials := map[string]any{"email": "ada@example.com", "password": scenarioPassword}

	blocked := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", credentials)
	if blocked.Code != http.StatusForbidden {
		t.Fatalf("login before verification: expected 403, got %d", blocked.Code)
	}

	verify := doJSON(t, r, http.MethodPost, "/api/v1/auth/verify-email", map[string]any{"token": verificationToken, "use_cookie": false})
	if verify.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", verify.Code, verify.Body.String())
	}
	if sessionCookie(verify) != nil {
		t.Fatalf("expected no cookie when use_cookie is false")
	}

	login := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", credentials)
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", login.Code, login.Body.String())
	}
	session := decode[map[string]any](t, login)
	if session["token_type"] != "bearer" || session["access_token"] == "" {
		t.Fatalf("unexpected session payload %v", session)
	}

	cookie := sessionCookie(login)
	if cookie == nil {
		t.Fatalf("expected session cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode || cookie.MaxAge <= 0 {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	me := doJSON(t, r, http.MethodGet, "/api/v1/auth/me", nil, cookie)
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", me.Code)
	}
	profile := decode[map[string]any](t, me)
	if profile["email"] != "ada@example.com" || profile["email_verified"] != true || profile["has_password"] != true {
		t.Fatalf("unexpected profile %v", profile)
	}

	root := doJSON(t, r, http.MethodGet, "/", nil, cookie)
	if greeting := decode[map[string]any](t, root); greeting["authenticated"] != true {
		t.Fatalf("expected personalized root response, got %v", greeting)
	}

	logout := doJSON(t, r, http.MethodPost, "/api/v1/auth/logout", nil, cookie)
	if cleared := sessionCookie(logout); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie on logout, got %+v", cleared)
	}
}

func TestMeRequiresIdentity(t *testing.T) {
	r := newRouter(t, nil)

	w := doJSON(t, r, http.MethodGet, "/api/v1/auth/me", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	root := doJSON(t, r, http.MethodGet, "/", nil)
	if root.Code != http.StatusOK {
		t.Fatalf("expected anonymous root to succeed, got %d", root.Code)
	}
	if greeting := decode[map[string]any](t, root); greeting["authenticated"] != false {
		t.Fatalf("expected anonymous root response, got %v", greeting)
	}
}

func TestSignupValidationListsFields(t *testing.T) {
	r := newRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":            "not-an-email",
		"password":         "short",
		"password_confirm": "different",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	body := decode[struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}](t, w)
	seen := map[string]bool{}
	for _, field := range body.Fields {
		seen[field.Field] = true
	}
	for _, name := range []string{"email", "password", "password_confirm"} {
		if !seen[name] {
			t.Fatalf("expected %s in fields, got %+v", name, body.Fields)
		}
	}
}

func TestBindingErrorsUseJSONFieldNames(t *testing.T) {
	r := newRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ada@example.com"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	body := decode[struct {
		Fields []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"fields"`
	}](t, w)
	if len(body.Fields) != 1 || body.Fields[0].Field != "password" || body.Fields[0].Code != "required" {
		t.Fatalf("unexpected fields %+v", body.Fields)
	}

	malformed := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(malformed, req)
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", malformed.Code)
	}
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	r := newRouter(t, nil)

	known := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email": "grace@example.com", "password": scenarioPassword, "password_confirm": scenarioPassword,
	})
	if known.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", known.Code)
	}

	unknown := doJSON(t, r, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@example.com"})
	registered := doJSON(t, r, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "grace@example.com"})

	if unknown.Code != http.StatusOK || registered.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", unknown.Code, registered.Code)
	}
	if decode[map[string]any](t, unknown)["message"] != decode[map[string]any](t, registered)["message"] {
		t.Fatalf("expected identical messages")
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	r := newRouter(t, func(deps *httproutes.Dependencies) {
		deps.Config.RateLimit.AuthPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "x@example.com"})
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "x@example.com", "password": "whatever"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	health := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", health.Code)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	r := newRouter(t, nil)

	doJSON(t, r, http.MethodGet, "/healthz", nil)
	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("toolme_http_requests_total")) {
		t.Fatalf("expected request counter in metrics output")
	}
}

type fakeGoogle struct{}

func (fakeGoogle) Provider() string { return oauth.ProviderGoogle }

func (fakeGoogle) Verify(_ context.Context, credential string) (domain.ExternalIdentity, error) {
	if credential != "valid-google-token" {
		return domain.ExternalIdentity{}, oauth.ErrInvalidCredential
	}
	return domain.ExternalIdentity{
		Provider:      oauth.ProviderGoogle,
		Subject:       "google-sub-1",
		Email:         "lin@example.com",
		EmailVerified: true,
	}, nil
}

func TestExternalSignInCreatesPasswordlessAccount(t *testing.T) {
	r := newRouter(t, func(deps *httproutes.Dependencies) {
		deps.ExternalSignIn = fakeGoogle{}
	})

	rejected := doJSON(t, r, http.MethodPost, "/api/v1/auth/external/google", map[string]string{"id_token": "forged"})
	if rejected.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rejected.Code)
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/external/google", map[string]string{"id_token": "valid-google-token"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	session := decode[SessionBody](t, w)
	if session.User.Email != "lin@example.com" || session.User.HasPassword || !session.User.EmailVerified {
		t.Fatalf("unexpected user %+v", session.User)
	}

	deleted := doJSON(t, r, http.MethodPost, "/api/v1/auth/delete-account", nil, sessionCookie(w))
	if deleted.Code != http.StatusOK {
		t.Fatalf("expected password-less deletion to succeed, got %d: %s", deleted.Code, deleted.Body.String())
	}
}

func TestExternalSignInRouteRequiresProvider(t *testing.T) {
	r := newRouter(t, nil)

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/external/google", map[string]string{"id_token": "valid-google-token"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a configured provider, got %d", w.Code)
	}
}

func TestDeleteAccountRequiresPassword(t *testing.T) {
	r := newRouter(t, nil)

	signup := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email": "kay@example.com", "password": scenarioPassword, "password_confirm": scenarioPassword,
	})
	token := decode[map[string]any](t, signup)["verification_token"]
	verify := doJSON(t, r, http.MethodPost, "/api/v1/auth/verify-email", map[string]any{"token": token})
	cookie := sessionCookie(verify)
	if cookie == nil {
		t.Fatalf("expected verification to set the session cookie")
	}

	missing := doJSON(t, r, http.MethodPost, "/api/v1/auth/delete-account", map[string]string{}, cookie)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without password, got %d", missing.Code)
	}

	wrong := doJSON(t, r, http.MethodPost, "/api/v1/auth/delete-account", map[string]string{"password": "not-the-password"}, cookie)
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", wrong.Code)
	}

	ok := doJSON(t, r, http.MethodPost, "/api/v1/auth/delete-account", map[string]string{"password": scenarioPassword}, cookie)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.Code)
	}

	me := doJSON(t, r, http.MethodGet, "/api/v1/auth/me", nil, cookie)
	if me.Code != http.StatusUnauthorized {
		t.Fatalf("expected deleted account to be unauthenticated, got %d", me.Code)
	}
}

// SessionBody mirrors the session response for decoding.
type SessionBody struct {
	AccessToken string `json:"access_token"`
	User        struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		HasPassword   bool   `json:"has_password"`
	} `json:"user"`
}
