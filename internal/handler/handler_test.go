package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"payauth_service/internal/apperr"
	"payauth_service/internal/auth"
	"payauth_service/internal/metrics"
	"payauth_service/internal/models"
	"payauth_service/internal/payments"
	"payauth_service/internal/ratelimit"
	"payauth_service/internal/service"
	"payauth_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-test-secret-test-secret"

type captureNotifier struct {
	mu     sync.Mutex
	tokens []string
}

func (n *captureNotifier) SendResetToken(_ context.Context, _ models.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.tokens = append(n.tokens, token)
	return nil
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.tokens) == 0 {
		return ""
	}
	return n.tokens[len(n.tokens)-1]
}

type stubPayments struct {
	intent  payments.Intent
	refund  payments.Refund
	history []payments.Intent
	err     error
	calls   []models.Identity
}

func (s *stubPayments) CreateIntent(_ context.Context, id models.Identity, amount int64, _, _ string) (payments.Intent, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return payments.Intent{}, s.err
	}
	if amount < payments.MinAmount {
		return payments.Intent{}, payments.ErrAmountTooSmall
	}
	return s.intent, nil
}

func (s *stubPayments) Confirm(_ context.Context, id models.Identity, _ string) (payments.Intent, error) {
	s.calls = append(s.calls, id)
	return s.intent, s.err
}

func (s *stubPayments) Refund(_ context.Context, id models.Identity, _ string, _ *int64) (payments.Refund, error) {
	s.calls = append(s.calls, id)
	return s.refund, s.err
}

func (s *stubPayments) History(_ context.Context, id models.Identity) ([]payments.Intent, error) {
	s.calls = append(s.calls, id)
	return s.history, s.err
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	router   *gin.Engine
	tokens   *auth.TokenManager
	notifier *captureNotifier
	payments *stubPayments
	metrics  *metrics.Metrics
	store    *storage.MemoryStorage
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemoryStorage()
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(testSecret, "test")
	require.NoError(t, err)

	notifier := &captureNotifier{}
	svc := service.NewService(log, store, hasher, tokens, notifier, service.Options{
		SessionTTL:    time.Hour,
		ResetTokenTTL: time.Hour,
	})

	env := &testEnv{
		tokens:   tokens,
		notifier: notifier,
		payments: &stubPayments{},
		metrics:  metrics.New("test"),
		store:    store,
	}

	deps := Deps{
		Auth:          svc,
		Payments:      env.payments,
		Tokens:        tokens,
		Health:        store,
		Metrics:       env.metrics,
		Origins:       []string{"http://localhost:5173"},
		ExposeDetails: true,
	}
	for _, m := range mutate {
		m(&deps)
	}

	env.router = NewHandler(log, deps).InitRoutes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) signup(t *testing.T, email, password string) string {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"fullName": "Jane Doe",
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return decode(t, w)["token"].(string)
}

func TestSignupSignin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"password": "Abcdef12",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, "User registered successfully", body["message"])
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "jane@x.com", user["email"])
	assert.Equal(t, "Jane Doe", user["fullName"])
	assert.Equal(t, true, user["isActive"])
	assert.NotContains(t, user, "PasswordHash")

	w = env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "jane@x.com",
		"password": "Abcdef12",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["token"])

	w = env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "jane@x.com",
		"password": "wrong",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	wrongPassword := decode(t, w)["message"]

	w = env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "nobody@x.com",
		"password": "wrong",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", wrongPassword)
	assert.Equal(t, wrongPassword, decode(t, w)["message"])
}

func TestSignup_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "jane@x.com", "Abcdef12")

	tests := []struct {
		name    string
		body    map[string]string
		code    int
		message string
	}{
		{
			name:    "missing fields",
			body:    map[string]string{"email": "a@b.co"},
			code:    http.StatusBadRequest,
			message: "All fields are required",
		},
		{
			name:    "invalid email",
			body:    map[string]string{"fullName": "A", "email": "not-an-email", "password": "Abcdef12"},
			code:    http.StatusBadRequest,
			message: "Invalid email format",
		},
		{
			name:    "weak password",
			body:    map[string]string{"fullName": "A", "email": "a@b.co", "password": "abcdefgh"},
			code:    http.StatusBadRequest,
			message: auth.PasswordRequirements,
		},
		{
			name:    "email taken",
			body:    map[string]string{"fullName": "A", "email": "jane@x.com", "password": "Abcdef12"},
			code:    http.StatusConflict,
			message: "User with this email already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/auth/signup", tt.body, "")
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.message, decode(t, w)["message"])
		})
	}
}

func TestSignup_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decode(t, w)["message"])
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "jane@x.com", "Abcdef12")

	expired, _, err := env.tokens.Issue(models.Identity{UserID: uuid.Must(uuid.NewV4())}, -time.Minute)
	require.NoError(t, err)

	other, err := auth.NewTokenManager("another-secret-another-secret-xx", "test")
	require.NoError(t, err)
	forged, _, err := other.Issue(models.Identity{UserID: uuid.Must(uuid.NewV4())}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		code    int
		message string
	}{
		{name: "missing header", header: "", code: http.StatusUnauthorized, message: "No token, authorization denied"},
		{name: "wrong scheme", header: "Basic abc", code: http.StatusUnauthorized, message: "No token, authorization denied"},
		{name: "empty bearer", header: "Bearer ", code: http.StatusUnauthorized, message: "No token, authorization denied"},
		{name: "expired", header: "Bearer " + expired, code: http.StatusUnauthorized, message: "Token expired"},
		{name: "malformed", header: "Bearer not.a.jwt", code: http.StatusUnauthorized, message: "Invalid token"},
		{name: "bad signature", header: "Bearer " + forged, code: http.StatusUnauthorized, message: "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.message, decode(t, w)["message"])
		})
	}

	w := env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "jane@x.com", body["user"].(map[string]any)["email"])
	assert.Equal(t, []any{"user"}, body["roles"])
}

type brokenVerifier struct{}

func (brokenVerifier) Verify(string) (models.Identity, error) {
	return models.Identity{}, errors.New("key store unavailable")
}

func TestAuthMiddleware_UnclassifiedFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Tokens = brokenVerifier{} })

	w := env.do(t, http.MethodGet, "/api/auth/me", nil, "whatever")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server error during authentication", decode(t, w)["message"])
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "jane@x.com", "Abcdef12")

	w := env.do(t, http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": "Wrong123",
		"newPassword":     "Newpass12",
	}, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Current password is incorrect", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/auth/change-password", map[string]string{
		"currentPassword": "Abcdef12",
		"newPassword":     "Newpass12",
	}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Password updated successfully", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "jane@x.com",
		"password": "Newpass12",
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "jane@x.com", "Abcdef12")

	w := env.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "ghost@x.com"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "jane@x.com"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Password reset instructions sent to your email", decode(t, w)["message"])

	resetToken := env.notifier.last()
	require.NotEmpty(t, resetToken)

	reset := map[string]string{"token": resetToken, "newPassword": "Newpass12"}

	w = env.do(t, http.MethodPost, "/api/auth/reset-password", reset, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Password has been reset successfully", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/auth/reset-password", reset, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired token", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/auth/signin", map[string]string{
		"email":    "jane@x.com",
		"password": "Newpass12",
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayments(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "jane@x.com", "Abcdef12")

	env.payments.intent = payments.Intent{
		ID:           "pi_1",
		ClientSecret: "pi_1_secret",
		Amount:       500,
		Currency:     "usd",
		Status:       "requires_payment_method",
	}

	w := env.do(t, http.MethodPost, "/api/payments/create-payment-intent", map[string]any{"amount": 500}, token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pi_1_secret", body["clientSecret"])
	assert.Equal(t, "pi_1", body["paymentIntentId"])

	w = env.do(t, http.MethodPost, "/api/payments/create-payment-intent", map[string]any{"amount": 10}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Amount must be at least 50 cents", decode(t, w)["message"])

	w = env.do(t, http.MethodPost, "/api/payments/confirm-payment", map[string]any{"paymentIntentId": "pi_1"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "requires_payment_method", body["status"])

	env.payments.intent.Status = payments.StatusSucceeded
	w = env.do(t, http.MethodPost, "/api/payments/confirm-payment", map[string]any{"paymentIntentId": "pi_1"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pi_1", body["paymentDetails"].(map[string]any)["id"])

	env.payments.refund = payments.Refund{ID: "re_1", Amount: 500, Currency: "usd", Status: "succeeded"}
	w = env.do(t, http.MethodPost, "/api/payments/refund", map[string]any{"paymentIntentId": "pi_1"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "re_1", decode(t, w)["refund"].(map[string]any)["id"])

	env.payments.history = []payments.Intent{env.payments.intent}
	w = env.do(t, http.MethodGet, "/api/payments/history", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["payments"], 1)

	for _, id := range env.payments.calls {
		assert.Equal(t, "jane@x.com", id.Email)
	}
}

func TestPayments_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/payments/history", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, env.payments.calls)
}

func TestPayments_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "jane@x.com", "Abcdef12")
	env.payments.err = apperr.Wrap(payments.ErrGateway, errors.New("stripe: card network down"))

	w := env.do(t, http.MethodGet, "/api/payments/history", nil, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Payment provider error", body["message"])
	assert.Equal(t, "stripe: card network down", body["details"])
}

func TestInternalError_HidesDetailsInProd(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.ExposeDetails = false })
	token := env.signup(t, "jane@x.com", "Abcdef12")
	env.payments.err = apperr.Internal(errors.New("pool exhausted"))

	w := env.do(t, http.MethodGet, "/api/payments/history", nil, token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, body, "details")
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "Cannot GET /api/nowhere", body["message"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	env = newTestEnv(t, func(d *Deps) { d.Health = failingPinger{err: storage.ErrTimeout} })
	w = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "jane@x.com", "Abcdef12")

	w := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_auth_events_total{operation="signup",outcome="success"} 1`)
	assert.Contains(t, w.Body.String(), `path="/api/auth/signup"`)
}

func TestRateLimitedSignin(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{RequestsPerWindow: 2, Window: time.Minute})
	})

	creds := map[string]string{"email": "jane@x.com", "password": "Abcdef12"}
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, "/api/auth/signin", creds, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/auth/signin", creds, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = env.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "jane@x.com"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "routes are limited independently")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w = env.do(t, http.MethodGet, "/health", nil, "")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := env.do(t, http.MethodGet, "/boom", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["message"])
}

func signinFrom(t *testing.T, env *testEnv, remoteAddr, forwardedFor string) int {
	t.Helper()

	body, err := json.Marshal(map[string]string{"email": "jane@x.com", "password": "Abcdef12"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{RequestsPerWindow: 2, Window: time.Minute})
	})

	var codes []int
	for i := 0; i < 6; i++ {
		codes = append(codes, signinFrom(t, env, "203.0.113.9:4242", fmt.Sprintf("10.9.9.%d", i)))
	}

	assert.Equal(t, []int{
		http.StatusUnauthorized,
		http.StatusUnauthorized,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute})
		d.TrustedProxies = []string{"203.0.113.0/24"}
	})

	assert.Equal(t, http.StatusUnauthorized, signinFrom(t, env, "203.0.113.9:4242", "198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, signinFrom(t, env, "203.0.113.9:4242", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, signinFrom(t, env, "203.0.113.9:4242", "198.51.100.1"))
}
