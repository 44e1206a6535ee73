package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-forms/internal/config"
	"site-forms/internal/notify"
	"site-forms/internal/security"
	"site-forms/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *recordingNotifier) Forward(_ context.Context, message notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type testServer struct {
	*Server
	csrf        *security.CSRFValidator
	submissions *store.SubmissionStore
	notifier    *recordingNotifier
}

func newTestServer(t *testing.T, contactLimit int) testServer {
	t.Helper()

	cfg := config.Config{
		CSRFSecret:            "test-secret",
		CSRFTokenTTL:          time.Hour,
		RateWindow:            time.Hour,
		ContactLimitPerWindow: contactLimit,
		TokenLimitPerWindow:   100,
		DuplicateWindow:       10 * time.Minute,
	}

	csrf, err := security.NewCSRFValidator(cfg.CSRFSecret, nil)
	require.NoError(t, err)
	submissions, err := store.NewSubmissionStore(t.TempDir())
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	// frozen so quota headers are exact
	startedAt := time.Now()
	clock := func() time.Time { return startedAt }

	server := NewServer(
		cfg,
		nil,
		security.NewFixedWindowLimiter(cfg.RateWindow, clock),
		security.NewDuplicateDetector(),
		csrf,
		submissions,
		notifier,
	)
	return testServer{Server: server, csrf: csrf, submissions: submissions, notifier: notifier}
}

func (s testServer) token(t *testing.T) string {
	t.Helper()
	token, _, err := s.csrf.Issue("", time.Hour)
	require.NoError(t, err)
	return token
}

func (s testServer) postJSON(body map[string]any, ip string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func validContact(token string) map[string]any {
	return map[string]any{
		"csrf-token":   token,
		"name":         "Jane Doe",
		"email":        "jane@example.com",
		"organization": "Acme Advocacy",
		"message":      "We would like to discuss an upcoming hearing.",
	}
}

func TestContactAcceptsValidSubmission(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := srv.postJSON(validContact(srv.token(t)), "203.0.113.7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)

	saved, ok := srv.submissions.Get(body.ID)
	require.True(t, ok)
	assert.Equal(t, "Acme Advocacy", saved.Organization)
	assert.Equal(t, hashString("203.0.113.7"), saved.ClientIPHash)
	require.Len(t, srv.notifier.messages, 1)
	assert.Equal(t, body.ID, srv.notifier.messages[0].ID)

	assert.Equal(t, "10", rec.Header().Get(security.HeaderLimit))
	assert.Equal(t, "9", rec.Header().Get(security.HeaderRemaining))
	assert.NotEmpty(t, rec.Header().Get(security.HeaderReset))
	assert.Empty(t, rec.Header().Get(security.HeaderRetryAfter))
}

func TestContactAcceptsURLEncodedForm(t *testing.T) {
	srv := newTestServer(t, 10)

	form := url.Values{}
	for key, value := range validContact(srv.token(t)) {
		form.Set(key, value.(string))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, srv.submissions.Len())
}

func TestContactRejectsBadCSRFWithGenericMessage(t *testing.T) {
	srv := newTestServer(t, 10)
	expired, _, err := srv.csrf.Issue("", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	cases := map[string]any{
		"missing":    nil,
		"garbage":    "not-a-token",
		"expired":    expired,
		"tampered":   srv.token(t) + "0",
		"non-string": 42,
	}

	var messages []string
	for name, token := range cases {
		body := validContact("")
		if token == nil {
			delete(body, "csrf-token")
		} else {
			body["csrf-token"] = token
		}

		rec := srv.postJSON(body, "198.51.100.1")
		assert.Equalf(t, http.StatusForbidden, rec.Code, "case %s", name)
		messages = append(messages, rec.Body.String())
	}

	for _, message := range messages {
		assert.Equal(t, messages[0], message)
		assert.Contains(t, message, msgVerificationFailed)
	}
	assert.Zero(t, srv.submissions.Len())
}

func TestContactValidatesFields(t *testing.T) {
	srv := newTestServer(t, 10)

	body := validContact(srv.token(t))
	body["email"] = "not-an-email"
	rec := srv.postJSON(body, "198.51.100.2")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email must be a valid email address")
}

func TestContactRejectsDuplicate(t *testing.T) {
	srv := newTestServer(t, 10)

	first := srv.postJSON(validContact(srv.token(t)), "198.51.100.3")
	require.Equal(t, http.StatusOK, first.Code)

	second := srv.postJSON(validContact(srv.token(t)), "198.51.100.3")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, 1, srv.submissions.Len())
}

func TestContactHoneypotDropsSilently(t *testing.T) {
	srv := newTestServer(t, 10)

	body := validContact(srv.token(t))
	body[honeypotField] = "http://spam.example"
	rec := srv.postJSON(body, "198.51.100.4")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, srv.submissions.Len())
	assert.Empty(t, srv.notifier.messages)
}

func TestContactRateLimited(t *testing.T) {
	srv := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		body := validContact(srv.token(t))
		body["message"] = strings.Repeat("distinct message ", i+1)
		rec := srv.postJSON(body, "192.0.2.55")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := srv.postJSON(validContact(srv.token(t)), "192.0.2.55")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(security.HeaderRemaining))
	assert.Equal(t, "3600", rec.Header().Get(security.HeaderRetryAfter))

	var body struct {
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body.Message)
	assert.Equal(t, 3600, body.RetryAfter)

	// a different client keeps its own quota
	other := srv.postJSON(validContact(srv.token(t)), "192.0.2.56")
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	srv := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "99", rec.Header().Get(security.HeaderRemaining))

	var body struct {
		Token string `json:"token"`
		Field string `json:"field"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, security.DefaultCSRFField, body.Field)
	assert.True(t, srv.csrf.ValidateToken(body.Token))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, 10)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}
