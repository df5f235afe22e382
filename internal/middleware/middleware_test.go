package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

const testSecret = "test-secret"

func whoAmI() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()) + "|" + GetUsername(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	valid, err := IssueToken(testSecret, "U", "Ada", time.Minute)
	require.NoError(t, err)
	noName, err := IssueToken(testSecret, "V", "", time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "U", "Ada", -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "U", "Ada", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "U|Ada"},
		{"name falls back to subject", "Bearer " + noName, http.StatusOK, "V|V"},
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "invalid token"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Auth(testSecret)(whoAmI()).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestLogging_SetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestUserRateLimit(t *testing.T) {
	token, err := IssueToken(testSecret, "U", "Ada", time.Minute)
	require.NoError(t, err)
	h := Auth(testSecret)(UserRateLimit(2, time.Minute)(whoAmI()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidateConversationID(t *testing.T) {
	for _, id := range []string{"U_cv01", "user@example.com_cv12", "a_b_cv100"} {
		assert.NoError(t, ValidateConversationID(id), id)
	}
	for _, id := range []string{"", "U_cv1", "U_cvAB", "../U_cv01", "U cv01", "_cv01x"} {
		assert.Error(t, ValidateConversationID(id), id)
	}
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent(""))
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent(strings.Repeat("x", MaxMessageLength+1)))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))
}

func TestValidateMode(t *testing.T) {
	assert.NoError(t, ValidateMode(""))
	assert.NoError(t, ValidateMode("plain"))
	assert.NoError(t, ValidateMode("agentic"))
	assert.Error(t, ValidateMode("turbo"))
}
