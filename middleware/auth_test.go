package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
	gin.SetMode(gin.TestMode)
}

type stubValidator map[string]string

func (s stubValidator) Validate(token string) (string, error) {
	if token == "expired" {
		return "", ErrTokenExpired
	}
	if sub, ok := s[token]; ok {
		return sub, nil
	}
	return "", ErrTokenInvalid
}

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/who", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": GetUserID(c)})
	})
	return r
}

func doRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter(AuthMiddleware(stubValidator{"good": "u1"}))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantUser   string
		wantCode   string
	}{
		{name: "bearer", header: "Bearer good", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "query token", query: "?token=good", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "missing", wantStatus: http.StatusUnauthorized, wantCode: "auth_required"},
		{name: "invalid", header: "Bearer bad", wantStatus: http.StatusUnauthorized, wantCode: "auth_required"},
		{name: "expired", header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantCode: "token_expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := doRequest(r, req)
			require.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantUser != "" {
				assert.Equal(t, tt.wantUser, body["userId"])
			}
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
				assert.Equal(t, "AUTH_REQUIRED", body["type"])
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	r := newAuthRouter(OptionalAuth(stubValidator{"good": "u1"}))

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := doRequest(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u1"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = doRequest(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":""}`, w.Body.String())
}

func TestInternalAuth(t *testing.T) {
	r := newAuthRouter(InternalAuth("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(internalTokenHeader, "s3cret")
	assert.Equal(t, http.StatusOK, doRequest(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(internalTokenHeader, "nope")
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, req).Code)

	disabled := newAuthRouter(InternalAuth(""))
	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	assert.Equal(t, http.StatusUnauthorized, doRequest(disabled, req).Code)
}

func TestTokenError(t *testing.T) {
	assert.Equal(t, "token_expired", tokenError(ErrTokenExpired).Code)
	assert.Equal(t, "auth_required", tokenError(errors.New("x")).Code)
}
