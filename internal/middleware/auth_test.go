package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"antigravity2api-go/internal/config"
)

func authRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}

	router := gin.New()
	router.Use(Auth(cfg))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return router
}

func doPing(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthNoKeyConfiguredPassesThrough(t *testing.T) {
	router := authRouter(t, nil)
	rec := doPing(router, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthPlainKey(t *testing.T) {
	router := authRouter(t, func(cfg *config.Config) {
		cfg.Security.APIKey = "sk-secret"
	})

	rec := doPing(router, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_api_key", gjson.GetBytes(rec.Body.Bytes(), "error.code").String())

	rec = doPing(router, map[string]string{"Authorization": "Bearer sk-wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doPing(router, map[string]string{"Authorization": "Bearer sk-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Bare Authorization value and x-api-key are both accepted.
	rec = doPing(router, map[string]string{"Authorization": "sk-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doPing(router, map[string]string{"x-api-key": "sk-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthBcryptHashTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sk-hashed"), bcrypt.MinCost)
	require.NoError(t, err)

	router := authRouter(t, func(cfg *config.Config) {
		cfg.Security.APIKey = "sk-plain"
		cfg.Security.APIKeyHash = string(hash)
	})

	rec := doPing(router, map[string]string{"Authorization": "Bearer sk-hashed"})
	require.Equal(t, http.StatusOK, rec.Code)

	// With a hash configured the plain key no longer matches.
	rec = doPing(router, map[string]string{"Authorization": "Bearer sk-plain"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
