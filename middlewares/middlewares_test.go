package middlewares_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/middlewares"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware(), middlewares.AuthMiddleware())
	r.GET("/open", func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": userId, "correlation_id": cid})
	})
	api := r.Group("/api", middlewares.SessionMiddleware())
	api.GET("/me", func(c *gin.Context) {
		claims := middlewares.CtxValue(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"username": claims.Username})
	})
	api.POST("/admin", middlewares.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewares_Session(t *testing.T) {
	config.SetRedisClient(nil)
	r := newRouter()

	w := do(r, http.MethodGet, "/open", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middlewares.CorrelationIdHeader))

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/me", "garbage").Code)

	clerk, err := utils.JwtGenerate(7, "clerk@shop", "clerk")
	require.NoError(t, err)
	w = do(r, http.MethodGet, "/api/me", clerk)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clerk@shop")

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/admin", clerk).Code)

	admin, err := utils.JwtGenerate(1, "owner@shop", utils.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/admin", admin).Code)
}

func TestMiddlewares_CorrelationHeaderIsKept(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(middlewares.CorrelationIdHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(middlewares.CorrelationIdHeader))
	assert.Contains(t, w.Body.String(), "abc-123")
}

func TestMiddlewares_RevokedToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.SetRedisClient(client)
	t.Cleanup(func() {
		config.SetRedisClient(nil)
		_ = client.Close()
	})
	r := newRouter()

	token, err := utils.JwtGenerate(7, "clerk@shop", "clerk")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/me", token).Code)

	require.NoError(t, client.Set(context.Background(), middlewares.RevokedTokenKey(token), "1", 0).Err())
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/me", token).Code)
}
