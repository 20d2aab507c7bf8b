package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuthParse(t *testing.T) {
	auth := NewHTTPAuth(config.APIAuthConfig{JWTSecret: testJWTSecret, Issuer: testIssuer})

	t.Run("Success", func(t *testing.T) {
		tok, err := auth.IssueToken(customer, time.Hour)
		require.NoError(t, err)
		actor, err := auth.Parse(tok)
		require.NoError(t, err)
		assert.Equal(t, customer, actor)
	})

	t.Run("Expired", func(t *testing.T) {
		tok, err := auth.IssueToken(customer, -time.Minute)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewHTTPAuth(config.APIAuthConfig{JWTSecret: "other", Issuer: testIssuer})
		tok, err := other.IssueToken(customer, time.Hour)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		other := NewHTTPAuth(config.APIAuthConfig{JWTSecret: testJWTSecret, Issuer: "someone-else"})
		tok, err := other.IssueToken(customer, time.Hour)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("SystemRoleRejected", func(t *testing.T) {
		tok, err := auth.IssueToken(models.Actor{ID: "sweeper", Role: models.RoleSystem}, time.Hour)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.ErrorIs(t, err, errInvalidToken)
	})

	t.Run("MissingSubject", func(t *testing.T) {
		tok, err := auth.IssueToken(models.Actor{Role: models.RoleCustomer}, time.Hour)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.ErrorIs(t, err, errInvalidToken)
	})

	t.Run("NoneAlgorithm", func(t *testing.T) {
		claims := Claims{Role: models.RoleOperator, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})
}

func TestRequireRole(t *testing.T) {
	auth := NewHTTPAuth(config.APIAuthConfig{JWTSecret: testJWTSecret, Issuer: testIssuer})
	r := gin.New()
	r.GET("/staff", auth.Authenticate(), RequireRole(models.RoleOperator), func(c *gin.Context) {
		c.String(http.StatusOK, actorFrom(c).ID)
	})

	call := func(actor models.Actor) *httptest.ResponseRecorder {
		tok, err := auth.IssueToken(actor, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := call(operator)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, call(customer).Code)
}

func TestRateLimiterMiddleware(t *testing.T) {
	l := NewRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 2})
	r := gin.New()
	r.GET("/", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC)
	l := NewRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 1})
	l.now = func() time.Time { return now }

	require.True(t, l.getLimiter("ip:10.0.0.1").Allow())
	now = now.Add(20 * time.Minute)
	require.True(t, l.getLimiter("actor:cust-1").Allow())
	require.Equal(t, 2, l.Len())

	assert.Equal(t, 1, l.Prune(15*time.Minute))
	assert.Equal(t, 1, l.Len())

	// the surviving bucket is still spent, the pruned one starts full
	assert.False(t, l.getLimiter("actor:cust-1").Allow())
	assert.True(t, l.getLimiter("ip:10.0.0.1").Allow())
}
