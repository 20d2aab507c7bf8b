package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Claims identify the caller. Only customer and operator tokens are accepted;
// the system role never comes from outside.
type Claims struct {
	Email string      `json:"email,omitempty"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// HTTPAuth validates bearer tokens and puts the actor on the request.
type HTTPAuth struct {
	secret []byte
	issuer string
}

func NewHTTPAuth(cfg config.APIAuthConfig) *HTTPAuth {
	return &HTTPAuth{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// IssueToken signs a token for actor. Used by operator tooling and tests.
func (a *HTTPAuth) IssueToken(actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: actor.Email,
		Role:  actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *HTTPAuth) Parse(token string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.Subject == "" {
		return models.Actor{}, errInvalidToken
	}
	switch claims.Role {
	case models.RoleCustomer, models.RoleOperator:
	default:
		return models.Actor{}, errInvalidToken
	}
	return models.Actor{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Authenticate rejects requests without a valid bearer token.
func (a *HTTPAuth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			abortError(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		actor, err := a.Parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
		if err != nil {
			abortError(c, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[actorFrom(c).Role]; !ok {
			abortError(c, http.StatusForbidden, "forbidden", "not permitted")
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}
	}
	actor, _ := v.(models.Actor)
	return actor
}
