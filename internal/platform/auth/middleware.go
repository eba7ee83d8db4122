package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorIDKey    contextKey = "actor_id"
	ActorRolesKey contextKey = "actor_roles"
)

// Claims are the identity assertions issued by the hospital's identity
// provider. Subject carries the staff member's id.
type Claims struct {
	jwt.RegisteredClaims
	HospitalID string   `json:"hospital_id"`
	Roles      []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 validation for development and tests.
	SigningKey []byte
}

// JWKSKey is a single RSA key from a JWKS document.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches RSA keys fetched from a JWKS endpoint.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the key for kid, refetching on a miss or after the TTL.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

// JWTMiddleware validates the bearer token and places the actor's id and
// roles on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyFunc = jwksKeyFunc(cfg.JWKSURL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("jwt_hospital_id", claims.HospitalID)
			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), claims.Subject, claims.Roles)))

			return next(c)
		}
	}
}

// DevActorHeader lets development clients act as a specific staff member.
const DevActorHeader = "X-Actor-ID"

// DevAuthMiddleware trusts the X-Actor-ID and X-Actor-Roles headers and
// falls back to an admin actor. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := c.Request().Header.Get(DevActorHeader)
			if actor == "" {
				actor = "00000000-0000-0000-0000-000000000001"
			}
			roles := []string{RoleAdmin}
			if h := c.Request().Header.Get("X-Actor-Roles"); h != "" {
				roles = strings.Split(h, ",")
			}
			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor, roles)))
			return next(c)
		}
	}
}

// WithActor returns a context carrying the acting staff member.
func WithActor(ctx context.Context, actorID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, actorID)
	return context.WithValue(ctx, ActorRolesKey, roles)
}

func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ActorIDKey).(string)
	return id
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(ActorRolesKey).([]string)
	return roles
}
