package http

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

const (
	headerServiceKey  = "X-Service-Key"
	headerServiceName = "X-Service-Name"

	ctxPrincipal = "principal"
	ctxSubject   = "subject"

	roleAdmin   = shared.RoleAdmin
	roleService = shared.RoleService
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidToken       = errors.New("invalid token")
	errInvalidServiceKey  = errors.New("invalid service key")
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// Люди приходят с JWT от сервиса аккаунтов (HS256), сервисы - с ключом в
// X-Service-Key, который сверяется с bcrypt-хешем из конфигурации.
// ══════════════════════════════════════════════════════════════════════════════

// AuthConfig configures the Authenticator.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string

	// ServiceKeyHash is a bcrypt hash of the shared service key.
	ServiceKeyHash string

	// Disabled trusts every caller as an admin. Development only.
	Disabled bool
}

// Claims are the JWT claims issued by the account service.
type Claims struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes,omitempty"`
	Wards  []string `json:"wards,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves request credentials to a Principal.
type Authenticator struct {
	config AuthConfig
	log    *logger.Logger

	// verified keeps digests of service keys that already passed bcrypt.
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Disabled {
		log.Warn("authentication disabled, every caller is an admin")
	}
	return &Authenticator{
		config:   cfg,
		log:      log.With(logger.Component("auth")),
		verified: make(map[[sha256.Size]byte]struct{}),
	}
}

// Middleware authenticates the request and stores the principal in the context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(ctxPrincipal, p)
		c.Set(ctxSubject, p.Subject)
		c.Next()
	}
}

// Authenticate resolves the request's credentials.
func (a *Authenticator) Authenticate(r *http.Request) (access.Principal, error) {
	if a.config.Disabled {
		return access.Principal{Subject: "dev", Role: shared.RoleAdmin}, nil
	}

	if key := r.Header.Get(headerServiceKey); key != "" {
		if err := a.checkServiceKey(key); err != nil {
			return access.Principal{}, err
		}
		name := strings.TrimSpace(r.Header.Get(headerServiceName))
		if name == "" {
			name = "service"
		}
		return access.Principal{Subject: name, Role: shared.RoleService}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return access.Principal{}, errMissingCredentials
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return access.Principal{}, errInvalidToken
	}
	return a.parseToken(token)
}

func (a *Authenticator) parseToken(raw string) (access.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.config.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.JWTIssuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(a.config.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		a.log.Debug("token rejected", logger.Err(err))
		return access.Principal{}, errInvalidToken
	}

	role := shared.Role(claims.Role)
	// service identity is only granted via the service key
	if !role.IsValid() || role == shared.RoleService {
		return access.Principal{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	if claims.Subject == "" {
		return access.Principal{}, fmt.Errorf("%w: missing subject", errInvalidToken)
	}

	p := access.Principal{Subject: claims.Subject, Role: role}
	for _, s := range claims.Scopes {
		if sid, err := shared.NewScopeID(s); err == nil {
			p.Scopes = append(p.Scopes, sid)
		}
	}
	for _, w := range claims.Wards {
		p.Wards = append(p.Wards, shared.UserID(w))
	}
	return p, nil
}

func (a *Authenticator) checkServiceKey(key string) error {
	if a.config.ServiceKeyHash == "" {
		return errInvalidServiceKey
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	_, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.config.ServiceKeyHash), []byte(key)); err != nil {
		return errInvalidServiceKey
	}
	a.mu.Lock()
	a.verified[digest] = struct{}{}
	a.mu.Unlock()
	return nil
}

// IssueToken signs a token for subject. Used by tooling and tests.
func (a *Authenticator) IssueToken(subject string, role shared.Role, scopes []string, wards []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:   string(role),
		Scopes: scopes,
		Wards:  wards,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.config.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
}

// RequireRoles rejects principals outside roles.
func RequireRoles(roles ...shared.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := access.RequireRole(principalFrom(c), roles...); err != nil {
			writeError(c, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) access.Principal {
	if v, ok := c.Get(ctxPrincipal); ok {
		if p, ok := v.(access.Principal); ok {
			return p
		}
	}
	return access.Principal{}
}
