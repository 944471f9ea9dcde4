package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/warp/class-booking/booking"
)

// Header-based identity, used when no JWT secret is configured. Intended
// for deployments behind an authenticating gateway and for local use.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type callerKey struct{}

// Claims is the bearer token payload. Subject is the member ID.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of each request.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator verifies HS256 bearer tokens signed with secret. An
// empty secret trusts the X-Tenant-ID, X-User-ID and X-User-Role headers.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for caller. Used by tests and tooling.
func (a *Authenticator) IssueToken(caller booking.Caller, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID: string(caller.TenantID),
		Role:     string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(caller.MemberID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

var errUnauthenticated = errors.New("missing or invalid credentials")

func (a *Authenticator) resolve(r *http.Request) (booking.Caller, error) {
	if len(a.secret) == 0 {
		return callerFromHeaders(r)
	}

	raw := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		return booking.Caller{}, errUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return booking.Caller{}, errUnauthenticated
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TenantID == "" || claims.Subject == "" {
		return booking.Caller{}, errUnauthenticated
	}
	return booking.Caller{
		TenantID: booking.TenantID(claims.TenantID),
		MemberID: booking.MemberID(claims.Subject),
		Role:     parseRole(claims.Role),
	}, nil
}

func callerFromHeaders(r *http.Request) (booking.Caller, error) {
	tenant := strings.TrimSpace(r.Header.Get(HeaderTenantID))
	user := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if tenant == "" || user == "" {
		return booking.Caller{}, errUnauthenticated
	}
	return booking.Caller{
		TenantID: booking.TenantID(tenant),
		MemberID: booking.MemberID(user),
		Role:     parseRole(r.Header.Get(HeaderUserRole)),
	}, nil
}

func parseRole(raw string) booking.Role {
	switch role := booking.Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case booking.RoleOwner, booking.RoleAdmin, booking.RoleTrainer:
		return role
	}
	return booking.RoleMember
}

// Middleware rejects unauthenticated requests with 401 and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Unauthenticated", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller booking.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by Middleware.
func CallerFrom(ctx context.Context) (booking.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(booking.Caller)
	return caller, ok
}
