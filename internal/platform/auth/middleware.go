package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/orders/internal/platform/httpx"
)

const (
	roleClaim            = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenExpired lets verifier wrappers report expiry without a Firebase error code.
var ErrTokenExpired = errors.New("auth: id token expired")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// NewAuthenticator constructs an Authenticator. A zero timeout uses five seconds.
func NewAuthenticator(verifier TokenVerifier, timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &Authenticator{verifier: verifier, timeout: timeout}
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given, requires one of them.
// Tokens without a role claim are treated as RoleUser.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnauthenticated, "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			decoded, err := a.verifier.VerifyIDToken(verifyCtx, token)
			cancel()
			if err != nil {
				code := httpx.CodeInvalidToken
				if errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) {
					code = httpx.CodeTokenExpired
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, "firebase id token verification failed", http.StatusUnauthorized))
				return
			}

			identity := &Identity{
				UID:   decoded.UID,
				Email: claimString(decoded.Claims, "email"),
				Name:  claimString(decoded.Claims, "name"),
				Roles: rolesFromClaims(decoded.Claims),
			}
			if len(allowedRoles) > 0 && !identity.hasAnyRole(allowedRoles) {
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInsufficientRole, "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (i *Identity) hasAnyRole(roles []string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims map[string]any) []string {
	var roles []string
	switch v := claims[roleClaim].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if role := normaliseRole(part); role != "" {
				roles = append(roles, role)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && normaliseRole(s) != "" {
				roles = append(roles, normaliseRole(s))
			}
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	return roles
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
