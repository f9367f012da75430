package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-invoicing/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware validates HS256 bearer tokens issued by the identity provider
// and places the caller's email identity on the request context. Token
// issuance happens outside this service; only validation lives here.
type Middleware struct {
	Secret     []byte
	AdminEmail string
	ClockSkew  time.Duration
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticate(r)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithIdentity(r.Context(), id)))
	})
}

func (m Middleware) authenticate(r *http.Request) (common.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return common.Identity{}, errNoToken
	}
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, m.Secret),
		jwt.WithValidate(true),
	}
	if m.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(m.ClockSkew))
	}
	tok, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		return common.Identity{}, err
	}
	email := ""
	if v, ok := tok.Get("email"); ok {
		if s, ok := v.(string); ok {
			email = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if email == "" {
		return common.Identity{}, errors.New("auth: token missing email claim")
	}
	return common.Identity{
		Subject: tok.Subject(),
		Email:   email,
		Admin:   m.AdminEmail != "" && email == m.AdminEmail,
	}, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
