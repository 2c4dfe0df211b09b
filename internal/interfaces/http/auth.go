package httpinterface

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/thanhpk/randstr"
)

const tokenFileName = "admin.token"

// Authenticator guards the admin endpoints with a bearer secret. The secret
// is generated once and persisted under the datadir; clients present it
// either verbatim or as the signing key of a short-lived HS256 JWT.
type Authenticator struct {
	secret string
}

// NewAuthenticator loads the admin secret from authDir, generating and
// persisting a fresh one on first run.
func NewAuthenticator(authDir string) (*Authenticator, error) {
	path := filepath.Join(authDir, tokenFileName)
	buf, err := os.ReadFile(path)
	if err == nil {
		return &Authenticator{secret: strings.TrimSpace(string(buf))}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading admin token file: %w", err)
	}

	secret := randstr.Hex(32)
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return nil, fmt.Errorf("writing admin token file: %w", err)
	}
	return &Authenticator{secret: secret}, nil
}

// Secret returns the raw bearer secret, used by the CLI state file.
func (a *Authenticator) Secret() string { return a.secret }

// NewToken issues a JWT signed with the admin secret.
func (a *Authenticator) NewToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secret))
}

// Authorize checks the Authorization header of r.
func (a *Authenticator) Authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	bearer := strings.TrimPrefix(header, "Bearer ")

	if bearer == a.secret {
		return nil
	}

	_, err := jwt.Parse(bearer, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(a.secret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	return nil
}
