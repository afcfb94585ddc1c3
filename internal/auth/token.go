// Package auth consumes the credential handed over by the platform's
// authentication layer. The engine never performs logins itself: it
// reads the current access token, extracts the local user identity from
// its claims, and answers "is the credential still valid?".
package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no access token is available.
var ErrNoToken = errors.New("no access token available")

// Identity is the local user as asserted by the access token.
type Identity struct {
	UserID   int64
	Username string
}

// TokenSource supplies the current access credential.
type TokenSource interface {
	// Token returns the current access token, or ErrNoToken.
	Token() (string, error)
	// Identity returns the local user identity, or ErrNoToken.
	Identity() (Identity, error)
	// Valid reports whether a non-expired credential is available.
	Valid() bool
}

// FileTokenSource reads the access token from a file the platform's
// auth layer keeps current. Claims are parsed without signature
// verification: verification is the server's job, the engine only needs
// the identity and the expiry.
type FileTokenSource struct {
	path   string
	parser *jwt.Parser
}

// NewFileTokenSource creates a token source backed by the given file.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{
		path:   path,
		parser: jwt.NewParser(),
	}
}

// Token returns the current access token from the file.
func (s *FileTokenSource) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", ErrNoToken
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Identity parses the local user identity out of the token claims.
func (s *FileTokenSource) Identity() (Identity, error) {
	raw, err := s.Token()
	if err != nil {
		return Identity{}, err
	}
	return parseIdentity(s.parser, raw)
}

// Valid reports whether the token exists and has not expired.
func (s *FileTokenSource) Valid() bool {
	raw, err := s.Token()
	if err != nil {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := s.parser.ParseUnverified(raw, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		// Tokens without expiry are treated as valid; the server
		// rejects them if it disagrees.
		return err == nil
	}
	return exp.After(time.Now())
}

func parseIdentity(parser *jwt.Parser, raw string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token claims: %w", err)
	}

	id := Identity{}
	// The platform issues tokens with a numeric "user_id" claim; fall
	// back to the standard subject.
	switch v := claims["user_id"].(type) {
	case float64:
		id.UserID = int64(v)
	case string:
		id.UserID, _ = strconv.ParseInt(v, 10, 64)
	default:
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			id.UserID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	if id.UserID == 0 {
		return Identity{}, fmt.Errorf("token has no user identity claim")
	}

	if name, ok := claims["username"].(string); ok {
		id.Username = name
	}
	return id, nil
}

// StaticTokenSource holds a fixed token and identity. Used in tests and
// by embedders that manage credentials themselves.
type StaticTokenSource struct {
	AccessToken string
	User        Identity
}

// Token returns the fixed token, or ErrNoToken when empty.
func (s *StaticTokenSource) Token() (string, error) {
	if s.AccessToken == "" {
		return "", ErrNoToken
	}
	return s.AccessToken, nil
}

// Identity returns the fixed identity.
func (s *StaticTokenSource) Identity() (Identity, error) {
	if s.User.UserID == 0 {
		return Identity{}, ErrNoToken
	}
	return s.User, nil
}

// Valid reports whether a token is present.
func (s *StaticTokenSource) Valid() bool {
	return s.AccessToken != ""
}
