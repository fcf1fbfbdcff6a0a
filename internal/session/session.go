// Package session keeps the signed-in user's credential between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/golang-jwt/jwt"
)

var (
	ErrNoSession = errors.New("session: not signed in")
	ErrExpired   = errors.New("session: credential expired")
)

const (
	userIdClaim   = "user-id"
	usernameClaim = "username"
	expClaim      = "exp"
)

// FromToken builds a session from the claims of a token issued by the
// server. The signature is not checked; the server does that on every use.
func FromToken(token string) (types.Session, error) {
	parsed, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return types.Session{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return types.Session{}, fmt.Errorf("invalid token claims")
	}

	userId, _ := claims[userIdClaim].(string)
	if userId == "" {
		return types.Session{}, fmt.Errorf("token has no user id")
	}
	username, _ := claims[usernameClaim].(string)

	s := types.Session{UserId: userId, Username: username, Token: token}
	switch exp := claims[expClaim].(type) {
	case float64:
		s.Expires = time.Unix(int64(exp), 0).UTC()
	case json.Number:
		n, err := exp.Int64()
		if err != nil {
			return types.Session{}, fmt.Errorf("invalid exp claim: %w", err)
		}
		s.Expires = time.Unix(n, 0).UTC()
	}

	return s, nil
}

// Expired reports whether s can no longer be used at t.
func Expired(s types.Session, t time.Time) bool {
	return !s.Expires.IsZero() && !t.Before(s.Expires)
}

// Store persists a session in a file only the current user can read.
type Store struct {
	path string
	log  *log.Logger
	now  func() time.Time
}

func NewStore(path string, l *log.Logger) *Store {
	return &Store{path: path, log: l, now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Save(sess types.Session) error {
	if sess.Token == "" || sess.UserId == "" {
		return fmt.Errorf("session: incomplete credential")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing session: %w", err)
	}

	return nil
}

// Load returns the stored session. An expired credential is removed and
// reported as ErrExpired.
func (s *Store) Load() (types.Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.Session{}, ErrNoSession
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("reading session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.Token == "" || sess.UserId == "" {
		s.log.Printf("discarding unreadable session file %s", s.path)
		s.Clear()
		return types.Session{}, ErrNoSession
	}

	if Expired(sess, s.now()) {
		s.Clear()
		return types.Session{}, ErrExpired
	}

	return sess, nil
}

// Clear removes the stored session. Clearing an absent session is not an
// error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
