package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

const RoleAdmin = "admin"

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrSessionRevoked  = errors.New("session is no longer valid")
	ErrGateDisabled    = errors.New("admin password is not configured")
)

// Session is the caller identity handed explicitly to admin operations.
// The zero value is an anonymous public session.
type Session struct {
	ID      string
	Subject string
	Role    string
}

func (s Session) IsAdmin() bool {
	return s.ID != "" && s.Role == RoleAdmin
}

// PasswordGate checks the admin password against a bcrypt hash, or a plain
// secret when no hash is configured.
type PasswordGate struct {
	hash  []byte
	plain string
}

func NewPasswordGate(plain, bcryptHash string) PasswordGate {
	return PasswordGate{hash: []byte(strings.TrimSpace(bcryptHash)), plain: plain}
}

func (g PasswordGate) Enabled() bool {
	return len(g.hash) > 0 || g.plain != ""
}

func (g PasswordGate) Check(password string) bool {
	if password == "" {
		return false
	}
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	}
	if g.plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.plain), []byte(password)) == 1
}

// SessionStore remembers which session ids are live.
type SessionStore interface {
	Create(ctx context.Context, sessionID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
}

type AdminService struct {
	Gate   PasswordGate
	Tokens Manager
	Store  SessionStore
	NewID  func() string
}

func NewAdminService(gate PasswordGate, tokens Manager, store SessionStore) *AdminService {
	return &AdminService{
		Gate:   gate,
		Tokens: tokens,
		Store:  store,
		NewID:  nuid.Next,
	}
}

// Login exchanges the admin password for a signed session token.
func (s *AdminService) Login(ctx context.Context, password string) (string, Session, error) {
	if !s.Gate.Enabled() {
		return "", Session{}, ErrGateDisabled
	}
	if !s.Gate.Check(password) {
		return "", Session{}, ErrInvalidPassword
	}

	session := Session{ID: s.NewID(), Subject: "admin", Role: RoleAdmin}
	token, err := s.Tokens.Sign(session.Subject, session.Role, session.ID)
	if err != nil {
		return "", Session{}, err
	}
	if err := s.Store.Create(ctx, session.ID, s.Tokens.TTL); err != nil {
		return "", Session{}, err
	}
	return token, session, nil
}

// Resolve validates a token and confirms its session has not been revoked.
func (s *AdminService) Resolve(ctx context.Context, token string) (Session, error) {
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	ok, err := s.Store.Exists(ctx, claims.SessionID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrSessionRevoked
	}
	return Session{ID: claims.SessionID, Subject: claims.Subject, Role: claims.Role}, nil
}

func (s *AdminService) Logout(ctx context.Context, token string) error {
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		// An unusable token has nothing left to revoke.
		return nil
	}
	return s.Store.Revoke(ctx, claims.SessionID)
}

type sessionContextKey struct{}

func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func SessionFromContext(ctx context.Context) Session {
	session, _ := ctx.Value(sessionContextKey{}).(Session)
	return session
}
