package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 12 * time.Hour

// Session is an authenticated login.
type Session struct {
	Token     string
	UserID    int64
	Name      string
	Email     string
	ExpiresAt time.Time
}

// UserInput is the form data of a new user.
type UserInput struct {
	Name     string `json:"name" validate:"notblank,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// AuthService checks logins against the local user list and keeps sessions
// in memory. Sessions do not survive a restart.
type AuthService struct {
	users driven.UserStore
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewAuthService creates an AuthService. A non-positive ttl uses DefaultSessionTTL.
func NewAuthService(users driven.UserStore, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthService{
		users:    users,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// EnsureAdmin creates the user email with password unless it already exists.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = s.users.Add(ctx, model.User{Name: "Admin", Email: email, PasswordHash: string(hash)})
	if err != nil && !errors.Is(err, driven.ErrUserAlreadyExists) {
		return fmt.Errorf("add admin: %w", err)
	}
	slog.Info("admin user seeded", "email", email)
	return nil
}

// Register adds a user to the local user list. A duplicate email returns
// driven.ErrUserAlreadyExists.
func (s *AuthService) Register(ctx context.Context, in UserInput) (model.User, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateInput(in); err != nil {
		return model.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Add(ctx, model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return model.User{}, fmt.Errorf("register %s: %w", in.Email, err)
	}
	slog.Info("user registered", "email", user.Email)
	return user, nil
}

// Login checks the credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if user == nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	sess := Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	slog.Info("user logged in", "email", user.Email)
	return sess, nil
}

// Authenticate returns the session for token if it exists and has not expired.
func (s *AuthService) Authenticate(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, false
	}
	return sess, true
}

// Logout ends the session for token.
func (s *AuthService) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
