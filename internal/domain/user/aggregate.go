package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrInvalidName        = errors.New("name is required")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User represents a staff account of the point of sale
type User struct {
	ID        string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Service handles user domain operations
type Service struct {
	users store.UserStoreInterface
	now   func() time.Time
	log   *slog.Logger
}

// NewService creates a new user service
func NewService(users store.UserStoreInterface) *Service {
	return &Service{users: users, now: time.Now, log: logging.New("user")}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Create registers a user with the given role. The role is validated here
// so only USER and ADMIN ever reach the store.
func (s *Service) Create(ctx context.Context, email, password, name, role string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &store.UserRecord{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Role:         string(r),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	s.log.Info("user created", "user_id", rec.ID, "role", r)
	return fromRecord(rec), nil
}

// EnsureAdmin creates an ADMIN account for email unless one is already
// registered. It lets a fresh installation be logged into.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.users.GetByEmail(ctx, normalized); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = s.Create(ctx, normalized, password, name, string(auth.RoleAdmin))
	if errors.Is(err, ErrEmailTaken) {
		return nil
	}
	return err
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	recs, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]User, len(recs))
	for i := range recs {
		out[i] = *fromRecord(&recs[i])
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.log.Info("user deleted", "user_id", userID)
	return nil
}

// Resolve implements auth.IdentityResolver.
func (s *Service) Resolve(ctx context.Context, identifier string) (*auth.Principal, error) {
	email, err := normalizeEmail(identifier)
	if err != nil {
		return nil, auth.ErrUnknownIdentity
	}
	rec, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.ErrUnknownIdentity
		}
		return nil, err
	}
	role, err := auth.ParseRole(rec.Role)
	if err != nil {
		// A row with a role outside the enum carries no capabilities.
		s.log.Error("stored user has invalid role", "user_id", rec.ID, "role", rec.Role)
		return nil, auth.ErrUnknownIdentity
	}
	return &auth.Principal{
		Identifier:     rec.Email,
		CredentialHash: rec.PasswordHash,
		Role:           role,
	}, nil
}

// Authenticate checks a login attempt. Unknown email and wrong password
// both yield ErrInvalidCredentials after the same bcrypt work. Failed
// attempts are not counted; there is no account lockout.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*auth.Principal, error) {
	p, err := s.Resolve(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownIdentity) {
			auth.BurnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(password, p.CredentialHash) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func fromRecord(r *store.UserRecord) *User {
	return &User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Role:      auth.Role(r.Role),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

var _ auth.IdentityResolver = (*Service)(nil)
