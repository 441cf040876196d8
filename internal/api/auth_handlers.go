package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/pos-billing/internal/api/middleware"
	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/domain/user"
	"github.com/example/pos-billing/internal/logging"
)

// LoginFailedMessage is the only answer a failed login ever gets.
const LoginFailedMessage = "Email or password is incorrect"

type UserService interface {
	Authenticate(ctx context.Context, email, password string) (*auth.Principal, error)
	Create(ctx context.Context, email, password, name, role string) (*user.User, error)
	List(ctx context.Context) ([]user.User, error)
	Delete(ctx context.Context, userID string) error
}

type TokenIssuer interface {
	Issue(subject string) (auth.Token, error)
}

// AuthHandlers handles login and staff account management
type AuthHandlers struct {
	users  UserService
	tokens TokenIssuer
}

func NewAuthHandlers(users UserService, tokens TokenIssuer) *AuthHandlers {
	return &AuthHandlers{users: users, tokens: tokens}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Email string    `json:"email"`
	Token string    `json:"token"`
	Role  auth.Role `json:"role"`
}

// RegisterRequest represents the body of POST /admin/register
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Login exchanges credentials for a bearer token. Failed attempts are
// throttled by the router but never lock the account.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	p, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			logging.FromCtx(r.Context()).Warn("login failed")
			respondJSONError(w, LoginFailedMessage, http.StatusBadRequest)
			return
		}
		respondError(w, r, err)
		return
	}

	token, err := h.tokens.Issue(p.Identifier)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Email: p.Identifier,
		Token: token.Value,
		Role:  p.Role,
	})
}

// Encode returns the bcrypt hash of a password. Development utility.
func (h *AuthHandlers) Encode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"encodedPassword": hash})
}

// Me returns the principal the bearer token resolved to.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"email": p.Identifier, "role": p.Role.String()})
}

// Admin Handlers

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = string(auth.RoleUser)
	}

	created, err := h.users.Create(r.Context(), req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *AuthHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *AuthHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
