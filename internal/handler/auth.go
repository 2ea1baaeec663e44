package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/service"
)

type userContextKey struct{}

// userFromContext returns the user attached by RequireUser.
func userFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userContextKey{}).(*domain.User)
	return u
}

// AuthHandler handles HTTP requests for signup, login and the current user.
type AuthHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authSvc: authSvc,
		logger:  logger,
	}
}

// signupRequest is the JSON request body for POST /signup.
type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// loginRequest is the JSON request body for POST /login. Form logins use
// the username and password fields instead.
type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// userResponse is the JSON representation of a user.
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// tokenResponse is the JSON response for POST /login.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

// Signup handles POST /signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	u, err := h.authSvc.Signup(r.Context(), service.SignupRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.mapAuthError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

// Login handles POST /login. It accepts an OAuth2 password form
// (username, password) or a JSON body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var email, password string

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var req loginRequest
		if err := ParseJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		email, password = req.Email, req.Password
		if email == "" {
			email = req.Username
		}
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"),
		strings.HasPrefix(ct, "multipart/form-data"):
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			WriteError(w, http.StatusBadRequest, "invalid_request", "Request body must be a valid form")
			return
		}
		email, password = r.PostFormValue("username"), r.PostFormValue("password")
	default:
		WriteError(w, http.StatusBadRequest, "invalid_request",
			"Content-Type must be application/x-www-form-urlencoded or application/json")
		return
	}

	if email == "" || password == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "username and password are required")
		return
	}

	token, err := h.authSvc.Authenticate(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			WriteUnauthorized(w, "Incorrect email or password")
			return
		}
		h.mapAuthError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// Me handles GET /users/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, toUserResponse(userFromContext(r.Context())))
}

// DeleteMe handles DELETE /users/me. The user's holdings and trades are
// removed with it.
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	if err := h.authSvc.DeleteAccount(r.Context(), u.ID); err != nil {
		h.mapAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequireUser is middleware that resolves the bearer token to a user and
// stores it in the request context.
func (h *AuthHandler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			WriteUnauthorized(w, "Not authenticated")
			return
		}

		u, err := h.authSvc.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				WriteUnauthorized(w, "Could not validate credentials")
				return
			}
			writeInternalError(w, h.logger, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, u)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *AuthHandler) mapAuthError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrEmailAlreadyRegistered):
		WriteError(w, http.StatusBadRequest, "email_already_registered", "Email already registered")
	case errors.Is(err, domain.ErrPasswordMismatch):
		WriteError(w, http.StatusBadRequest, "password_mismatch", "Passwords do not match")
	case errors.Is(err, domain.ErrUnauthorized):
		WriteUnauthorized(w, "Could not validate credentials")
	case errors.Is(err, domain.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, "user_not_found", "User not found")
	default:
		writeInternalError(w, h.logger, err)
	}
}
