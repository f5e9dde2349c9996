package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"

	"github.com/authgate/authgate/internal/httputil"
	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/user"
)

// Handler contains the HTTP handlers for the authentication endpoints
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRequest is the registration request body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyTokenRequest carries an email verification code
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// ResendVerificationRequest asks for a fresh verification email
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// TokenResponse carries a session token
type TokenResponse struct {
	Token string `json:"token"`
}

// SessionResponse is a session token together with the (sanitized) user
type SessionResponse struct {
	Token string     `json:"token"`
	User  *user.User `json:"user"`
}

// UserResponse wraps a sanitized user
type UserResponse struct {
	User *user.User `json:"user"`
}

// Register creates a new account and returns a session token for it
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if code, msg := validateRegisterRequest(req); code != "" {
		logger.Warn("registration failed: validation error", "reason", msg)
		httputil.RespondErrorWithCode(w, msg, code, http.StatusBadRequest)
		return
	}

	token, newUser, err := h.service.Register(r.Context(), req.Email, req.Password, r.Header.Get("Origin"))
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateEmail):
			logger.Warn("registration failed: email already exists")
			httputil.RespondErrorWithCode(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
		case errors.Is(err, ErrEmailRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeEmailRequired, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordRequired):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodePasswordRequired, http.StatusBadRequest)
		case errors.Is(err, user.ErrStoreUnavailable):
			logger.Error("registration failed: store unavailable", "error", err.Error())
			httputil.RespondErrorWithCode(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("registration failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("user registered", "user_id", newUser.ID)

	httputil.RespondJSON(w, SessionResponse{Token: token, User: newUser}, http.StatusCreated)
}

// LoginWithEmail authenticates a user and returns a session token
func (h *Handler) LoginWithEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials", "email", req.Email)
			httputil.RespondErrorWithCode(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
		case errors.Is(err, user.ErrStoreUnavailable):
			logger.Error("login failed: store unavailable", "error", err.Error())
			httputil.RespondErrorWithCode(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("login failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to log in", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, TokenResponse{Token: token}, http.StatusOK)
}

// VerifyToken consumes an email verification code
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req VerifyTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid verify request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		switch {
		case errors.Is(err, ErrCodeNotFound):
			logger.Warn("verification failed: code not found")
			httputil.RespondErrorWithCode(w, "verification code not found", httputil.CodeCodeNotFound, http.StatusNotFound)
		case errors.Is(err, ErrCodeExpired):
			logger.Warn("verification failed: code expired")
			httputil.RespondErrorWithCode(w, "verification code has expired", httputil.CodeCodeExpired, http.StatusBadRequest)
		case errors.Is(err, user.ErrStoreUnavailable):
			logger.Error("verification failed: store unavailable", "error", err.Error())
			httputil.RespondErrorWithCode(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("verification failed: internal error", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, map[string]string{"message": "email verified"}, http.StatusOK)
}

// ValidateToken returns the user behind the bearer token on the request.
// RequireAuth has already verified the token and resolved the user.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	httputil.RespondJSON(w, UserResponse{User: u}, http.StatusOK)
}

// ResendVerificationEmail sends a fresh verification email. The response is
// the same whether or not the address is registered.
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ResendVerificationEmail(r.Context(), req.Email, r.Header.Get("Origin")); err != nil {
		logger.Error("resend verification failed", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to resend verification email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, map[string]string{"message": "if the account exists, a verification email has been sent"}, http.StatusOK)
}

// validateRegisterRequest applies the request schema checks that live in the
// transport layer: format and policy, not business invariants.
func validateRegisterRequest(req RegisterRequest) (code, msg string) {
	if req.Email == "" {
		return httputil.CodeEmailRequired, "email is required"
	}
	if len(req.Email) > 254 {
		return httputil.CodeInvalidEmailFormat, "invalid email format"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return httputil.CodeInvalidEmailFormat, "invalid email format"
	}
	if req.Password == "" {
		return httputil.CodePasswordRequired, "password is required"
	}
	return "", ""
}
