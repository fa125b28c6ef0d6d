package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/model"
	"github.com/mathomhouse/mathom/internal/store"
)

// AuthMetrics records sign-in outcomes. *metrics.Metrics satisfies it.
type AuthMetrics interface {
	IncAuthSuccess(method string)
	IncAuthFailure(reason string)
}

type AuthHandler struct {
	users    *store.UserStore
	sessions *store.SessionStore
	issuer   *auth.TokenIssuer
	logger   *slog.Logger
	metrics  AuthMetrics
}

// NewAuthHandler creates an AuthHandler. metrics may be nil.
func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, issuer *auth.TokenIssuer, logger *slog.Logger, m AuthMetrics) *AuthHandler {
	return &AuthHandler{
		users:    us,
		sessions: ss,
		issuer:   issuer,
		logger:   logger,
		metrics:  m,
	}
}

func (h *AuthHandler) authSuccess(method string) {
	if h.metrics != nil {
		h.metrics.IncAuthSuccess(method)
	}
}

func (h *AuthHandler) authFailure(reason string) {
	if h.metrics != nil {
		h.metrics.IncAuthFailure(reason)
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is the payload for register and login: a bearer token plus
// the profile it belongs to.
type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Register creates a new identity and its profile document in one
// privileged step, then signs the new user in. This is the trusted
// identity-creation path; the profile-create policy rule guards direct
// document writes, not this endpoint.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "email and password are required")
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeInternal(w)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, CodeEmailExists, "an account with this email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, err.Error())
		return
	}

	user, err := h.users.Create(req.Email, req.DisplayName, hash)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeInternal(w)
		return
	}

	resp, err := h.signIn(user)
	if err != nil {
		h.logger.Error("sign in after register", "error", err)
		writeInternal(w)
		return
	}

	h.authSuccess("register")
	writeSuccess(w, http.StatusCreated, resp)
}

// Login verifies credentials and issues a fresh bearer token. Unknown
// email and wrong password produce the identical error so the endpoint
// cannot be used to probe which addresses have accounts.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeMissingFields, "email and password are required")
		return
	}

	creds, err := h.users.GetCredentials(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeInternal(w)
		return
	}
	if creds == nil || !auth.CheckPassword(creds.PasswordHash, req.Password) {
		h.authFailure("bad_credentials")
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
		return
	}

	user, err := h.users.GetByUID(creds.UID)
	if err != nil || user == nil {
		h.logger.Error("login load user", "uid", creds.UID, "error", err)
		writeInternal(w)
		return
	}

	resp, err := h.signIn(user)
	if err != nil {
		h.logger.Error("sign in", "error", err)
		writeInternal(w)
		return
	}

	h.authSuccess("password")
	writeSuccess(w, http.StatusOK, resp)
}

// signIn creates a revocable session row, mints a token bound to it, and
// stamps last_login.
func (h *AuthHandler) signIn(user *model.User) (*authResponse, error) {
	sess, err := h.sessions.Create(user.UID, auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	token, err := h.issuer.Mint(user.UID, user.Email, sess.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := h.users.TouchLastLogin(user.UID); err != nil {
		return nil, err
	}
	user, err = h.users.GetByUID(user.UID)
	if err != nil {
		return nil, err
	}
	return &authResponse{Token: token, User: user}, nil
}

// Logout revokes the session behind the presented token. The JWT itself
// stays syntactically valid until expiry but no longer passes the
// session check.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not signed in")
		return
	}
	if err := h.sessions.Delete(ac.SessionID); err != nil {
		h.logger.Error("delete session", "error", err)
		writeInternal(w)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}
