package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"aegis/storage"
)

// jwtAuthMiddleware authenticates requests with a bearer token or the
// auth_token cookie and injects the caller identity into the context.
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			// Single-operator deployments run without auth; everything is
			// scoped to the configured organization.
			ctx := WithUsername(r.Context(), "anonymous")
			ctx = WithOrganizationID(ctx, a.config.Auth.OrganizationID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		var tokenString string
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			cookie, err := r.Cookie("auth_token")
			if err != nil {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			tokenString = cookie.Value
		}

		claims, err := a.validateJWT(tokenString)
		if err != nil {
			a.logger.Warnw("Rejected token", "error", sanitizeLogMessage(err.Error()), "ip", getClientIP(r))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := WithUsername(r.Context(), claims.Username)
		ctx = WithOrganizationID(ctx, claims.OrganizationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// dummyPasswordHash equalizes login timing for unknown usernames.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("aegis-dummy-password"), bcrypt.DefaultCost)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Username  string    `json:"username"`
}

// handleLogin authenticates a user and issues a JWT.
//
//	@Summary		Log in
//	@Description	Authenticates with username/password (and TOTP when enrolled), returning a JWT.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		loginRequest	true	"Credentials"
//	@Success		200			{object}	loginResponse
//	@Failure		401			{string}	string	"invalid credentials"
//	@Failure		423			{string}	string	"account locked"
//	@Router			/api/auth/login [post]
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBodyWithLimit(w, r, &req, a.config.Security.LoginBodyLimit); err != nil {
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		a.writeError(w, r, "username and password are required", http.StatusBadRequest)
		return
	}

	user, err := a.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Burn a bcrypt comparison so unknown users cost the same as
			// known users with wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(req.Password))
			a.failLogin(w, r, req.Username)
			return
		}
		a.writeError(w, r, "authentication unavailable", http.StatusInternalServerError)
		return
	}

	if !user.Active {
		a.failLogin(w, r, req.Username)
		return
	}
	if user.IsLocked(time.Now()) {
		a.logger.Warnw("Login attempt on locked account", "username", sanitizeLogMessage(req.Username), "ip", getClientIP(r))
		http.Error(w, "Account locked", http.StatusLocked)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		a.recordFailedLogin(r, req.Username)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user.MFAEnabled {
		if req.TOTPCode == "" || !totp.Validate(req.TOTPCode, user.TOTPSecret) {
			a.recordFailedLogin(r, req.Username)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
	}

	if err := a.users.ResetFailedLogins(r.Context(), user.Username); err != nil {
		a.logger.Warnw("Failed to reset login counter", "username", user.Username, "error", err)
	}

	token, err := a.generateJWT(user.Username, user.OrganizationID)
	if err != nil {
		a.writeError(w, r, "failed to issue token", http.StatusInternalServerError)
		return
	}

	expiresAt := time.Now().Add(a.config.Auth.JWTExpiry)
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.config.API.TLS,
		SameSite: http.SameSiteStrictMode,
	})
	a.writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  user.Username,
	})
}

// failLogin responds for authentication failures where no account state can
// be updated (unknown or inactive user).
func (a *API) failLogin(w http.ResponseWriter, r *http.Request, username string) {
	a.logger.Warnw("Failed login", "username", sanitizeLogMessage(username), "ip", getClientIP(r))
	http.Error(w, "Invalid credentials", http.StatusUnauthorized)
}

// recordFailedLogin bumps the account's failure counter, locking it once the
// configured threshold is reached.
func (a *API) recordFailedLogin(r *http.Request, username string) {
	locked, err := a.users.RecordFailedLogin(r.Context(), username,
		a.config.Auth.LockoutThreshold, a.config.Auth.LockoutDuration)
	if err != nil {
		a.logger.Warnw("Failed to record login failure", "username", sanitizeLogMessage(username), "error", err)
		return
	}
	if locked {
		a.logger.Warnw("Account locked after repeated failures",
			"username", sanitizeLogMessage(username), "ip", getClientIP(r))
	}
}
