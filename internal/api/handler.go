package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-issue-mirror/internal/auth"
	apperrors "github-issue-mirror/internal/errors"
	"github-issue-mirror/internal/retry"
)

// sessionHeader carries the opaque session token on authenticated routes.
const sessionHeader = "X-Session-Token"

// Handler is the container for API dependencies.
type Handler struct {
	auth   *auth.Authenticator
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(authenticator *auth.Authenticator, logger *slog.Logger) http.Handler {
	h := &Handler{
		auth:   authenticator,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/device", h.deviceCode)
		r.Post("/poll", h.poll)
		r.Post("/installation-token", h.installationToken(false))
		r.Post("/refresh-installation-token", h.installationToken(true))
		r.Post("/installations", h.installations)
		r.Post("/logout", h.logout)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deviceCode starts the device flow.
// POST /auth/device
func (h *Handler) deviceCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.auth.Initiate(r.Context())
	if err != nil {
		h.respondWithAuthError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, code)
}

// poll performs one device-flow poll attempt.
// POST /auth/poll {device_code}
func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceCode string `json:"device_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceCode == "" {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "device_code is required", false)
		return
	}

	result, err := h.auth.Poll(r.Context(), body.DeviceCode)
	if err != nil {
		h.respondWithAuthError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// installationToken exchanges an installation id for a short-lived access
// token. The refresh variant bypasses the token cache.
// POST /auth/installation-token {installation_id}, header X-Session-Token
// POST /auth/refresh-installation-token {installation_id}, header X-Session-Token
func (h *Handler) installationToken(force bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionToken := r.Header.Get(sessionHeader)
		if sessionToken == "" {
			respondWithError(w, http.StatusUnauthorized, "missing_session", "X-Session-Token header is required", false)
			return
		}

		var body struct {
			InstallationID int64 `json:"installation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InstallationID == 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_request", "installation_id is required", false)
			return
		}

		exchange := h.auth.InstallationToken
		if force {
			exchange = h.auth.RefreshInstallationToken
		}
		tok, err := exchange(r.Context(), sessionToken, body.InstallationID)
		if err != nil {
			h.respondWithAuthError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{
			"token":      tok.Token,
			"expires_at": tok.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// installations re-fetches and returns the session's installation list.
// POST /auth/installations, header X-Session-Token
func (h *Handler) installations(w http.ResponseWriter, r *http.Request) {
	sessionToken := r.Header.Get(sessionHeader)
	if sessionToken == "" {
		respondWithError(w, http.StatusUnauthorized, "missing_session", "X-Session-Token header is required", false)
		return
	}

	installations, err := h.auth.RefreshInstallations(r.Context(), sessionToken)
	if err != nil {
		h.respondWithAuthError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"installations": installations})
}

// logout deletes the session.
// POST /auth/logout, header X-Session-Token
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sessionToken := r.Header.Get(sessionHeader)
	if sessionToken == "" {
		respondWithError(w, http.StatusUnauthorized, "missing_session", "X-Session-Token header is required", false)
		return
	}

	if err := h.auth.Logout(r.Context(), sessionToken); err != nil {
		h.respondWithAuthError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deviceFlowStatus maps GitHub's device-flow error codes to the distinct
// statuses this surface exposes.
var deviceFlowStatus = map[string]int{
	"authorization_pending": http.StatusAccepted,
	"slow_down":             http.StatusTooManyRequests,
	"expired_token":         http.StatusGone,
	"access_denied":         http.StatusForbidden,
}

// respondWithAuthError translates authenticator failures into the error
// contract: {error, message, retryable} with a mapped status.
func (h *Handler) respondWithAuthError(w http.ResponseWriter, err error) {
	var dfe *apperrors.DeviceFlowError
	if errors.As(err, &dfe) {
		status, ok := deviceFlowStatus[dfe.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		respondWithError(w, status, dfe.Code, dfe.Error(), !dfe.Terminal())
		return
	}

	var rle *apperrors.RateLimitedError
	if errors.As(err, &rle) {
		seconds := int(time.Until(rle.ResetAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rle.ResetAt.Unix(), 10))
		respondWithError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", true)
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrInvalidSessionToken), errors.Is(err, apperrors.ErrSessionNotFound):
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "missing, invalid or expired session", false)
	case errors.Is(err, apperrors.ErrInstallationNotOwned):
		respondWithError(w, http.StatusForbidden, "forbidden", "installation not owned by session", false)
	default:
		h.logger.Error("Upstream request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "upstream_error", "upstream request failed", retry.Retryable(err))
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	respondWithJSON(w, status, map[string]any{
		"error":     code,
		"message":   message,
		"retryable": retryable,
	})
}
