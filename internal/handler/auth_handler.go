package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/service"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/util"
)

// AuthHandler exposes the login, verification and session endpoints.
type AuthHandler struct {
	authService *service.AuthService
	signer      service.TokenSigner
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, signer service.TokenSigner, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		signer:      signer,
		logger:      logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.RequestLogin)
		r.Post("/verify", h.VerifyLogin)

		r.Group(func(r chi.Router) {
			r.Post("/logout", h.Logout)
			r.Get("/session", h.CurrentSession)
			r.Post("/sessions/revoke", h.RevokeSessions)
		})
	})
}

type loginRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) RequestLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("email is required"), "Invalid request")
		return
	}

	result, err := h.authService.RequestLogin(r.Context(), util.SanitizeInput(req.Email), requestContextFromHTTP(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to request login")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(nil, result.Message))
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	if req.Token == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("token is required"), "Invalid request")
		return
	}

	result, err := h.authService.VerifyLogin(r.Context(), req.Token, requestContextFromHTTP(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to verify login")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Login verified"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.verifyBearer(w, r)
	if !ok {
		return
	}

	if err := h.authService.Logout(r.Context(), claims.SessionID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to log out")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing bearer token"), "Unauthorized")
		return
	}

	reqCtx := requestContextFromHTTP(r)
	user, err := h.authService.ValidateToken(r.Context(), raw, &reqCtx)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Invalid session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(user, "Session is valid"))
}

// RevokeSessions logs the user out everywhere except the calling session.
func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.verifyBearer(w, r)
	if !ok {
		return
	}

	if err := h.authService.RevokeAllSessions(r.Context(), claims.UserID, claims.SessionID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Other sessions revoked"))
}

func (h *AuthHandler) verifyBearer(w http.ResponseWriter, r *http.Request) (claims tokenClaims, ok bool) {
	raw, found := bearerToken(r)
	if !found {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing bearer token"), "Unauthorized")
		return claims, false
	}

	verified, err := h.signer.Verify(raw)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Unauthorized")
		return claims, false
	}
	return tokenClaims{UserID: verified.UserID, SessionID: verified.SessionID}, true
}

type tokenClaims struct {
	UserID    string
	SessionID string
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func requestContextFromHTTP(r *http.Request) service.RequestContext {
	language := r.Header.Get("Accept-Language")
	if idx := strings.IndexAny(language, ",;"); idx >= 0 {
		language = language[:idx]
	}

	// RealIP middleware rewrites RemoteAddr to the client IP; direct
	// connections still carry a port.
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return service.RequestContext{
		IPAddress:        ip,
		UserAgent:        r.UserAgent(),
		Language:         strings.TrimSpace(language),
		Timezone:         r.Header.Get("X-Timezone"),
		ScreenResolution: r.Header.Get("X-Screen-Resolution"),
	}
}

func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	h.respondWithJSON(w, status, errorResponse(err, message))
}
