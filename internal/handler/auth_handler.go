// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/notemodules/internal/auth"
	"github.com/hitoshi/notemodules/internal/metrics"
	"github.com/hitoshi/notemodules/internal/middleware"
	"github.com/hitoshi/notemodules/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Authenticate(ctx context.Context, username, password string) (auth.AuthResult, error)
	CurrentUser(ctx context.Context, userID string) (*model.Identity, error)
	IssueToken(userID string) (string, time.Time, error)
}

// AuthHandler はユーザー登録とログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	session middleware.SessionConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, session middleware.SessionConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service: service,
		session: session,
		metrics: collector,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// identityResponse はログインユーザー情報のAPIレスポンス。
type identityResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type loginResponse struct {
	Success   bool             `json:"success"`
	User      identityResponse `json:"user"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// Register はユーザー登録を処理する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		h.metrics.RecordAuthEvent("register_failed")
		handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordAuthEvent("register")
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "ユーザー登録が完了しました",
	})
}

// Login はユーザー名とパスワードで認証し、セッションCookieを設定する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("ユーザー名とパスワードは必須です"))
		return
	}

	result, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	switch result.Status {
	case auth.AuthOK:
	case auth.AuthUserNotFound:
		h.metrics.RecordAuthEvent("login_" + result.Status.String())
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	default:
		h.metrics.RecordAuthEvent("login_" + result.Status.String())
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	}

	token, expiresAt, err := h.service.IssueToken(result.Identity.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, token, expiresAt, h.session)
	h.metrics.RecordAuthEvent("login_ok")
	slog.Info("user logged in", slog.String("user_id", result.Identity.ID))

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		User:      toIdentityResponse(result.Identity),
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Logout はセッションCookieを削除する。
// トークンはステートレスなためサーバー側で破棄するものはない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, h.session)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ident, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(ident))
}

func toIdentityResponse(ident *model.Identity) identityResponse {
	return identityResponse{
		ID:    ident.ID,
		Name:  ident.Name,
		Email: ident.Email,
	}
}
