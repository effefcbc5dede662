// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/notemodules/internal/auth"
	"github.com/hitoshi/notemodules/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionTokens はセッショントークンの検証と再発行に必要なインターフェース。
// auth.TokenManagerが満たす。
type SessionTokens interface {
	Verify(token string) (*auth.SessionClaims, error)
	Issue(userID string) (string, time.Time, error)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	CookieSecure bool
	CookieDomain string
	// RefreshAfter を過ぎたCookieのトークンは再発行する。0の場合は再発行しない。
	RefreshAfter time.Duration
}

// NewSessionMiddleware はCookieまたはAuthorization: Bearerヘッダーからトークンを読み取り、
// 検証済みのユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を返す。
// Cookieのトークンが発行からRefreshAfter以上経過していれば、新しいトークンでCookieを更新する。
func NewSessionMiddleware(tokens SessionTokens, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := tokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				slog.Debug("session token rejected", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if fromCookie && config.RefreshAfter > 0 && time.Since(claims.IssuedAt) >= config.RefreshAfter {
				refreshed, expiresAt, err := tokens.Issue(claims.UserID)
				if err != nil {
					slog.Error("failed to refresh session token",
						slog.String("user_id", claims.UserID),
						slog.String("error", err.Error()),
					)
				} else {
					SetSessionCookie(w, refreshed, expiresAt, config)
				}
			}

			if info := requestInfoFromContext(r.Context()); info != nil {
				info.userID = claims.UserID
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.UserID)))
		})
	}
}

// tokenFromRequest はCookieを優先してトークンを取り出す。2番目の戻り値はCookie由来かどうか。
func tokenFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:]), false
	}
	return "", false
}

// SetSessionCookie はセッショントークンをHttpOnly Cookieに設定する。
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, config SessionConfig) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
