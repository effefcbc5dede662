package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/notemodules/internal/metrics"
	"github.com/hitoshi/notemodules/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Tokens            middleware.SessionTokens
	Session           middleware.SessionConfig
	CSRFEnabled       bool
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	AuthService   AuthServiceInterface
	ModuleService ModuleServiceInterface
	Health        Pinger

	// /metrics で公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler

	// アップロード
	UploadDir       string
	UploadURLPrefix string
	UploadMaxBytes  int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → Metrics → SecurityHeaders → CORS
//	  認証ルート: + RateLimit(Auth)
//	  保護ルート: + Session → RateLimit(General) → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Session.CookieSecure,
		CookieDomain: deps.Session.CookieDomain,
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Session, collector)
	moduleHandler := NewModuleHandler(deps.ModuleService)
	noteHandler := NewNoteHandler(deps.ModuleService, deps.UploadMaxBytes)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	if deps.UploadDir != "" {
		prefix := strings.TrimSuffix(deps.UploadURLPrefix, "/")
		if prefix == "" {
			prefix = "/uploads"
		}
		r.With(middleware.NewUploadSandboxMiddleware()).
			Method(http.MethodGet, prefix+"/*", http.StripPrefix(prefix, newUploadFileServer(deps.UploadDir)))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})
		r.Post("/logout", authHandler.Logout)

		r.With(middleware.NewSessionMiddleware(deps.Tokens, deps.Session)).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Tokens, deps.Session))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		if deps.CSRFEnabled {
			r.Use(middleware.NewCSRFMiddleware(csrfConfig))
		}

		r.Route("/api/modules", func(r chi.Router) {
			r.Get("/", moduleHandler.ListModules)
			r.Post("/", moduleHandler.CreateModule)
			r.Put("/", moduleHandler.UpdateModule)
			r.Delete("/", moduleHandler.DeleteModule)

			r.Get("/{id}", moduleHandler.GetModule)
			r.Get("/{id}/notes/{noteId}/html", moduleHandler.RenderNote)
		})

		r.Post("/api/notes", noteHandler.AddNote)
		r.Delete("/api/notes", noteHandler.RemoveNote)
		r.Post("/api/uploads", noteHandler.Upload)
	})

	return r
}

// newUploadFileServer はアップロードディレクトリを読み取り専用で配信する。
// ディレクトリ一覧は返さない。
func newUploadFileServer(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
