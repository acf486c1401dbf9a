package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/picshub/internal/metrics"
	"github.com/hitoshi/picshub/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 画像
	ImageService ImageServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// メトリクス（nilの場合は収集・公開しない）
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Metrics → SecurityHeaders → CORS
//	→ RequestSize → CSRF → OptionalSession → Logging → RateLimit(General)
//
// Loggingはuser_idを出力するためOptionalSessionの内側に置く。
// ログイン必須のルートにはさらにSessionMiddlewareを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.RequestSize(maxRequestBytes(deps.ImageService)))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
	r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	imageHandler := NewImageHandler(deps.ImageService)
	userHandler := NewUserHandler(deps.UserService)

	requireSession := middleware.NewSessionMiddleware(deps.SessionFinder)
	authAttempt := deps.RateLimiter.AuthAttemptMiddleware()

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証・アカウント ---
	r.Route("/auth", func(r chi.Router) {
		r.With(authAttempt).Post("/register", authHandler.Register)
		r.With(authAttempt).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.With(requireSession).Get("/me", authHandler.Me)

		r.Get("/confirmation/{token}", authHandler.Confirm)
		r.With(authAttempt).Post("/resend", authHandler.Resend)

		r.With(authAttempt).Post("/forgot", authHandler.Forgot)
		r.Get("/reset/{token}", authHandler.CheckReset)
		r.With(authAttempt).Post("/reset/{token}", authHandler.Reset)
	})

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// --- 画像 ---
		// 閲覧はセッション任意、変更はログイン必須
		r.Route("/images", func(r chi.Router) {
			r.Get("/", imageHandler.ListPublic)
			r.With(requireSession).Post("/", imageHandler.Upload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", imageHandler.Get)
				r.Get("/file", imageHandler.Download)
				r.With(requireSession).Put("/", imageHandler.Update)
				r.With(requireSession).Delete("/", imageHandler.Delete)
			})
		})

		// --- ユーザー ---
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireSession)
				r.Get("/me", userHandler.Profile)
				r.Put("/me", userHandler.UpdateProfile)
				r.Get("/me/dashboard", imageHandler.Dashboard)
			})
			r.Get("/{id}/profile", userHandler.PublicProfile)
		})
	})

	return r
}

// maxRequestBytes はリクエストボディ全体の上限を返す。
// アップロード上限にmultipartのヘッダー分を加える。
func maxRequestBytes(images ImageServiceInterface) int64 {
	limit := int64(avatarFormLimit)
	if images != nil && images.MaxSize()+multipartOverhead > limit {
		limit = images.MaxSize() + multipartOverhead
	}
	return limit
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
