package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/imagisync/internal/metrics"
	"github.com/hitoshi/imagisync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 署名検証
	ClerkVerifier  ClerkVerifierInterface
	StripeVerifier StripeVerifierInterface

	// イベント処理サービス
	ClerkService  ClerkSyncServiceInterface
	StripeService StripeSyncServiceInterface

	// ヘルスチェック
	Pinger Pinger

	// メトリクス
	Collector metrics.MetricsCollector

	// リクエストボディの上限（バイト）
	BodyLimit int64
}

// NewRouter はWebhook受信エンドポイントとヘルスチェックのルーティングを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	clerkHandler := NewClerkWebhookHandler(deps.ClerkVerifier, deps.ClerkService, deps.Collector, deps.Logger, deps.BodyLimit)
	stripeHandler := NewStripeWebhookHandler(deps.StripeVerifier, deps.StripeService, deps.Collector, deps.Logger, deps.BodyLimit)
	healthHandler := NewHealthHandler(deps.Pinger)

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/clerk", clerkHandler.HandleWebhook)
		r.Post("/stripe", stripeHandler.HandleWebhook)
	})

	r.Get("/healthz", healthHandler.HandleHealthz)

	return r
}
