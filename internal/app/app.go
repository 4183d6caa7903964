// Package app はアプリケーションの初期化と起動を行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/imagisync/internal/clerk"
	"github.com/hitoshi/imagisync/internal/clerksync"
	"github.com/hitoshi/imagisync/internal/config"
	"github.com/hitoshi/imagisync/internal/database"
	"github.com/hitoshi/imagisync/internal/handler"
	"github.com/hitoshi/imagisync/internal/logger"
	"github.com/hitoshi/imagisync/internal/metrics"
	"github.com/hitoshi/imagisync/internal/repository"
	"github.com/hitoshi/imagisync/internal/stripesync"
	"github.com/hitoshi/imagisync/internal/verifier"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database", cfg.MongoDatabase),
	)

	return runServe(cfg)
}

// runServe はWebhook受信サーバーモードで起動する。
// 接続キャッシュと全依存関係をワイヤリングし、HTTPサーバーを起動する。
// データストアへの接続は起動時には張らず、最初のWebhook受信時に
// 確立される。SIGINTまたはSIGTERMシグナルを受信するとグレースフル
// シャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 接続キャッシュの初期化（遅延接続）
	cache := database.NewCache(cfg.MongoURL, cfg.MongoDatabase)

	// 2. リポジトリの初期化
	userRepo := repository.NewMongoUserRepo(cache, cfg.MongoDatabase)
	txnRepo := repository.NewMongoTransactionRepo(cache, cfg.MongoDatabase)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 外部クライアントとドメインサービスの初期化
	clerkClient := clerk.NewClient(
		&http.Client{Timeout: cfg.ClerkAPITimeout},
		cfg.ClerkSecretKey,
		slog.Default(),
	)
	clerkService := clerksync.NewService(userRepo, clerkClient, slog.Default())
	stripeService := stripesync.NewService(txnRepo, userRepo, slog.Default())

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		ClerkVerifier:  verifier.NewClerkVerifier(cfg.ClerkWebhookSecret),
		StripeVerifier: verifier.NewStripeVerifier(cfg.StripeWebhookSecret),
		ClerkService:   clerkService,
		StripeService:  stripeService,
		Pinger:         cache,
		Collector:      collector,
		BodyLimit:      cfg.WebhookBodyLimit,
	}
	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// メトリクスサーバーは別ポートで公開する
	metricsServer := &http.Server{
		Addr:        ":" + cfg.MetricsPort,
		Handler:     metrics.SetupMetricsRoute(registry),
		ReadTimeout: 15 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("webhook server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		slog.Info("metrics server starting",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down webhook server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	// 確立済みのデータストア接続を閉じる
	if err := cache.Close(ctx); err != nil {
		slog.Warn("failed to close datastore connection", slog.String("error", err.Error()))
	}

	slog.Info("webhook server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
