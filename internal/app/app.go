package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/classwatch/internal/config"
	"github.com/hitoshi/classwatch/internal/database"
	"github.com/hitoshi/classwatch/internal/handler"
	"github.com/hitoshi/classwatch/internal/logger"
	"github.com/hitoshi/classwatch/internal/metrics"
	"github.com/hitoshi/classwatch/internal/notify"
	"github.com/hitoshi/classwatch/internal/repository"
	"github.com/hitoshi/classwatch/internal/security"
	"github.com/hitoshi/classwatch/internal/session"
	"github.com/hitoshi/classwatch/internal/worker/check"
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
		slog.String("platform_base_url", cfg.PlatformBaseURL),
	)

	switch cmd {
	case CommandCheck:
		return runCheck(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runWorker(cfg)
	}
}

// buildScheduler は定期チェックの依存関係をワイヤリングする。
func buildScheduler(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *check.Scheduler {
	// 1. リポジトリの初期化
	identityRepo := repository.NewPostgresIdentityRepo(db)
	recordRepo := repository.NewPostgresRecordRepo(db)

	// 2. セキュリティサービスとメトリクスの初期化
	guard := security.NewDetailGuard(cfg.PlatformBaseURL)
	collector := metrics.NewCollector(reg)

	// 3. 配送先の初期化
	sink := notify.NewWebhookSink(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		cfg.WebhookURL,
	)

	// 4. セッションファクトリ
	// セッションはCookie状態を持つためチェックごとに新規生成する
	newSession := func() check.PlatformSession {
		return session.New(session.Config{
			IdPLoginURL:     cfg.IdPLoginURL,
			PlatformBaseURL: cfg.PlatformBaseURL,
			Timeout:         cfg.FetchTimeout,
			SettleDelay:     cfg.SettleDelay,
		}, guard, slog.Default())
	}

	// 5. チェッカーとスケジューラの初期化
	checker := check.NewChecker(
		identityRepo, recordRepo, sink, collector,
		newSession, cfg.VaultKey, slog.Default(),
	)

	return check.NewScheduler(identityRepo, checker, slog.Default(), cfg.IdentityDelay)
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、チェックスケジューラと運用用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	registry := prometheus.NewRegistry()
	scheduler := buildScheduler(cfg, db, registry)

	// 3. 運用用HTTPサーバー（/health, /metrics）
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: db,
		Gatherer:      registry,
	})
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("check_interval", cfg.CheckInterval),
		slog.Duration("identity_delay", cfg.IdentityDelay),
	)

	// チェックスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.CheckInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runCheck は全identityのチェックを1回だけ実行して終了する。
// 動作確認や手動リカバリ用のサブコマンド。
func runCheck(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	scheduler := buildScheduler(cfg, db, registry)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return scheduler.RunOnce(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
