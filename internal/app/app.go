package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/picshub/internal/auth"
	"github.com/hitoshi/picshub/internal/config"
	"github.com/hitoshi/picshub/internal/database"
	"github.com/hitoshi/picshub/internal/handler"
	"github.com/hitoshi/picshub/internal/image"
	"github.com/hitoshi/picshub/internal/logger"
	"github.com/hitoshi/picshub/internal/metrics"
	"github.com/hitoshi/picshub/internal/middleware"
	"github.com/hitoshi/picshub/internal/notify"
	"github.com/hitoshi/picshub/internal/password"
	"github.com/hitoshi/picshub/internal/repository"
	"github.com/hitoshi/picshub/internal/security"
	"github.com/hitoshi/picshub/internal/storage"
	"github.com/hitoshi/picshub/internal/token"
	"github.com/hitoshi/picshub/internal/user"
	"github.com/hitoshi/picshub/internal/worker/cleanup"
)

// envFileVar はdotenvファイルのパスを指定する環境変数。
const envFileVar = "PICSHUB_ENV_FILE"

// Init はアプリケーションの初期化を行う。
// dotenvファイルがあれば読み込み、JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. dotenvファイル（任意）。LOG_LEVELも書けるようログの初期化より先に読む
	loaded, envErr := loadEnvFile(os.Getenv(envFileVar))

	// 2. ログの初期化
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if envErr != nil {
		return nil, envErr
	}
	if loaded != "" {
		slog.Info("loaded env file", slog.String("path", loaded))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// loadEnvFile はdotenvファイルを読み込み、読み込んだパスを返す。既に設定済みの環境変数は上書きしない。
// パス未指定時の.envは存在しなくてもよいが、明示指定したファイルは存在が必須。
func loadEnvFile(path string) (string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return "", fmt.Errorf("failed to load env file %s: %w", path, err)
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

	var action MigrateAction
	if cmd == CommandMigrate {
		a, err := ParseMigrateAction(args[1:])
		if err != nil {
			return err
		}
		action = a
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage", cfg.StorageBackend),
		slog.String("notify_transport", cfg.NotifyTransport),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, action)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established",
		slog.Int("max_open_conns", cfg.DBMaxOpenConns),
	)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	imageRepo := repository.NewPostgresImageRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 基盤サービスの初期化
	sanitizer := security.NewContentSanitizer()
	hasher := password.NewBcryptHasher(cfg.BcryptCost)
	issuer := token.NewIssuer(tokenRepo, cfg.TokenTTL)

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	transport, closeTransport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	dispatcher := notify.NewDispatcher(transport, cfg.NotifyQueueSize, collector)
	// サーバー停止後にキューに残ったメールを送り切る
	defer dispatcher.Close()

	// 5. ドメインサービスの初期化
	authService := auth.NewService(auth.Deps{
		Users:     userRepo,
		Sessions:  sessionRepo,
		Hasher:    hasher,
		Tokens:    issuer,
		Notifier:  dispatcher,
		Composer:  notify.NewComposer(cfg.BaseURL, cfg.MailFrom),
		Sanitizer: sanitizer,
		Metrics:   collector,
	}, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	imageService := image.NewService(imageRepo, store, sanitizer, collector, cfg.UploadMaxSize)
	userService := user.NewService(userRepo, imageService, sanitizer)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ImageService: imageService,
		UserService:  userService,

		Metrics:  collector,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully",
		slog.Uint64("dropped_notifications", dispatcher.Dropped()),
	)
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れトークン・セッションのクリーンアップを定期実行し、
// NOTIFY_TRANSPORT=natsの場合はNATSで受けたメール配送要求をSMTPへ中継する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 2. メール中継
	if cfg.NotifyTransport == config.TransportNATS {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("picshub-worker"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Drain()

		relay := notify.NewRelay(relayTransport(cfg))
		if _, err := relay.Subscribe(nc, cfg.NATSMailSubject); err != nil {
			return err
		}
		slog.Info("mail relay subscribed", slog.String("subject", cfg.NATSMailSubject))
	}

	// 3. クリーンアップジョブ（メインgoroutineでブロッキング）
	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)
	cleanup.NewCleanupJob(db, slog.Default()).Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はマイグレーション操作を実行する。
// upは未適用のマイグレーションをすべて適用し、downは最後の1つを取り消し、versionは適用済みの版を表示する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		v   database.SchemaVersion
		err error
	)
	switch action {
	case MigrateDown:
		v, err = database.RollbackMigration(cfg.DatabaseURL)
	case MigrateVersion:
		v, err = database.CurrentVersion(cfg.DatabaseURL)
	default:
		v, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", action, err)
	}

	slog.Info("database migrations completed successfully",
		slog.String("action", string(action)),
		slog.Uint64("schema_version", uint64(v.Version)),
		slog.Bool("dirty", v.Dirty),
	)
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

// poolConfig はDB_*設定からコネクションプール設定を組み立てる。
func poolConfig(cfg *config.Config) database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// newStorage はSTORAGE_BACKENDに応じた画像ストレージを生成する。
func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			KeyPrefix:       cfg.S3KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return s, nil
	}
}

// newTransport はNOTIFY_TRANSPORTに応じたメール配送手段を生成する。
// 返すclose関数はサーバー停止時に呼び出す。
func newTransport(cfg *config.Config) (notify.Transport, func(), error) {
	noop := func() {}

	switch cfg.NotifyTransport {
	case config.TransportSMTP:
		t, err := notify.NewSMTPTransport(smtpConfig(cfg))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize smtp transport: %w", err)
		}
		return t, noop, nil
	case config.TransportNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("picshub-api"))
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to nats: %w", err)
		}
		closeFn := func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("failed to drain nats connection", slog.String("error", err.Error()))
			}
		}
		return notify.NewNATSTransport(nc, cfg.NATSMailSubject), closeFn, nil
	default:
		return notify.NewLogTransport(slog.Default()), noop, nil
	}
}

// relayTransport はworkerのメール中継先を返す。SMTPが未設定ならログ出力にフォールバックする。
func relayTransport(cfg *config.Config) notify.Transport {
	if cfg.SMTPAddr == "" {
		slog.Warn("SMTP_ADDR is not set; relayed mail will only be logged")
		return notify.NewLogTransport(slog.Default())
	}
	t, err := notify.NewSMTPTransport(smtpConfig(cfg))
	if err != nil {
		slog.Error("invalid smtp configuration; relayed mail will only be logged",
			slog.String("error", err.Error()),
		)
		return notify.NewLogTransport(slog.Default())
	}
	return t
}

func smtpConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}
}

// rateLimiterConfig はreq/min単位の設定値をRateLimiterConfigに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rl.AuthBurst = cfg.RateLimitAuth
	}
	return rl
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
