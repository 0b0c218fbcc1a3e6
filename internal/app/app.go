package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/subbridge/internal/auth"
	"github.com/hitoshi/subbridge/internal/config"
	"github.com/hitoshi/subbridge/internal/credential"
	"github.com/hitoshi/subbridge/internal/database"
	"github.com/hitoshi/subbridge/internal/gateway"
	"github.com/hitoshi/subbridge/internal/handler"
	"github.com/hitoshi/subbridge/internal/identity"
	"github.com/hitoshi/subbridge/internal/legacy"
	"github.com/hitoshi/subbridge/internal/logger"
	"github.com/hitoshi/subbridge/internal/metrics"
	"github.com/hitoshi/subbridge/internal/middleware"
	"github.com/hitoshi/subbridge/internal/migration"
	"github.com/hitoshi/subbridge/internal/panel"
	"github.com/hitoshi/subbridge/internal/repository"
	"github.com/hitoshi/subbridge/internal/worker/tokenrefresh"
)

const (
	dbPingTimeout   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// ErrExceptionsExist は例外集合ファイルが既に存在する場合のエラー。
// 移行後に例外集合が変わると既存ユーザーの名前解決が壊れるため、上書きには --force が必要。
var ErrExceptionsExist = errors.New("exception set file already exists (use --force to overwrite)")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
// 戻り値のclose関数はLOG_FILEで開いたファイルを閉じる。
func Init(w io.Writer) (*config.Config, *slog.Logger, func() error, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再設定する
	out, closeLog, err := logger.WithFile(w, cfg.LogFile)
	if err != nil {
		return nil, nil, nil, err
	}
	l := logger.SetupDefault(out, logger.ParseLevel(cfg.LogLevel))

	return cfg, l, closeLog, nil
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
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, l, closeLog, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("backend_address", cfg.BackendAddress),
	)

	switch cmd {
	case CommandImport:
		return runImport(ctx, cfg, l, w)
	case CommandExceptions:
		return runExceptions(cfg, l, slices.Contains(args[1:], "--force"))
	case CommandMigrate:
		return runMigrate(cfg, l)
	case CommandRefreshToken:
		return runRefreshToken(ctx, cfg, l)
	default:
		return runServe(ctx, cfg, l)
	}
}

// runServe は購読ゲートウェイを起動する。
// 認証情報ストアを開いてトークンを1回更新し、定期更新ジョブとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	// 1. 例外集合の読み込み（移行時と同じ集合でなければユーザーを特定できない）
	exceptions, err := identity.LoadExceptions(cfg.ExceptionsPath)
	if err != nil {
		return fmt.Errorf("failed to load exception set: %w", err)
	}
	l.Info("例外集合を読み込みました", slog.Int("count", exceptions.Len()))

	// 2. 認証情報ストアの準備
	db, err := openStore(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. トークンの初回更新と定期更新ジョブ
	manager := newCredentialManager(cfg, repository.NewPostgresCredentialRepo(db), l, collector)
	if err := manager.Refresh(ctx); err != nil {
		l.Warn("起動時のトークン更新に失敗しました。保存済みのトークンを使用します",
			slog.String("error", err.Error()),
		)
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	go tokenrefresh.NewJob(manager, cfg.TokenRefreshInterval, l).Start(jobCtx)

	// 5. ゲートウェイの構築
	backend := newGatewayClient(cfg, l).WithTokenProvider(manager.Token)
	svc := gateway.NewService(
		auth.NewVerifier(cfg.LegacyJWTSecret),
		exceptions,
		backend,
		cfg.SubscriptionURLPrefix,
		l,
		collector,
	)

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitSubscription), l)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            l,
		SubscriptionPath:  cfg.LegacySubscriptionPath,
		Gateway:           svc,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("gateway starting",
			slog.String("addr", server.Addr),
			slog.String("subscription_path", "/"+cfg.LegacySubscriptionPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting down gateway...")
	cancelJob()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	l.Info("gateway stopped gracefully")
	return nil
}

// runImport は旧パネルのエクスポートを読み込み、新パネルへ管理者とユーザーを移行する。
// 結果の要約をwに出力する。
func runImport(ctx context.Context, cfg *config.Config, l *slog.Logger, w io.Writer) error {
	exceptions, err := identity.LoadExceptions(cfg.ExceptionsPath)
	if err != nil {
		return fmt.Errorf("failed to load exception set: %w", err)
	}

	export, err := legacy.ReadExportFile(cfg.LegacyExportPath)
	if err != nil {
		return err
	}
	feed := legacy.Parse(export, l)

	orchestrator := migration.New(
		func() migration.Backend { return newPanelClient(cfg, l) },
		legacy.NewTranslator(exceptions, cfg.ExpireLocation),
		migration.Config{
			SudoUsername: cfg.BackendUsername,
			SudoPassword: cfg.BackendPassword,
			MaxAttempts:  migration.DefaultConfig().MaxAttempts,
			RetryDelay:   cfg.AdminRetryDelay,
		},
		l,
		nil,
	)

	report, err := orchestrator.Run(ctx, feed)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	return writeReport(w, report)
}

// runExceptions はエクスポートの全ユーザー名から例外集合を構築してファイルに保存する。
func runExceptions(cfg *config.Config, l *slog.Logger, force bool) error {
	if _, err := os.Stat(cfg.ExceptionsPath); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrExceptionsExist, cfg.ExceptionsPath)
	}

	export, err := legacy.ReadExportFile(cfg.LegacyExportPath)
	if err != nil {
		return err
	}

	usernames := legacy.Usernames(export)
	exceptions := identity.BuildExceptions(usernames)
	if err := identity.SaveExceptions(cfg.ExceptionsPath, exceptions); err != nil {
		return err
	}

	l.Info("例外集合を保存しました",
		slog.String("path", cfg.ExceptionsPath),
		slog.Int("user_count", len(usernames)),
		slog.Int("exception_count", len(exceptions)),
	)
	return nil
}

// runMigrate は認証情報ストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	if err := cfg.ValidateStore(); err != nil {
		return err
	}

	l.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	l.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runRefreshToken は管理者トークンを1回だけ更新する。
func runRefreshToken(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	if err := cfg.ValidateStore(); err != nil {
		return err
	}

	db, err := openStore(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	manager := newCredentialManager(cfg, repository.NewPostgresCredentialRepo(db), l, nil)
	return manager.Refresh(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(target string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newPanelClient は BACKEND_RATE_LIMIT で呼び出し間隔を制御する新パネルのAPIクライアントを生成する。
// 移行のグループごととトークン更新でそれぞれ別のインスタンスを使う。
func newPanelClient(cfg *config.Config, l *slog.Logger) *panel.Client {
	burst := max(int(math.Ceil(cfg.BackendRateLimit)), 1)
	limiter := rate.NewLimiter(rate.Limit(cfg.BackendRateLimit), burst)
	return panel.NewClient(&http.Client{Timeout: cfg.BackendTimeout}, cfg.BackendAddress, limiter, l)
}

// newGatewayClient はゲートウェイ用のクライアントを生成する。
// 購読リクエストは互いに独立して処理するため、リミッターは持たない。
func newGatewayClient(cfg *config.Config, l *slog.Logger) *panel.Client {
	return panel.NewClient(&http.Client{Timeout: cfg.BackendTimeout}, cfg.BackendAddress, nil, l)
}

// newCredentialManager はログイン専用のクライアントで管理者トークンを取得するManagerを生成する。
func newCredentialManager(cfg *config.Config, repo repository.CredentialRepository, l *slog.Logger, recorder credential.Recorder) *credential.Manager {
	return credential.NewManager(
		repo,
		newPanelClient(cfg, l),
		cfg.BackendUsername,
		cfg.BackendPassword,
		l,
		recorder,
	)
}

// openStore は認証情報ストアへの接続を開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config, l *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	l.Info("database connection established")
	return db, nil
}

// writeReport は移行結果の要約を表形式で出力する。
func writeReport(w io.Writer, report *migration.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "admins: %d succeeded, %d failed\n", report.AdminsSucceeded(), report.AdminsFailed())
	fmt.Fprintf(tw, "users: %d created, %d failed, %d skipped\n", report.UsersCreated, report.UsersFailed, report.UsersSkipped)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "ADMIN\tSTATE\tATTEMPTS\tSERVICE\tCREATED\tFAILED\tSKIPPED")

	groups := make(map[string]migration.GroupResult, len(report.Groups))
	for _, g := range report.Groups {
		groups[g.Admin] = g
	}
	for _, a := range report.Admins {
		g := groups[a.Admin]
		service := "-"
		if a.ServiceID != 0 {
			service = fmt.Sprintf("%d", a.ServiceID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
			a.Admin, a.State, a.Attempts, service, g.Created, g.Failed, g.Skipped)
	}

	return tw.Flush()
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
