// Package migration は旧パネルの管理者・ユーザーを新パネルへ移行するオーケストレーターを提供する。
// 管理者ごとに専用サービスを作成して管理者を作成・更新し、成功した管理者のグループのみユーザーを作成する。
package migration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/hitoshi/subbridge/internal/legacy"
	"github.com/hitoshi/subbridge/internal/model"
	"github.com/hitoshi/subbridge/internal/panel"
)

var (
	// ErrNotSudo は設定された管理者がsudo権限を持たない場合のエラー。
	ErrNotSudo = errors.New("backend admin does not have sudo privileges")
	// ErrNoInbounds は新パネルにインバウンドが1件もない場合のエラー。
	ErrNoInbounds = errors.New("no inbounds configured on backend")
	// errSudoAdmin は既存のsudo管理者を変更しようとした場合のエラー。
	errSudoAdmin = errors.New("cannot modify sudo admin")
)

// Backend は移行に使用する新パネルAPIの操作。
// *panel.Client が実装する。テスト時にモックに差し替え可能。
type Backend interface {
	Login(ctx context.Context, username, password string) (*model.AdminToken, error)
	ListInbounds(ctx context.Context) ([]model.Inbound, error)
	CreateService(ctx context.Context, req model.ServiceCreate) (*model.Service, error)
	GetAdmin(ctx context.Context, username string) (*model.Admin, error)
	CreateAdmin(ctx context.Context, req model.AdminCreate) (*model.Admin, error)
	UpdateAdmin(ctx context.Context, username string, req model.AdminUpdate) (*model.Admin, error)
	CreateUser(ctx context.Context, req model.UserCreate) (*model.BackendUser, error)
}

var _ Backend = (*panel.Client)(nil)

// BackendFactory は独立したセッションを持つ Backend を生成する。
// ユーザー移行ではグループごとに新しいセッションでログインする。
type BackendFactory func() Backend

// Recorder は移行結果のメトリクス記録先。
type Recorder interface {
	RecordAdminMigration(state string, attempts int)
	RecordUserMigration(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAdminMigration(string, int) {}
func (noopRecorder) RecordUserMigration(string)       {}

// Config はオーケストレーターの設定。
type Config struct {
	// SudoUsername / SudoPassword は事前チェックと管理者移行に使用するsudo管理者の資格情報。
	SudoUsername string
	SudoPassword string
	// MaxAttempts は管理者1件あたりの最大試行回数（デフォルト: 3）。
	MaxAttempts uint
	// RetryDelay は試行間の待機時間（デフォルト: 2秒）。
	RetryDelay time.Duration
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}
}

// Orchestrator は移行処理を管理者の入力順、ユーザーの入力順に逐次実行する。
type Orchestrator struct {
	newBackend BackendFactory
	translator *legacy.Translator
	logger     *slog.Logger
	recorder   Recorder
	config     Config
	suffix     func() string
}

// New は Orchestrator の新しいインスタンスを生成する。
// recorder が nil の場合はメトリクスを記録しない。
func New(newBackend BackendFactory, translator *legacy.Translator, config Config, logger *slog.Logger, recorder Recorder) *Orchestrator {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Orchestrator{
		newBackend: newBackend,
		translator: translator,
		logger:     logger,
		recorder:   recorder,
		config:     config,
		suffix:     randomSuffix,
	}
}

// PlaceholderPassword は移行した管理者に設定する初期パスワードを返す。
// ユーザー名を2回連結した決定的な値で、ユーザー移行時のログインにも使用する。
func PlaceholderPassword(username string) string {
	return username + username
}

// Precheck はsudo管理者としてログインし、インバウンドが存在することを確認する。
// サービスに割り当てる先頭インバウンドのIDを返す。
func (o *Orchestrator) Precheck(ctx context.Context, api Backend) (int64, error) {
	o.logger.Info("管理者のsudo権限を確認します", slog.String("admin", o.config.SudoUsername))
	token, err := api.Login(ctx, o.config.SudoUsername, o.config.SudoPassword)
	if err != nil {
		return 0, fmt.Errorf("sudo check: %w", err)
	}
	if !token.IsSudo {
		return 0, ErrNotSudo
	}

	inbounds, err := api.ListInbounds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list inbounds: %w", err)
	}
	if len(inbounds) == 0 {
		return 0, ErrNoInbounds
	}
	o.logger.Info("利用可能なインバウンドを確認しました",
		slog.Int("inbound_count", len(inbounds)),
		slog.Int64("inbound_id", inbounds[0].ID),
	)
	return inbounds[0].ID, nil
}

// Run は事前チェックの後、管理者の移行とユーザーの移行を順に実行する。
// 事前チェックに失敗した場合は何も作成せずにエラーを返す。
// 個々の管理者・ユーザーの失敗はレポートに記録され、処理は継続する。
func (o *Orchestrator) Run(ctx context.Context, feed *legacy.Feed) (*Report, error) {
	start := time.Now()
	api := o.newBackend()

	inboundID, err := o.Precheck(ctx, api)
	if err != nil {
		o.logger.Error("移行の事前チェックに失敗しました", slog.String("error", err.Error()))
		return nil, err
	}

	report := &Report{}
	bindings := make(map[string]int64, len(feed.Admins))

	o.logger.Info("管理者の移行を開始します", slog.Int("admin_count", len(feed.Admins)))
	for _, admin := range feed.Admins {
		result := o.migrateAdmin(ctx, api, admin.Username, inboundID)
		report.Admins = append(report.Admins, result)
		o.recorder.RecordAdminMigration(result.State.String(), result.Attempts)
		if result.State == StateSuccess {
			bindings[admin.Username] = result.ServiceID
		}
	}

	o.logger.Info("ユーザーの移行を開始します", slog.Int("group_count", len(feed.Groups)))
	for _, group := range feed.Groups {
		var result GroupResult
		serviceID, ok := bindings[group.Admin]
		if !ok {
			o.logger.Error("管理者の移行に失敗したためユーザーをスキップします",
				slog.String("admin", group.Admin),
				slog.Int("user_count", len(group.Users)),
			)
			result = GroupResult{Admin: group.Admin, Skipped: len(group.Users), Reason: "admin migration failed"}
		} else {
			result = o.migrateUsers(ctx, group, serviceID)
		}
		for i := 0; i < result.Skipped; i++ {
			o.recorder.RecordUserMigration("skipped")
		}
		report.Groups = append(report.Groups, result)
		report.UsersCreated += result.Created
		report.UsersFailed += result.Failed
		report.UsersSkipped += result.Skipped
	}

	o.logger.Info("移行処理が完了しました",
		slog.Int("admins_succeeded", report.AdminsSucceeded()),
		slog.Int("admins_failed", report.AdminsFailed()),
		slog.Int("users_created", report.UsersCreated),
		slog.Int("users_failed", report.UsersFailed),
		slog.Int("users_skipped", report.UsersSkipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, nil
}

// migrateAdmin は管理者1件を最大 MaxAttempts 回まで試行する。
func (o *Orchestrator) migrateAdmin(ctx context.Context, api Backend, username string, inboundID int64) AdminResult {
	result := AdminResult{Admin: username, State: StatePending}

	err := retry.Do(
		func() error {
			result.Attempts++
			o.logger.Info("管理者を処理します",
				slog.String("admin", username),
				slog.Int("attempt", result.Attempts),
				slog.Uint64("max_attempts", uint64(o.config.MaxAttempts)),
			)
			outcome, serviceID, err := o.attemptAdmin(ctx, api, username, inboundID, &result.State)
			switch outcome {
			case OutcomeSuccess:
				result.ServiceID = serviceID
				return nil
			case OutcomeAbort:
				return retry.Unrecoverable(err)
			default:
				return err
			}
		},
		retry.Context(ctx),
		retry.Attempts(o.config.MaxAttempts),
		retry.Delay(o.config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < o.config.MaxAttempts {
				o.logger.Warn("管理者の処理に失敗したため再試行します",
					slog.String("admin", username),
					slog.Uint64("attempt", uint64(n+1)),
					slog.String("error", err.Error()),
				)
			}
		}),
	)
	if err != nil {
		result.State = StateFailed
		result.Err = err
		o.logger.Error("管理者の移行に失敗しました",
			slog.String("admin", username),
			slog.Int("attempts", result.Attempts),
			slog.String("error", err.Error()),
		)
		return result
	}

	result.State = StateSuccess
	o.logger.Info("管理者の移行が完了しました",
		slog.String("admin", username),
		slog.Int64("service_id", result.ServiceID),
	)
	return result
}

// attemptAdmin は1回の試行を実行する。サービスを作成し、管理者を作成または更新する。
func (o *Orchestrator) attemptAdmin(ctx context.Context, api Backend, username string, inboundID int64, state *AdminState) (Outcome, int64, error) {
	*state = StateServiceCreating
	service, err := api.CreateService(ctx, model.ServiceCreate{
		Name:       username + o.suffix(),
		InboundIDs: []int64{inboundID},
	})
	if err != nil {
		return OutcomeRetry, 0, fmt.Errorf("create service for %s: %w", username, err)
	}

	*state = StateAdminResolving
	password := PlaceholderPassword(username)
	existing, err := api.GetAdmin(ctx, username)
	switch {
	case errors.Is(err, panel.ErrNotFound):
		_, err = api.CreateAdmin(ctx, model.AdminCreate{
			Username:   username,
			Password:   password,
			Enabled:    true,
			ServiceIDs: []int64{service.ID},
		})
		if err != nil {
			return OutcomeRetry, 0, fmt.Errorf("create admin %s: %w", username, err)
		}
	case err != nil:
		return OutcomeRetry, 0, fmt.Errorf("get admin %s: %w", username, err)
	case existing.IsSudo:
		return OutcomeAbort, 0, fmt.Errorf("%w: %s", errSudoAdmin, username)
	default:
		_, err = api.UpdateAdmin(ctx, username, model.AdminUpdate{
			Username:   username,
			Password:   password,
			ServiceIDs: []int64{service.ID},
		})
		if err != nil {
			return OutcomeRetry, 0, fmt.Errorf("update admin %s: %w", username, err)
		}
	}

	return OutcomeSuccess, service.ID, nil
}

// migrateUsers は管理者としてログインし、グループのユーザーを入力順に1回ずつ作成する。
// 作成に失敗したユーザーは記録してスキップする。
func (o *Orchestrator) migrateUsers(ctx context.Context, group legacy.UserGroup, serviceID int64) GroupResult {
	result := GroupResult{Admin: group.Admin}

	o.logger.Info("管理者グループのユーザーを処理します",
		slog.String("admin", group.Admin),
		slog.Int("user_count", len(group.Users)),
	)

	api := o.newBackend()
	if _, err := api.Login(ctx, group.Admin, PlaceholderPassword(group.Admin)); err != nil {
		o.logger.Error("管理者としてのログインに失敗しました",
			slog.String("admin", group.Admin),
			slog.String("error", err.Error()),
		)
		result.Skipped = len(group.Users)
		result.Reason = "admin login failed"
		return result
	}

	for _, user := range group.Users {
		payload := o.translator.Translate(user, serviceID)
		if _, err := api.CreateUser(ctx, payload); err != nil {
			o.logger.Error("ユーザーの作成に失敗しました",
				slog.String("admin", group.Admin),
				slog.String("legacy_username", user.Username),
				slog.String("username", payload.Username),
				slog.String("error", err.Error()),
			)
			result.Failed++
			o.recorder.RecordUserMigration("failed")
			continue
		}
		result.Created++
		o.recorder.RecordUserMigration("created")
		o.logger.Debug("ユーザーを作成しました",
			slog.String("legacy_username", user.Username),
			slog.String("username", payload.Username),
		)
	}

	o.logger.Info("管理者グループのユーザー処理が完了しました",
		slog.String("admin", group.Admin),
		slog.Int("created", result.Created),
		slog.Int("failed", result.Failed),
	)
	return result
}

// randomSuffix はサービス名の衝突を避けるための4桁の16進文字列を返す。
func randomSuffix() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%04x", time.Now().UnixNano()&0xffff)
	}
	return hex.EncodeToString(b)
}
