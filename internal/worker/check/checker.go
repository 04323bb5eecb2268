// Package check はidentityごとの定期チェック処理を提供する。
// スケジューラとチェッカーを含む。
package check

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/classwatch/internal/metrics"
	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/repository"
	"github.com/hitoshi/classwatch/internal/sync"
	"github.com/hitoshi/classwatch/internal/vault"
)

// PlatformSession はチェック1回分の認証済みセッションのインターフェース。
type PlatformSession interface {
	Login(ctx context.Context, username, secret string) error
	sync.FeedSource
}

// SessionFactory は新しい未認証セッションを生成する。
// セッションはCookie状態を持つためidentity間で再利用してはならない。
type SessionFactory func() PlatformSession

// Checker は1つのidentityに対するチェック処理を実行する。
// 認証情報の取得・復号、ログイン、両フィードの同期までを担う。
type Checker struct {
	identityRepo repository.IdentityRepository
	recordRepo   repository.RecordRepository
	sink         sync.MessageSink
	metrics      metrics.MetricsCollector
	newSession   SessionFactory
	vaultKey     string
	logger       *slog.Logger
}

// NewChecker はCheckerの新しいインスタンスを生成する。
func NewChecker(
	identityRepo repository.IdentityRepository,
	recordRepo repository.RecordRepository,
	sink sync.MessageSink,
	collector metrics.MetricsCollector,
	newSession SessionFactory,
	vaultKey string,
	logger *slog.Logger,
) *Checker {
	return &Checker{
		identityRepo: identityRepo,
		recordRepo:   recordRepo,
		sink:         sink,
		metrics:      collector,
		newSession:   newSession,
		vaultKey:     vaultKey,
		logger:       logger,
	}
}

// CheckIdentity は1つのidentityのチェックを1回実行する。
//
// 認証情報が未登録のidentityはスキップする。復号失敗と認証拒否は
// 運用者の操作が必要な状態のため、本人へメッセージで知らせる。
// トランスポート障害は一時的なものとしてログのみで次回に委ねる。
// 通知ストリームとカレンダーの同期は独立しており、片方の失敗は
// もう片方を妨げない。
func (c *Checker) CheckIdentity(ctx context.Context, identity *model.Identity) error {
	start := time.Now()

	cred, err := c.identityRepo.FindCredential(ctx, identity.ID)
	if err != nil {
		c.metrics.RecordCheckFailure(identity.ID, "storage")
		c.logger.Error("認証情報の取得に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if cred == nil {
		c.logger.Info("認証情報が未登録のためスキップします",
			slog.String("identity_id", identity.ID),
		)
		return nil
	}

	secret, err := vault.Decrypt(cred.SecretEnc, c.vaultKey)
	if err != nil {
		c.metrics.RecordCheckFailure(identity.ID, "decrypt")
		c.logger.Error("認証情報の復号に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		c.deliverAlert(ctx, identity.ID,
			"認証情報の復号に失敗しました。認証情報を再登録してください。")
		return err
	}

	sess := c.newSession()
	if err := sess.Login(ctx, cred.Username, secret); err != nil {
		var authErr *model.AuthenticationError
		if errors.As(err, &authErr) {
			c.metrics.RecordCheckFailure(identity.ID, "auth")
			c.logger.Error("プラットフォームへのログインが拒否されました",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
			c.deliverAlert(ctx, identity.ID,
				"プラットフォームへのログインに失敗しました。認証情報を確認してください。")
			return err
		}

		// トランスポート障害は一時的なものとして次回チェックに委ねる
		c.metrics.RecordCheckFailure(identity.ID, "transport")
		c.logger.Error("ログイン中にトランスポート障害が発生しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	pol, err := c.identityRepo.FindPolicy(ctx, identity.ID)
	if err != nil {
		c.metrics.RecordCheckFailure(identity.ID, "storage")
		c.logger.Error("通知ポリシーの取得に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if pol == nil {
		pol = model.DefaultPolicy()
	}

	engine := sync.NewEngine(sess, c.recordRepo, c.sink, c.metrics, c.logger)

	noticeErr := engine.SyncNotices(ctx, identity, pol)
	calendarErr := engine.SyncCalendar(ctx, identity, pol)

	if err := errors.Join(noticeErr, calendarErr); err != nil {
		c.metrics.RecordCheckFailure(identity.ID, "sync")
		return err
	}

	c.metrics.RecordCheckSuccess(identity.ID)
	c.metrics.RecordCheckLatency(time.Since(start))
	c.logger.Info("identityのチェックが完了しました",
		slog.String("identity_id", identity.ID),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// deliverAlert は運用上の異常を本人へ知らせる。配送失敗はログのみ。
func (c *Checker) deliverAlert(ctx context.Context, identityID, text string) {
	if err := c.sink.Deliver(ctx, identityID, text); err != nil {
		c.logger.Error("異常通知の配送に失敗しました",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
	}
}
