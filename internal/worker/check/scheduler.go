package check

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/repository"
)

// IdentityChecker はidentity1件分のチェック実行インターフェース。
type IdentityChecker interface {
	CheckIdentity(ctx context.Context, identity *model.Identity) error
}

// Scheduler は定期チェックのスケジューリングを行う。
// 指定間隔のティッカーで全identityを取得し、逐次チェックを実行する。
// identity間には待機時間を挟み、プラットフォームへのリクエストが
// 集中しないようにする。
type Scheduler struct {
	identityRepo  repository.IdentityRepository
	checker       IdentityChecker
	logger        *slog.Logger
	identityDelay time.Duration
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// identityDelayが0以下の場合はデフォルト値30秒を使用する。
func NewScheduler(
	identityRepo repository.IdentityRepository,
	checker IdentityChecker,
	logger *slog.Logger,
	identityDelay time.Duration,
) *Scheduler {
	if identityDelay <= 0 {
		identityDelay = 30 * time.Second
	}
	return &Scheduler{
		identityRepo:  identityRepo,
		checker:       checker,
		logger:        logger,
		identityDelay: identityDelay,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("チェックスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("identity_delay", s.identityDelay),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("チェックサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("チェックスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("チェックサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全identityのチェックを1回実行する。
// 1つのidentityの失敗は他のidentityのチェックを妨げない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	identities, err := s.identityRepo.ListIdentities(ctx)
	if err != nil {
		return err
	}

	if len(identities) == 0 {
		s.logger.Info("チェック対象のidentityはありません")
		return nil
	}

	s.logger.Info("チェックサイクルを開始します",
		slog.Int("identity_count", len(identities)),
	)

	for i, identity := range identities {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.identityDelay):
			}
		}

		if err := s.checker.CheckIdentity(ctx, identity); err != nil {
			s.logger.Error("identityのチェックに失敗しました",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	s.logger.Info("チェックサイクルが完了しました",
		slog.Int("identity_count", len(identities)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
