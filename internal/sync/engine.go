// Package sync は増分同期エンジンを提供する。
//
// フィード取得 → 永続化済みレコードとの差分 → エンリッチ → 通知可否判定 →
// 配送 → 永続化、という一連の流れを通知ストリームとカレンダーストリームの
// 両方に対して同じ形で実行する。実行間の状態（既読集合）、ポリシー（通知対象）、
// エンリッチ（高コストな二次取得）は、初回同期と定常運転の二相性の下で
// ここでのみ突き合わせられる。
package sync

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/classwatch/internal/extract"
	"github.com/hitoshi/classwatch/internal/metrics"
	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/policy"
	"github.com/hitoshi/classwatch/internal/repository"
)

// FeedSource は認証済みセッションが公開するデータ操作のインターフェース。
type FeedSource interface {
	// FetchNoticeFeed は通知ストリームを取得する。
	FetchNoticeFeed(ctx context.Context) (*model.NoticeFeed, error)
	// FetchCalendarFeed はカレンダーフィードを取得する。
	FetchCalendarFeed(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error)
	// FetchDetailPage は項目の詳細ページを取得する。
	FetchDetailPage(ctx context.Context, ref model.DetailRef) (string, error)
}

// MessageSink は通知メッセージの配送先インターフェース。
// 配送失敗は同期パスに致命的ではない（レコード状態を壊してはならない）。
type MessageSink interface {
	Deliver(ctx context.Context, identityID, text string) error
}

// Engine は1つのidentityに対する増分同期エンジン。
// identity内の処理は厳密に逐次であり、内部並列性は持たない。
type Engine struct {
	source  FeedSource
	records repository.RecordRepository
	sink    MessageSink
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	source FeedSource,
	records repository.RecordRepository,
	sink MessageSink,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		source:  source,
		records: records,
		sink:    sink,
		metrics: collector,
		logger:  logger,
	}
}

// SyncNotices は通知ストリームの同期を1回実行する。
// フィード取得と台帳読み込みの失敗はこのパスに致命的。
// 個別項目のエンリッチ・配送・永続化の失敗は該当項目に閉じる。
func (e *Engine) SyncNotices(ctx context.Context, identity *model.Identity, pol *model.NotificationPolicy) error {
	feed, err := e.source.FetchNoticeFeed(ctx)
	if err != nil {
		e.metrics.RecordFeedFetchFailure(string(model.FeedKindNotice))
		e.logger.Error("通知ストリームの取得に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	seen, initialized, err := e.loadLedger(ctx, identity.ID, model.FeedKindNotice)
	if err != nil {
		return err
	}

	courses := feed.CourseNames()
	var newCount, notifiedCount int

	for _, entry := range feed.Entries {
		if entry.ID == "" {
			continue
		}
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{} // 同一パス内の重複も1回だけ処理する

		item := normalizeNotice(entry, courses)
		item.ShouldNotify = policy.IsEligible(item.CourseName, item.Category, pol)

		notified := false
		if initialized && item.ShouldNotify {
			// 課題カテゴリの通知のみ、詳細ページから説明文を取り込む。
			// 初回同期ではエンリッチを一切行わない（導入直後の大量取得を避ける）。
			if item.Category == model.CategoryAssignment && !item.Detail.IsZero() {
				e.enrichFromDetail(ctx, identity.ID, item)
			}

			msg := composeItemMessage(pol.NoticePrefix, pol, item)
			if deliverErr := e.sink.Deliver(ctx, identity.ID, msg); deliverErr != nil {
				e.logger.Error("通知メッセージの配送に失敗しました",
					slog.String("identity_id", identity.ID),
					slog.String("remote_id", item.RemoteID),
					slog.String("error", deliverErr.Error()),
				)
			} else {
				notified = true
				e.metrics.RecordNotificationDelivered()
			}
		}

		e.persistRecord(ctx, identity.ID, model.FeedKindNotice, item, notified)
		newCount++
		if notified {
			notifiedCount++
		}
	}

	if !initialized {
		if err := e.finishFirstRun(ctx, identity.ID, model.FeedKindNotice, newCount); err != nil {
			return err
		}
	}

	e.logger.Info("通知ストリームの同期が完了しました",
		slog.String("identity_id", identity.ID),
		slog.Int("entries_total", len(feed.Entries)),
		slog.Int("entries_new", newCount),
		slog.Int("notified", notifiedCount),
		slog.Bool("first_run", !initialized),
	)

	return nil
}

// SyncCalendar はカレンダーストリームの同期を1回実行する。
// 定常運転では、通知対象のエントリについて提出ページを確認し、
// 提出済みであれば締切通知を抑止する。エントリ自体は提出状態に関わらず記録される。
func (e *Engine) SyncCalendar(ctx context.Context, identity *model.Identity, pol *model.NotificationPolicy) error {
	entries, err := e.source.FetchCalendarFeed(ctx, pol.LookaheadHours)
	if err != nil {
		e.metrics.RecordFeedFetchFailure(string(model.FeedKindCalendar))
		e.logger.Error("カレンダーフィードの取得に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	seen, initialized, err := e.loadLedger(ctx, identity.ID, model.FeedKindCalendar)
	if err != nil {
		return err
	}

	var newCount, notifiedCount int

	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}

		item := normalizeCalendar(entry)
		item.ShouldNotify = policy.IsEligible(item.CourseName, item.Category, pol)

		notified := false
		if initialized && item.ShouldNotify {
			suppress := false
			if !item.Detail.IsZero() {
				suppress = e.checkAttempted(ctx, identity.ID, item)
			}

			if !suppress {
				msg := composeItemMessage(pol.CalendarPrefix, pol, item)
				if deliverErr := e.sink.Deliver(ctx, identity.ID, msg); deliverErr != nil {
					e.logger.Error("締切メッセージの配送に失敗しました",
						slog.String("identity_id", identity.ID),
						slog.String("remote_id", item.RemoteID),
						slog.String("error", deliverErr.Error()),
					)
				} else {
					notified = true
					e.metrics.RecordNotificationDelivered()
				}
			}
		}

		e.persistRecord(ctx, identity.ID, model.FeedKindCalendar, item, notified)
		newCount++
		if notified {
			notifiedCount++
		}
	}

	if !initialized {
		if err := e.finishFirstRun(ctx, identity.ID, model.FeedKindCalendar, newCount); err != nil {
			return err
		}
	}

	e.logger.Info("カレンダーフィードの同期が完了しました",
		slog.String("identity_id", identity.ID),
		slog.Int("entries_total", len(entries)),
		slog.Int("entries_new", newCount),
		slog.Int("notified", notifiedCount),
		slog.Bool("first_run", !initialized),
	)

	return nil
}

// loadLedger は永続化済みremote id集合と初回同期完了フラグを読み込む。
func (e *Engine) loadLedger(ctx context.Context, identityID string, kind model.FeedKind) (map[string]struct{}, bool, error) {
	seen, err := e.records.ListRemoteIDs(ctx, identityID, kind)
	if err != nil {
		e.logger.Error("レコードID集合の読み込みに失敗しました",
			slog.String("identity_id", identityID),
			slog.String("feed_kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, false, err
	}

	initialized, err := e.records.IsInitialized(ctx, identityID, kind)
	if err != nil {
		e.logger.Error("同期状態の読み込みに失敗しました",
			slog.String("identity_id", identityID),
			slog.String("feed_kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, false, err
	}

	return seen, initialized, nil
}

// enrichFromDetail は詳細ページから課題説明テキストを取り込んで本文に連結する。
// 取得失敗は該当項目のエンリッチのみを諦め、通知と永続化は続行される。
func (e *Engine) enrichFromDetail(ctx context.Context, identityID string, item *model.FeedItem) {
	page, err := e.source.FetchDetailPage(ctx, item.Detail)
	if err != nil {
		e.metrics.RecordEnrichmentFailure()
		e.logger.Warn("詳細ページの取得に失敗したためエンリッチをスキップします",
			slog.String("identity_id", identityID),
			slog.String("remote_id", item.RemoteID),
			slog.String("error", err.Error()),
		)
		return
	}

	if instruction := extract.ExtractInstruction(page); instruction != "" {
		item.Body = joinNonEmpty(item.Body, instruction)
	}
}

// checkAttempted は提出ページを取得して提出済みかどうかを判定する。
// 未提出の場合は課題説明を本文へ取り込む。取得失敗時は未提出扱いとし、
// エンリッチなしで通知を続行する。
func (e *Engine) checkAttempted(ctx context.Context, identityID string, item *model.FeedItem) bool {
	page, err := e.source.FetchDetailPage(ctx, item.Detail)
	if err != nil {
		e.metrics.RecordEnrichmentFailure()
		e.logger.Warn("提出ページの取得に失敗したため提出状態の確認をスキップします",
			slog.String("identity_id", identityID),
			slog.String("remote_id", item.RemoteID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if extract.HasBeenAttempted(page) {
		return true
	}

	if instruction := extract.ExtractInstruction(page); instruction != "" {
		item.Body = joinNonEmpty(item.Body, instruction)
	}
	return false
}

// finishFirstRun は初回同期の完了処理を行う。
// 項目ごとの通知は一切行わず、「初期化完了」メッセージを1通だけ配送し、
// 初回同期完了フラグを立てる。以降のパスは定常運転となる。
func (e *Engine) finishFirstRun(ctx context.Context, identityID string, kind model.FeedKind, baseline int) error {
	msg := composeInitMessage(kind, baseline)
	if err := e.sink.Deliver(ctx, identityID, msg); err != nil {
		e.logger.Error("初期化メッセージの配送に失敗しました",
			slog.String("identity_id", identityID),
			slog.String("feed_kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}

	if err := e.records.MarkInitialized(ctx, identityID, kind); err != nil {
		e.logger.Error("初回同期完了フラグの記録に失敗しました",
			slog.String("identity_id", identityID),
			slog.String("feed_kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// persistRecord は項目を台帳へ追記する。
// 1件の失敗は該当レコードに閉じ、他のレコードの追記を妨げない。
func (e *Engine) persistRecord(ctx context.Context, identityID string, kind model.FeedKind, item *model.FeedItem, notified bool) {
	record := &model.Record{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		FeedKind:   kind,
		RemoteID:   item.RemoteID,
		CourseName: item.CourseName,
		Title:      item.Title,
		Category:   item.Category,
		Notified:   notified,
		EventAt:    item.Timestamp,
		CreatedAt:  time.Now(),
	}

	if err := e.records.Create(ctx, record); err != nil {
		perr := &model.PersistenceError{RemoteID: item.RemoteID, Err: err}
		e.logger.Error("レコードの永続化に失敗しました",
			slog.String("identity_id", identityID),
			slog.String("feed_kind", string(kind)),
			slog.String("remote_id", item.RemoteID),
			slog.String("error", perr.Error()),
		)
	}
}

// normalizeNotice は通知ストリームの生エントリをFeedItemへ正規化する。
func normalizeNotice(entry model.NoticeEntry, courses map[string]string) *model.FeedItem {
	course := courses[entry.CourseID]
	if course == "" {
		course = entry.CourseID
	}

	item := &model.FeedItem{
		RemoteID:   entry.ID,
		Timestamp:  time.UnixMilli(entry.Timestamp),
		CourseName: course,
		Title:      extract.ExtractTitle(entry.TitleHTML),
		Body:       extract.ExtractBody(entry.BodyHTML),
		Category:   model.CategoryFromEventType(entry.EventType),
	}
	if entry.ItemURI != "" {
		item.Detail = model.DetailRef{Kind: model.DetailRefURI, Value: entry.ItemURI}
	}
	return item
}

// normalizeCalendar はカレンダーフィードの生エントリをFeedItemへ正規化する。
func normalizeCalendar(entry model.CalendarEntry) *model.FeedItem {
	item := &model.FeedItem{
		RemoteID:   entry.ID,
		Timestamp:  entry.End(),
		CourseName: strings.TrimSpace(entry.CalendarName),
		Title:      strings.TrimSpace(entry.Title),
		Category:   model.CategoryFromEventType(entry.EventType),
	}
	if entry.ItemSourceID != "" {
		item.Detail = model.DetailRef{Kind: model.DetailRefAttempt, Value: entry.ItemSourceID}
	}
	return item
}

// joinNonEmpty は空でない文字列を改行で連結する。
func joinNonEmpty(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
