package sync

import (
	"fmt"
	"strings"

	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/policy"
)

// messageTimeLayout は配送メッセージ末尾の時刻表記。
const messageTimeLayout = "2006-01-02 15:04"

// composeItemMessage は1項目分の配送メッセージを組み立てる。
// コース名はこの時点でのみエイリアス変換される（照合は常に原名で行う）。
func composeItemMessage(prefix string, pol *model.NotificationPolicy, item *model.FeedItem) string {
	course := policy.Alias(item.CourseName, pol)

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("[%s] %s", course, item.Title))
	if item.Body != "" {
		b.WriteString("\n")
		b.WriteString(item.Body)
	}
	b.WriteString("\n")
	b.WriteString(item.Timestamp.Format(messageTimeLayout))
	return b.String()
}

// composeInitMessage は初回同期完了時に1通だけ配送されるメッセージを組み立てる。
func composeInitMessage(kind model.FeedKind, baseline int) string {
	switch kind {
	case model.FeedKindCalendar:
		return fmt.Sprintf("カレンダー監視を初期化しました（既存 %d 件をベースラインとして登録）", baseline)
	default:
		return fmt.Sprintf("通知監視を初期化しました（既存 %d 件をベースラインとして登録）", baseline)
	}
}
