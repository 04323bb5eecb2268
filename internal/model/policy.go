package model

import "strings"

// EventCategory はイベントの粗粒度カテゴリを表す。
type EventCategory string

const (
	// CategoryAssignment は課題イベント。
	CategoryAssignment EventCategory = "assignment"
	// CategoryContent は教材・コンテンツイベント。
	CategoryContent EventCategory = "content"
	// CategoryAnnouncement はお知らせイベント。上記以外はすべてここに分類される。
	CategoryAnnouncement EventCategory = "announcement"
)

// FeedKind はフィードの種別を表す。
type FeedKind string

const (
	// FeedKindNotice は通知ストリーム。
	FeedKindNotice FeedKind = "notice"
	// FeedKindCalendar はカレンダー（締切）ストリーム。
	FeedKindCalendar FeedKind = "calendar"
)

const (
	// LookaheadMinHours はカレンダー先読み幅の下限（時間）。
	LookaheadMinHours = 3
	// LookaheadMaxHours はカレンダー先読み幅の上限（時間）。
	LookaheadMaxHours = 48
	// DefaultLookaheadHours はポリシー未設定時の先読み幅（時間）。
	DefaultLookaheadHours = 24
)

// CategoryFromEventType はプラットフォームの生イベントコードを粗粒度カテゴリへ写像する。
// 課題系プレフィックス（AS:）→ Assignment、コンテンツ系プレフィックス（CO:）→ Content、
// それ以外はすべてAnnouncementとする。
func CategoryFromEventType(eventType string) EventCategory {
	code := strings.ToUpper(strings.TrimSpace(eventType))
	switch {
	case strings.HasPrefix(code, "AS"):
		return CategoryAssignment
	case strings.HasPrefix(code, "CO"):
		return CategoryContent
	default:
		return CategoryAnnouncement
	}
}

// NotificationPolicy はidentityごとの通知設定のスナップショットを表す。
// 同期1回の間はイミュータブルとして扱い、変更は外部の設定コラボレータのみが行う。
type NotificationPolicy struct {
	// Categories はグローバルに通知対象とするカテゴリ集合。
	Categories []EventCategory
	// CourseOverrides はコース名をキーとするカテゴリ集合の上書き。
	// 存在する場合はグローバル設定より優先される。キーは未変換のコース名。
	CourseOverrides map[string][]EventCategory
	// CourseAliases はメッセージ組み立て時のみ適用されるコース表示名の別名。
	CourseAliases map[string]string
	// NoticePrefix は通知ストリーム由来メッセージの先頭に付ける文字列。
	NoticePrefix string
	// CalendarPrefix はカレンダー由来メッセージの先頭に付ける文字列。
	CalendarPrefix string
	// LookaheadHours はカレンダーの先読み幅（時間）。[3,48]に丸められる。
	LookaheadHours int
}

// DefaultPolicy はポリシー未設定のidentityに適用するデフォルト値を返す。
// 全カテゴリを通知対象とし、先読み幅は24時間。
func DefaultPolicy() *NotificationPolicy {
	return &NotificationPolicy{
		Categories:     []EventCategory{CategoryAssignment, CategoryContent, CategoryAnnouncement},
		LookaheadHours: DefaultLookaheadHours,
	}
}

// ClampLookahead は先読み幅を[LookaheadMinHours, LookaheadMaxHours]に丸める。
// 0以下（未設定）の場合はデフォルト値を返す。
func ClampLookahead(hours int) int {
	if hours <= 0 {
		return DefaultLookaheadHours
	}
	if hours < LookaheadMinHours {
		return LookaheadMinHours
	}
	if hours > LookaheadMaxHours {
		return LookaheadMaxHours
	}
	return hours
}
