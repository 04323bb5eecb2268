package model

import "time"

// FeedItem はフィードの生エントリを正規化した一時的な形を表す。
// 同期1パスの中で生成・破棄され、直接は永続化されない（Recordの元になる）。
type FeedItem struct {
	RemoteID     string
	Timestamp    time.Time
	CourseName   string
	Title        string
	Body         string
	Category     EventCategory
	ShouldNotify bool

	// Detail はエンリッチ用の詳細ページ参照。参照がない場合はゼロ値。
	Detail DetailRef
}

// DetailRefKind は詳細ページ参照の種別を表す。
type DetailRefKind string

const (
	// DetailRefURI は通知エントリのリンク先ページ（URI参照）。
	DetailRefURI DetailRefKind = "uri"
	// DetailRefAttempt はカレンダーエントリの提出・受験ページ（数値ID参照）。
	DetailRefAttempt DetailRefKind = "attempt"
)

// DetailRef は詳細ページの参照を表す。Valueの解釈はKindに従う。
type DetailRef struct {
	Kind  DetailRefKind
	Value string
}

// IsZero は参照が設定されていないことを報告する。
func (r DetailRef) IsZero() bool { return r.Kind == "" || r.Value == "" }

// Record は処理済み項目の恒久的な台帳エントリを表す。
// (identity_id, feed_kind, remote_id)ごとに1回だけ作成され、
// コアは追記のみ行い、更新・削除は行わない。
type Record struct {
	ID         string
	IdentityID string
	FeedKind   FeedKind
	RemoteID   string
	CourseName string
	Title      string
	Category   EventCategory
	Notified   bool
	EventAt    time.Time
	CreatedAt  time.Time
}

// NoticeEntry は通知ストリームの生エントリを表す。
type NoticeEntry struct {
	ID        string `json:"se_id"`
	Timestamp int64  `json:"se_timestamp"` // ミリ秒epoch
	CourseID  string `json:"se_courseId"`
	ItemURI   string `json:"se_itemUri"`
	TitleHTML string `json:"itemTitle"`
	BodyHTML  string `json:"itemBody"`
	EventType string `json:"eventType"`
}

// NoticeCourse は通知ストリームに付随するコース情報を表す。
type NoticeCourse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NoticeFeed は通知ストリームのレスポンス全体を表す。
type NoticeFeed struct {
	Entries []NoticeEntry `json:"entries"`
	Extras  struct {
		Courses []NoticeCourse `json:"courses"`
	} `json:"extras"`
}

// CourseNames はコースIDから表示名への索引を構築する。
func (f *NoticeFeed) CourseNames() map[string]string {
	names := make(map[string]string, len(f.Extras.Courses))
	for _, c := range f.Extras.Courses {
		names[c.ID] = c.Name
	}
	return names
}

// CalendarEntry はカレンダーフィードの生エントリを表す。
type CalendarEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CalendarName string `json:"calendarName"` // コース表示名
	EventType    string `json:"eventType"`
	EndDate      int64  `json:"endDate"` // ミリ秒epoch
	ItemSourceID string `json:"itemSourceId"`
}

// End は締切時刻をtime.Timeとして返す。
func (e *CalendarEntry) End() time.Time { return time.UnixMilli(e.EndDate) }
