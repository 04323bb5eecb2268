package model

import "testing"

func TestCategoryFromEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      EventCategory
	}{
		{"課題イベント", "AS:AS_AVAIL", CategoryAssignment},
		{"教材イベント", "CO:CO_AVAIL", CategoryContent},
		{"告知イベント", "AN:AN_AVAIL", CategoryAnnouncement},
		{"未知のイベント種別は告知扱い", "XX:UNKNOWN", CategoryAnnouncement},
		{"空のイベント種別は告知扱い", "", CategoryAnnouncement},
		{"小文字のイベント種別", "as:as_avail", CategoryAssignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryFromEventType(tt.eventType); got != tt.want {
				t.Errorf("CategoryFromEventType(%q) = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestClampLookahead(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		want  int
	}{
		{"範囲内はそのまま", 24, 24},
		{"下限ちょうど", LookaheadMinHours, LookaheadMinHours},
		{"上限ちょうど", LookaheadMaxHours, LookaheadMaxHours},
		{"下限未満は下限に丸める", 1, LookaheadMinHours},
		{"ゼロ（未設定）はデフォルト値", 0, DefaultLookaheadHours},
		{"負数（未設定）はデフォルト値", -5, DefaultLookaheadHours},
		{"上限超過は上限に丸める", 72, LookaheadMaxHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampLookahead(tt.hours); got != tt.want {
				t.Errorf("ClampLookahead(%d) = %d, want %d", tt.hours, got, tt.want)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	pol := DefaultPolicy()

	if len(pol.Categories) != 3 {
		t.Errorf("len(Categories) = %d, want 3", len(pol.Categories))
	}
	if pol.LookaheadHours != DefaultLookaheadHours {
		t.Errorf("LookaheadHours = %d, want %d", pol.LookaheadHours, DefaultLookaheadHours)
	}
}

func TestNoticeFeed_CourseNames(t *testing.T) {
	feed := &NoticeFeed{}
	feed.Extras.Courses = []NoticeCourse{
		{ID: "c1", Name: "線形代数"},
		{ID: "c2", Name: "プログラミング演習"},
	}

	names := feed.CourseNames()
	if len(names) != 2 {
		t.Fatalf("len(names) = %d, want 2", len(names))
	}
	if names["c1"] != "線形代数" {
		t.Errorf(`names["c1"] = %q, want %q`, names["c1"], "線形代数")
	}
}
