// Package policy は通知可否の判定ロジックを提供する。
package policy

import (
	"strings"

	"github.com/hitoshi/classwatch/internal/model"
)

// IsEligible はコースとイベントカテゴリに対して通知すべきかを判定する。
// 解決順序: コース別上書き（コース名の大文字小文字を無視して照合）が存在すれば
// そのカテゴリ集合を、なければグローバルのカテゴリ集合を使用する。
// ポリシーのキーは常に未変換のコース名であり、別名はここでは適用されない。
func IsEligible(course string, category model.EventCategory, p *model.NotificationPolicy) bool {
	if p == nil {
		return false
	}

	categories := p.Categories
	if override, ok := lookupOverride(course, p.CourseOverrides); ok {
		categories = override
	}

	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

// Alias はメッセージ組み立て時に使用するコース表示名を返す。
// 別名が設定されていない場合は元のコース名をそのまま返す。
func Alias(course string, p *model.NotificationPolicy) string {
	if p == nil {
		return course
	}
	for name, alias := range p.CourseAliases {
		if strings.EqualFold(name, course) && alias != "" {
			return alias
		}
	}
	return course
}

// lookupOverride はコース別上書きを大文字小文字を無視して検索する。
func lookupOverride(course string, overrides map[string][]model.EventCategory) ([]model.EventCategory, bool) {
	for name, categories := range overrides {
		if strings.EqualFold(name, course) {
			return categories, true
		}
	}
	return nil, false
}
