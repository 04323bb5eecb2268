// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/classwatch/internal/model"
)

// IdentityRepository は監視対象identityと設定データの読み取りインターフェース。
// identity・認証情報・ポリシーは外部の設定コラボレータが作成・更新し、
// コアは読み取りのみ行う。
type IdentityRepository interface {
	// ListIdentities は監視対象の全identityを返す。
	ListIdentities(ctx context.Context) ([]*model.Identity, error)

	// FindCredential は指定identityの認証情報を取得する。見つからない場合はnilを返す。
	FindCredential(ctx context.Context, identityID string) (*model.Credential, error)

	// FindPolicy は指定identityの通知ポリシーを取得する。見つからない場合はnilを返す
	// （呼び出し元がデフォルトポリシーを適用する）。
	FindPolicy(ctx context.Context, identityID string) (*model.NotificationPolicy, error)
}

// RecordRepository は処理済み項目の台帳と同期状態の永続化インターフェース。
// レコードは(identity, feed kind, remote id)ごとに1回だけ追記され、
// コアによる更新・削除は行われない。
type RecordRepository interface {
	// ListRemoteIDs は指定identity・フィード種別で永続化済みのremote id集合を返す。
	ListRemoteIDs(ctx context.Context, identityID string, kind model.FeedKind) (map[string]struct{}, error)

	// Create はレコードを追記する。同一(identity, feed kind, remote id)が
	// すでに存在する場合は何もしない（重複は発生しない）。
	Create(ctx context.Context, record *model.Record) error

	// IsInitialized は指定identity・フィード種別の初回同期が完了しているかを返す。
	IsInitialized(ctx context.Context, identityID string, kind model.FeedKind) (bool, error)

	// MarkInitialized は初回同期の完了を記録する。冪等であり、一度立てた
	// フラグが取り消されることはない。
	MarkInitialized(ctx context.Context, identityID string, kind model.FeedKind) error
}
