package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/classwatch/internal/model"
)

// PostgresRecordRepo はPostgreSQLを使用したレコード台帳リポジトリ。
type PostgresRecordRepo struct {
	db *sql.DB
}

// NewPostgresRecordRepo はPostgresRecordRepoを生成する。
func NewPostgresRecordRepo(db *sql.DB) *PostgresRecordRepo {
	return &PostgresRecordRepo{db: db}
}

// ListRemoteIDs は指定identity・フィード種別で永続化済みのremote id集合を返す。
func (r *PostgresRecordRepo) ListRemoteIDs(ctx context.Context, identityID string, kind model.FeedKind) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT remote_id FROM records WHERE identity_id = $1 AND feed_kind = $2`,
		identityID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("レコードID集合の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var remoteID string
		if err := rows.Scan(&remoteID); err != nil {
			return nil, fmt.Errorf("レコードID行の読み取りに失敗しました: %w", err)
		}
		ids[remoteID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レコードID集合の走査に失敗しました: %w", err)
	}

	return ids, nil
}

// Create はレコードを追記する。
// (identity_id, feed_kind, remote_id)の一意制約によりON CONFLICT DO NOTHINGで
// 重複追記を無視する。台帳は追記専用であり、更新は行われない。
func (r *PostgresRecordRepo) Create(ctx context.Context, record *model.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records
		   (id, identity_id, feed_kind, remote_id, course_name, title, category, notified, event_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (identity_id, feed_kind, remote_id) DO NOTHING`,
		record.ID, record.IdentityID, string(record.FeedKind), record.RemoteID,
		record.CourseName, record.Title, string(record.Category),
		record.Notified, record.EventAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("レコードの追記に失敗しました: %w", err)
	}
	return nil
}

// IsInitialized は指定identity・フィード種別の初回同期が完了しているかを返す。
// 行が存在しない場合は未完了とみなす。
func (r *PostgresRecordRepo) IsInitialized(ctx context.Context, identityID string, kind model.FeedKind) (bool, error) {
	var initialized bool
	err := r.db.QueryRowContext(ctx,
		`SELECT initialized FROM sync_states WHERE identity_id = $1 AND feed_kind = $2`,
		identityID, string(kind),
	).Scan(&initialized)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("同期状態の取得に失敗しました: %w", err)
	}

	return initialized, nil
}

// MarkInitialized は初回同期の完了を記録する。冪等。
func (r *PostgresRecordRepo) MarkInitialized(ctx context.Context, identityID string, kind model.FeedKind) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_states (identity_id, feed_kind, initialized, initialized_at)
		 VALUES ($1, $2, TRUE, NOW())
		 ON CONFLICT (identity_id, feed_kind) DO UPDATE SET initialized = TRUE`,
		identityID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("同期状態の記録に失敗しました: %w", err)
	}
	return nil
}
