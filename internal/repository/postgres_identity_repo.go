package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/classwatch/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// ListIdentities は監視対象の全identityを作成順で返す。
func (r *PostgresIdentityRepo) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name, created_at FROM identities ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("identity一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity := &model.Identity{}
		var displayName sql.NullString
		if err := rows.Scan(&identity.ID, &displayName, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("identity行の読み取りに失敗しました: %w", err)
		}
		identity.DisplayName = nullStringValue(displayName)
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity一覧の走査に失敗しました: %w", err)
	}

	return identities, nil
}

// FindCredential は指定identityの認証情報を取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindCredential(ctx context.Context, identityID string) (*model.Credential, error) {
	cred := &model.Credential{}

	err := r.db.QueryRowContext(ctx,
		`SELECT identity_id, username, secret_enc, updated_at
		 FROM credentials WHERE identity_id = $1`,
		identityID,
	).Scan(&cred.IdentityID, &cred.Username, &cred.SecretEnc, &cred.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}

	return cred, nil
}

// FindPolicy は指定identityの通知ポリシーを取得する。見つからない場合はnilを返す。
// カテゴリ集合・コース別上書き・別名はjsonbカラムから復元する。
func (r *PostgresIdentityRepo) FindPolicy(ctx context.Context, identityID string) (*model.NotificationPolicy, error) {
	var (
		categoriesJSON []byte
		overridesJSON  []byte
		aliasesJSON    []byte
		noticePrefix   sql.NullString
		calendarPrefix sql.NullString
		lookaheadHours int
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT categories, course_overrides, course_aliases,
		        notice_prefix, calendar_prefix, lookahead_hours
		 FROM policies WHERE identity_id = $1`,
		identityID,
	).Scan(&categoriesJSON, &overridesJSON, &aliasesJSON,
		&noticePrefix, &calendarPrefix, &lookaheadHours)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ポリシーの取得に失敗しました: %w", err)
	}

	p := &model.NotificationPolicy{
		NoticePrefix:   nullStringValue(noticePrefix),
		CalendarPrefix: nullStringValue(calendarPrefix),
		LookaheadHours: model.ClampLookahead(lookaheadHours),
	}

	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &p.Categories); err != nil {
			return nil, fmt.Errorf("カテゴリ集合のパースに失敗しました: %w", err)
		}
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &p.CourseOverrides); err != nil {
			return nil, fmt.Errorf("コース別上書きのパースに失敗しました: %w", err)
		}
	}
	if len(aliasesJSON) > 0 {
		if err := json.Unmarshal(aliasesJSON, &p.CourseAliases); err != nil {
			return nil, fmt.Errorf("コース別名のパースに失敗しました: %w", err)
		}
	}

	return p, nil
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
