package model

import "time"

// Identity は監視対象のプラットフォーム利用者を表す。
// 外部の設定コラボレータが作成・更新し、コアは読み取りのみ行う。
type Identity struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Credential はidentityに紐付くプラットフォーム認証情報を表す。
// SecretEncはVaultで暗号化された状態で保存され、ログイン試行の間だけ
// メモリ上で復号される。
type Credential struct {
	IdentityID string
	Username   string
	SecretEnc  string
	UpdatedAt  time.Time
}
