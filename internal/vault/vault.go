// Package vault は保存用秘密情報の対称暗号化を提供する。
//
// 鍵は運用者が任意の長さで指定でき、固定のフィラーバイトで右詰め・切り詰めて
// 32バイトに正規化する。これは鍵導出関数を省く意図的な単純さと強度の
// トレードオフであり、KDFの代替ではない。
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/hitoshi/classwatch/internal/model"
)

const (
	// keyLength は正規化後の鍵長（AES-256）。
	keyLength = 32
	// keyFiller は鍵が短い場合に右詰めするフィラーバイト。
	keyFiller = '0'
)

// normalizeKey は任意長の鍵を固定長に正規化する。
// 短い鍵はフィラーバイトで右詰めし、長い鍵は切り詰める。
func normalizeKey(key string) []byte {
	normalized := make([]byte, keyLength)
	for i := range normalized {
		normalized[i] = keyFiller
	}
	copy(normalized, []byte(key))
	return normalized
}

// Encrypt は平文をAES-256-GCMで暗号化し、base64文字列として返す。
// 暗号化のたびに新しいランダムなnonceを生成して暗号文の先頭に付加するため、
// 同一平文でも毎回異なる暗号文になる。
func Encrypt(plaintext, key string) (string, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return "", fmt.Errorf("暗号器の初期化に失敗しました: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("GCMモードの初期化に失敗しました: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonceの生成に失敗しました: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt はEncryptで生成された値を復号する。
// 保存形式の破損、鍵の不一致、認証タグの不一致はいずれも
// model.DecryptionErrorとして返す。呼び出し元はこれを一時的な障害ではなく
// 該当認証情報の致命的な状態として扱うこと。
func Decrypt(ciphertext, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &model.DecryptionError{Reason: "保存形式が不正です"}
	}

	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return "", &model.DecryptionError{Reason: "暗号器の初期化に失敗しました"}
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", &model.DecryptionError{Reason: "GCMモードの初期化に失敗しました"}
	}

	if len(raw) < gcm.NonceSize() {
		return "", &model.DecryptionError{Reason: "暗号文が短すぎます"}
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &model.DecryptionError{Reason: "鍵の不一致または暗号文の破損です"}
	}

	return string(plaintext), nil
}
