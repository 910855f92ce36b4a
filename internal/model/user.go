// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// UnknownUsername はプロフィールを解決できなかった投稿者の表示名。
const UnknownUsername = "Unknown"

// Identity はバックエンドゲートウェイが発行した認証済みユーザーを表す。
// セッションストアからは読み取り専用で参照される。
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session はゲートウェイの認証セッションを表す。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired はleeway分の余裕を見てセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// Profile はIdentityと1対1で紐づく公開プロフィールを表す。
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Bio       string    `json:"bio"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName はプロフィールの表示名を返す。未設定の場合は UnknownUsername。
func (p *Profile) DisplayName() string {
	if p == nil || strings.TrimSpace(p.Username) == "" {
		return UnknownUsername
	}
	return p.Username
}

// UsernameFromEmail はメールアドレスのローカル部をユーザー名として返す。
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return strings.TrimSpace(local)
}
