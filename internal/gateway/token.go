package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はゲートウェイが発行するアクセストークンの主要クレーム。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ParseClaims はアクセストークンを署名検証せずにデコードする。
// 結果は有効期限とユーザーIDの参照にのみ使うこと。
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

// ClaimsJSON はアクセストークンのクレーム全体をJSONで返す。
// データベース直結モードで request.jwt.claims に設定するために使う。
func ClaimsJSON(token string) ([]byte, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode claims: %w", err)
	}
	return b, nil
}

// tokenExpiry はアクセストークンの exp クレームを返す。取得できない場合はゼロ値。
func tokenExpiry(token string) time.Time {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
