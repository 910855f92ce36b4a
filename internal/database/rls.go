package database

import (
	"context"
	"database/sql"
	"fmt"
)

// 行レベルセキュリティで使うデータベースロール
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
)

// anonClaims は未ログイン時に設定するクレーム。
const anonClaims = `{"role":"anon"}`

// WithClaims はトランザクション内でJWTクレームとロールを設定してから fn を実行する。
// claims が空の場合は anon ロールで実行する。
// ゲートウェイのREST APIと同じ行レベルセキュリティポリシーが適用される。
func WithClaims(ctx context.Context, db *sql.DB, claims []byte, fn func(tx *sql.Tx) error) error {
	role := RoleAuthenticated
	claimsJSON := string(claims)
	if claimsJSON == "" {
		role = RoleAnon
		claimsJSON = anonClaims
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('request.jwt.claims', $1, true), set_config('role', $2, true)`,
		claimsJSON, role,
	); err != nil {
		return fmt.Errorf("failed to set request claims: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
