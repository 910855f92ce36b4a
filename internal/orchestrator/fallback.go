package orchestrator

import (
	"context"
)

// Outcome はフォールバック付き処理の結果。
// Degraded が true の場合、Value はフォールバックの値で Cause に元の失敗が入る。
type Outcome[T any] struct {
	Value    T
	Degraded bool
	Cause    error
}

// WithFallback は op で fn を実行し、失敗または期限切れの場合は fallback の値を返す。
// 呼び出し元のコンテキストが終了した場合はフォールバックせずにそのエラーを返す。
func WithFallback[T any](
	ctx context.Context,
	o *Orchestrator,
	op Op,
	fn func(ctx context.Context) (T, error),
	fallback func(cause error) T,
) (Outcome[T], error) {
	v, err := Do(ctx, o, op, fn)
	if err == nil {
		return Outcome[T]{Value: v}, nil
	}
	if ctx.Err() != nil {
		return Outcome[T]{}, ctx.Err()
	}
	return Outcome[T]{Value: fallback(err), Degraded: true, Cause: err}, nil
}
