package orchestrator

import (
	"context"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
)

const (
	// defaultAttempts は読み取りの最大試行回数（初回を含む）。
	defaultAttempts = 3
	// defaultInitialBackoff は指数バックオフの初回遅延（200ミリ秒）。
	defaultInitialBackoff = 200 * time.Millisecond
	// defaultMaxBackoff は指数バックオフの最大遅延（2秒）。
	defaultMaxBackoff = 2 * time.Second
)

// RetryPolicy は読み取り処理のリトライ方針。書き込みは再試行しない。
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy は初回200ms、2倍ずつ増加、最大2秒、計3回のリトライ方針を返す。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: defaultAttempts,
		Initial:  defaultInitialBackoff,
		Max:      defaultMaxBackoff,
	}
}

// NoRetry は再試行しないリトライ方針を返す。
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

// Backoff は失敗回数に基づいて次の試行までの遅延を計算する。
func (p RetryPolicy) Backoff(failures int) time.Duration {
	delay := p.Initial
	if delay <= 0 {
		return 0
	}
	for i := 1; i < failures; i++ {
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// Retryable は再試行で回復しうるエラーかどうかを返す。
// ネットワークエラー、429、5xx が対象。
func Retryable(err error) bool {
	return gateway.IsTransient(err)
}

// sleepContext は d だけ待機する。コンテキストが先に終了した場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
