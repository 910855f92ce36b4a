// Package orchestrator はゲートウェイ呼び出しの共通パターンを提供する。
// セッション解決待ち、タイムアウト、読み取りのリトライと重複排除、
// 添付ファイルのフォールバック、ページ単位の世代管理を含む。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// Kind は処理の種類。種類ごとに既定のタイムアウトとリトライ可否が決まる。
type Kind int

const (
	// KindRead は読み取り。一時的な失敗は再試行する。
	KindRead Kind = iota
	// KindWrite は書き込み。再試行しない。
	KindWrite
	// KindUpload は画像アップロード。再試行しない。
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

const (
	defaultReadTimeout   = 10 * time.Second
	defaultWriteTimeout  = 5 * time.Second
	defaultUploadTimeout = 10 * time.Second
)

// ErrTimedOut は処理が期限内に完了しなかったことを表す。
// 書き込みの場合、結果は不明なため呼び出し側で再取得して状態を確認する。
var ErrTimedOut = errors.New("orchestrator: timed out")

// TimeoutError は期限切れになった処理の情報を保持する。
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// Is は errors.Is(err, ErrTimedOut) を満たす。
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

// APIError は利用者向けのエラーに変換する。
func (e *TimeoutError) APIError() *model.APIError {
	return model.NewTimedOutError()
}

// SessionGate はセッション解決を待つ。session.Store が実装する。
type SessionGate interface {
	WaitResolved(ctx context.Context) error
}

// Observer は処理の結果を記録する。metrics.Collector が実装する。
type Observer interface {
	ObserveOperation(name, kind, outcome string, d time.Duration)
}

// Op は1回の処理の実行方針。
type Op struct {
	// Name はログとメトリクスに使う処理名。
	Name string
	Kind Kind
	// RequireSession が true の場合、セッション解決まで開始を待つ。
	RequireSession bool
	// Key が空でない読み取りは、同じキーの同時実行を1回にまとめる。
	Key string
	// Timeout が0の場合は種類ごとの既定値を使う。
	Timeout time.Duration
}

// Options は Orchestrator の設定。
type Options struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	UploadTimeout time.Duration
	Retry         RetryPolicy
	Observer      Observer
	Logger        *slog.Logger
}

// Orchestrator はゲートウェイ呼び出しを実行する。
type Orchestrator struct {
	gate  SessionGate
	opts  Options
	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error
}

// New は Orchestrator を生成する。gate が nil の場合はセッション解決を待たない。
func New(gate SessionGate, opts Options) *Orchestrator {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{gate: gate, opts: opts, sleep: sleepContext}
}

// WaitSession はセッション解決を待つ。ログイン中ユーザーを参照する前に呼ぶ。
func (o *Orchestrator) WaitSession(ctx context.Context) error {
	if o.gate == nil {
		return nil
	}
	return o.gate.WaitResolved(ctx)
}

func (o *Orchestrator) timeoutFor(op Op) time.Duration {
	if op.Timeout > 0 {
		return op.Timeout
	}
	switch op.Kind {
	case KindWrite:
		return o.opts.WriteTimeout
	case KindUpload:
		return o.opts.UploadTimeout
	default:
		return o.opts.ReadTimeout
	}
}

// Do は op の方針に従って fn を実行する。
//   - RequireSession の場合、セッション解決まで待ってから開始する
//   - 全体を期限で打ち切り、期限切れは *TimeoutError を返す
//   - 読み取りは一時的な失敗を指数バックオフで再試行する
//   - Key を持つ読み取りは同時実行を1回にまとめる
func Do[T any](ctx context.Context, o *Orchestrator, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if op.RequireSession && o.gate != nil {
		if err := o.gate.WaitResolved(ctx); err != nil {
			return zero, err
		}
	}

	start := time.Now()
	var (
		v   T
		err error
	)
	if op.Kind == KindRead && op.Key != "" {
		v, err = doShared(ctx, o, op, fn)
	} else {
		v, err = runBounded(ctx, o, op, fn)
	}
	o.observe(op, err, time.Since(start))
	return v, err
}

// doShared は同じキーの読み取りを1回の実行にまとめる。
// 共有される実行は最初の呼び出し元のキャンセルに影響されず、期限のみで打ち切られる。
func doShared[T any](ctx context.Context, o *Orchestrator, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	shared := context.WithoutCancel(ctx)

	ch := o.group.DoChan(op.Key, func() (any, error) {
		return runBounded(shared, o, op, fn)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

type result[T any] struct {
	v   T
	err error
}

// runBounded は期限付きで fn を実行する。読み取りの場合は再試行する。
// fn がコンテキストを無視しても、期限が来た時点で呼び出し元に制御を返す。
func runBounded[T any](ctx context.Context, o *Orchestrator, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	timeout := o.timeoutFor(op)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := attempt(opCtx, o, op, fn)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{Op: op.Name, After: timeout}
		}
		return res.v, res.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op.Name, After: timeout}
	}
}

func attempt[T any](ctx context.Context, o *Orchestrator, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := 1
	if op.Kind == KindRead {
		attempts = o.opts.Retry.Attempts
	}

	var (
		v   T
		err error
	)
	for i := 1; ; i++ {
		v, err = fn(ctx)
		if err == nil || i >= attempts || !Retryable(err) {
			return v, err
		}
		delay := o.opts.Retry.Backoff(i)
		o.opts.Logger.Debug("retrying read",
			slog.String("op", op.Name),
			slog.Int("attempt", i),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if serr := o.sleep(ctx, delay); serr != nil {
			return v, err
		}
	}
}

func (o *Orchestrator) observe(op Op, err error, d time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimedOut):
		outcome = "timeout"
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	if err != nil && outcome != "canceled" {
		o.opts.Logger.Warn("operation failed",
			slog.String("op", op.Name),
			slog.String("kind", op.Kind.String()),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
	}
	if o.opts.Observer != nil {
		o.opts.Observer.ObserveOperation(op.Name, op.Kind.String(), outcome, d)
	}
}
