package orchestrator

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSuperseded は後から開始された読み込みに置き換えられたことを表す。
	ErrSuperseded = errors.New("orchestrator: load superseded by a newer request")
	// ErrPageClosed はページが閉じられた後の読み込みを表す。
	ErrPageClosed = errors.New("orchestrator: page closed")
)

// PageState はページの表示状態。
type PageState[T any] struct {
	Value      T
	Err        error
	Loading    bool
	Loaded     bool
	Generation uint64
}

// Page はページ単位の表示状態を世代番号付きで保持する。
// 最後に開始された読み込みだけが状態を更新でき、古い読み込みの結果は破棄される。
type Page[T any] struct {
	mu     sync.Mutex
	gen    uint64
	state  PageState[T]
	cancel context.CancelFunc
	closed bool
}

// NewPage は空のページを生成する。
func NewPage[T any]() *Page[T] {
	return &Page[T]{}
}

// Load は進行中の読み込みをキャンセルし、fn で新しい読み込みを行う。
// 結果は、この読み込みが最新のままの場合のみ状態に反映される。
func (p *Page[T]) Load(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPageClosed
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	loadCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state.Loading = true
	p.state.Generation = gen
	p.mu.Unlock()

	v, err := fn(loadCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	cancel()
	if p.closed {
		return zero, ErrPageClosed
	}
	if p.gen != gen {
		return zero, ErrSuperseded
	}
	p.cancel = nil
	p.state = PageState[T]{Value: v, Err: err, Loaded: true, Generation: gen}
	return v, err
}

// State は現在の表示状態を返す。
func (p *Page[T]) State() PageState[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close は進行中の読み込みをキャンセルし、以降の結果を破棄する。ページからの離脱に相当する。
func (p *Page[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
