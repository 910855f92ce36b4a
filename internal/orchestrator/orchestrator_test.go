package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gate はテスト用のセッションゲート。
type gate struct {
	resolved chan struct{}
}

func newGate() *gate { return &gate{resolved: make(chan struct{})} }

func (g *gate) WaitResolved(ctx context.Context) error {
	select {
	case <-g.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveOperation(name, kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, name+"/"+kind+"/"+outcome)
}

func newTestOrchestrator(g SessionGate, opts Options) (*Orchestrator, *[]time.Duration) {
	o := New(g, opts)
	var mu sync.Mutex
	var sleeps []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return o, &sleeps
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{10, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.failures); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestDo_RequireSession_WaitsForResolution(t *testing.T) {
	g := newGate()
	o, _ := newTestOrchestrator(g, Options{})

	var started atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), o, Op{Name: "like.state", RequireSession: true},
			func(ctx context.Context) (int, error) {
				started.Store(true)
				return 1, nil
			})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if started.Load() {
		t.Fatal("operation started before the session was resolved")
	}
	close(g.resolved)
	if err := <-done; err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if !started.Load() {
		t.Error("operation should run once the session is resolved")
	}
}

func TestDo_RequireSession_CancelledWhileWaiting(t *testing.T) {
	o, _ := newTestOrchestrator(newGate(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Do(ctx, o, Op{Name: "x", RequireSession: true}, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("operation must not start while suspended")
	}
}

func TestDo_WriteTimeout_ReturnsTimedOut(t *testing.T) {
	obs := &recordingObserver{}
	o, _ := newTestOrchestrator(nil, Options{WriteTimeout: 20 * time.Millisecond, Observer: obs})

	_, err := Do(context.Background(), o, Op{Name: "recipe.create", Kind: KindWrite},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Do() error = %v, want ErrTimedOut", err)
	}
	if got := model.ToAPIError(err).Code; got != model.ErrCodeTimedOut {
		t.Errorf("API error code = %q, want %q", got, model.ErrCodeTimedOut)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "recipe.create/write/timeout" {
		t.Errorf("observed = %v", obs.outcomes)
	}
}

func TestDo_TimeoutEvenWhenFnIgnoresContext(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Do(context.Background(), o, Op{Name: "slow", Kind: KindWrite, Timeout: 20 * time.Millisecond},
		func(context.Context) (int, error) {
			<-release
			return 0, nil
		})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Do() error = %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() returned after %v, want the deadline to bound it", elapsed)
	}
}

func TestDo_CallerCancellationIsNotTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, o, Op{Name: "x", Kind: KindWrite}, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimedOut) {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func transientErr() error {
	return &gateway.Error{Scope: gateway.ScopeREST, Status: http.StatusServiceUnavailable}
}

func TestDo_Read_RetriesTransientFailures(t *testing.T) {
	o, sleeps := newTestOrchestrator(nil, Options{})

	calls := 0
	v, err := Do(context.Background(), o, Op{Name: "recipes.list", Kind: KindRead},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", transientErr()
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("Do() = %q after %d calls, want ok after 3", v, calls)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestDo_Read_GivesUpAfterAttempts(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	calls := 0
	_, err := Do(context.Background(), o, Op{Name: "x", Kind: KindRead}, func(context.Context) (int, error) {
		calls++
		return 0, transientErr()
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Read_DoesNotRetryPermanentFailures(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	calls := 0
	_, err := Do(context.Background(), o, Op{Name: "x", Kind: KindRead}, func(context.Context) (int, error) {
		calls++
		return 0, &gateway.Error{Scope: gateway.ScopeREST, Status: http.StatusForbidden, Code: "42501"}
	})
	if err == nil || calls != 1 {
		t.Errorf("Do() = %v after %d calls, want one failed call", err, calls)
	}
}

func TestDo_Write_NeverRetries(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	calls := 0
	_, err := Do(context.Background(), o, Op{Name: "x", Kind: KindWrite}, func(context.Context) (int, error) {
		calls++
		return 0, transientErr()
	})
	if err == nil || calls != 1 {
		t.Errorf("Do() = %v after %d calls, want one failed call", err, calls)
	}
}

func TestDo_Read_SingleFlight(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	release := make(chan struct{})
	var calls atomic.Int32

	const n = 5
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), o, Op{Name: "recipe.detail", Kind: KindRead, Key: "recipe:r1"},
				func(context.Context) (int, error) {
					calls.Add(1)
					<-release
					return 42, nil
				})
			if err != nil {
				t.Errorf("Do() error: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 shared call", got)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("results[%d] = %d, want 42", i, v)
		}
	}
}

func TestWithFallback(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})

	out, err := WithFallback(context.Background(), o, Op{Name: "upload", Kind: KindUpload},
		func(context.Context) (string, error) { return "", errors.New("bucket missing") },
		func(cause error) string { return model.PlaceholderImageURL },
	)
	if err != nil {
		t.Fatalf("WithFallback() error: %v", err)
	}
	if !out.Degraded || out.Value != model.PlaceholderImageURL || out.Cause == nil {
		t.Errorf("WithFallback() = %+v, want degraded placeholder", out)
	}

	out, err = WithFallback(context.Background(), o, Op{Name: "upload", Kind: KindUpload},
		func(context.Context) (string, error) { return "https://cdn/x.png", nil },
		func(error) string { t.Error("fallback must not run on success"); return "" },
	)
	if err != nil || out.Degraded || out.Value != "https://cdn/x.png" {
		t.Errorf("WithFallback() = %+v, %v", out, err)
	}
}

func TestWithFallback_CallerCancelled(t *testing.T) {
	o, _ := newTestOrchestrator(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithFallback(ctx, o, Op{Name: "upload", Kind: KindUpload},
		func(ctx context.Context) (string, error) { return "", ctx.Err() },
		func(error) string { return model.PlaceholderImageURL },
	)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WithFallback() error = %v, want context.Canceled", err)
	}
}
