package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/session"
)

const (
	shellPrompt            = "recipeshare> "
	sessionRefreshInterval = 30 * time.Second
	operationMetricName    = "recipeshare_operation_duration_seconds"
)

var errUnterminatedQuote = errors.New("引用符が閉じられていません")

func (c *cli) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "セッションを保持したまま対話的にコマンドを実行する",
		Long: "1つのセッションストアを共有して対話的にコマンドを実行する。\n" +
			"Ctrl-C で実行中のコマンドを中断し、exit または quit で終了する。\n" +
			"stats でゲートウェイ操作の所要時間を表示する。",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.in == nil {
				return errors.New("shell requires an input stream")
			}
			cfg, err := Init(c.errOut)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			ct, err := NewContainer(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer ct.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)

			return newShell(c, ct).run(ctx, c.in, sigCh)
		},
	}
}

// syncWriter は購読コールバックとコマンド出力の書き込みを直列化する。
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// shell は1つの Container を共有してコマンドを順に実行する対話セッション。
// 実行中のコマンドは Page 上で読み込まれ、中断や終了でキャンセルされる。
type shell struct {
	parent *cli
	ct     *Container
	out    io.Writer
	page   *orchestrator.Page[struct{}]
}

func newShell(parent *cli, ct *Container) *shell {
	return &shell{
		parent: parent,
		ct:     ct,
		out:    &syncWriter{w: parent.out},
		page:   orchestrator.NewPage[struct{}](),
	}
}

func (s *shell) run(ctx context.Context, in io.Reader, interrupts <-chan os.Signal) error {
	defer s.page.Close()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ct.Gateway.Auth.AutoRefresh(ctx, sessionRefreshInterval)
	}()

	unsubscribe := s.watchSession()
	defer unsubscribe()

	lines := readLines(ctx, in)

	var (
		running   chan error
		cancelRun context.CancelFunc
	)
	finish := func() {
		running = nil
		if cancelRun != nil {
			cancelRun()
			cancelRun = nil
		}
	}

	fmt.Fprint(s.out, shellPrompt)
	for {
		// 実行中は次の行を読まず、入力順にコマンドを実行する
		next := lines
		if running != nil {
			next = nil
		}

		select {
		case <-ctx.Done():
			return nil

		case <-interrupts:
			if running == nil {
				fmt.Fprintln(s.out)
				return nil
			}
			cancelRun()
			fmt.Fprintln(s.out, "中断しました。")

		case err := <-running:
			finish()
			s.report(err)
			fmt.Fprint(s.out, shellPrompt)

		case line, ok := <-next:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			args, err := splitArgs(line)
			if err != nil {
				fmt.Fprintln(s.out, FormatError(err))
				fmt.Fprint(s.out, shellPrompt)
				continue
			}
			if len(args) == 0 {
				fmt.Fprint(s.out, shellPrompt)
				continue
			}
			switch args[0] {
			case "exit", "quit":
				return nil
			case "stats":
				if err := s.renderStats(); err != nil {
					fmt.Fprintln(s.out, FormatError(err))
				}
				fmt.Fprint(s.out, shellPrompt)
				continue
			}

			var runCtx context.Context
			runCtx, cancelRun = context.WithCancel(ctx)
			running = s.start(runCtx, args)
		}
	}
}

// start はコマンドをページ上で非同期に実行し、結果を返すチャネルを返す。
func (s *shell) start(ctx context.Context, args []string) chan error {
	done := make(chan error, 1)
	go func() {
		_, err := s.page.Load(ctx, func(ctx context.Context) (struct{}, error) {
			sub := &cli{out: s.out, errOut: s.parent.errOut, shared: s.ct}
			root := sub.rootCommand()
			root.SetArgs(args)
			return struct{}{}, root.ExecuteContext(ctx)
		})
		done <- err
	}()
	return done
}

func (s *shell) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrSuperseded), errors.Is(err, orchestrator.ErrPageClosed):
	case errors.Is(err, context.Canceled):
	default:
		fmt.Fprintln(s.out, FormatError(err))
	}
}

// watchSession はサインイン状態が変わったときに通知を表示する。
func (s *shell) watchSession() func() {
	var (
		mu   sync.Mutex
		last = userID(s.ct.Store.Snapshot())
	)
	return s.ct.Store.Subscribe(func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		id := userID(snap)
		if id == last {
			return
		}
		last = id
		if snap.SignedIn() {
			fmt.Fprintf(s.out, "\n[%s としてサインインしています]\n", snap.Profile.DisplayName())
			return
		}
		fmt.Fprintln(s.out, "\n[サインアウトしました]")
	})
}

func userID(snap session.Snapshot) string {
	if snap.Identity == nil {
		return ""
	}
	return snap.Identity.ID
}

// readLines は in から1行ずつ読み込んで送るチャネルを返す。入力の終端で閉じる。
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// renderStats はゲートウェイ操作ごとの回数と平均所要時間を表示する。
func (s *shell) renderStats() error {
	families, err := s.ct.Registry.Gather()
	if err != nil {
		return err
	}

	type row struct {
		op, kind, outcome string
		count             uint64
		mean              time.Duration
	}
	var rows []row
	for _, mf := range families {
		if mf.GetName() != operationMetricName {
			continue
		}
		for _, m := range mf.GetMetric() {
			h := m.GetHistogram()
			r := row{
				op:      metricLabel(m, "operation"),
				kind:    metricLabel(m, "kind"),
				outcome: metricLabel(m, "outcome"),
				count:   h.GetSampleCount(),
			}
			if r.count > 0 {
				r.mean = time.Duration(math.Round(h.GetSampleSum() / float64(r.count) * float64(time.Second)))
			}
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(s.out, "まだゲートウェイ操作は実行されていません。")
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].op != rows[j].op {
			return rows[i].op < rows[j].op
		}
		return rows[i].outcome < rows[j].outcome
	})

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "操作\t種別\t結果\t回数\t平均")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.op, r.kind, r.outcome, r.count, r.mean)
	}
	return tw.Flush()
}

func metricLabel(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// splitArgs はシェル風に行を引数へ分割する。
// 空白区切りで、シングル・ダブルクォートとバックスラッシュによるエスケープを扱う。
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == quote:
				quote = 0
			case r == '\\' && quote == '"':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped, inArg = true, true
		case r == '"' || r == '\'':
			quote, inArg = r, true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 || escaped {
		return nil, errUnterminatedQuote
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
