package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// cli はコマンドツリーが共有する入出力と依存関係を保持する。
type cli struct {
	out    io.Writer
	errOut io.Writer
	in     io.Reader

	// shared は shell 実行中のみ設定され、全コマンドで同じ Container を使う。
	shared *Container
}

// NewRootCommand はコマンドツリーを構築する。
// out には利用者向けの出力、errOut にはログとエラーを書く。
func NewRootCommand(out, errOut io.Writer, in io.Reader) *cobra.Command {
	c := &cli{out: out, errOut: errOut, in: in}
	return c.rootCommand()
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "recipeshare",
		Short:         "レシピ共有アプリのクライアントと画像プロキシサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	if c.in != nil {
		root.SetIn(c.in)
	}

	root.AddCommand(
		c.signUpCommand(),
		c.signInCommand(),
		c.signOutCommand(),
		c.whoAmICommand(),
		c.profileCommand(),
		c.recipesCommand(),
		c.dashboardCommand(),
		c.commentsCommand(),
		c.commentCommand(),
		c.likeCommand(),
	)
	if c.shared == nil {
		root.AddCommand(
			c.serveCommand(),
			c.migrateCommand(),
			c.healthcheckCommand(),
			c.shellCommand(),
		)
	}
	return root
}

// withContainer は Container を用意して fn を実行する。
// クライアントコマンドのログは利用者向け出力と混ざらないよう errOut に書く。
func (c *cli) withContainer(cmd *cobra.Command, fn func(ctx context.Context, ct *Container) error) error {
	ctx := cmd.Context()
	if c.shared != nil {
		return fn(ctx, c.shared)
	}

	cfg, err := Init(c.errOut)
	if err != nil {
		return err
	}
	ct, err := NewContainer(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer ct.Close()
	return fn(ctx, ct)
}

func (c *cli) signUpCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "アカウントを作成する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := c.passwordOrPrompt(password)
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				res, err := ct.Accounts.SignUp(ctx, email, pw)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, res.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&password, "password", "", "パスワード（省略時は入力を求める）")
	return cmd
}

func (c *cli) signInCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "サインインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := c.passwordOrPrompt(password)
			if err != nil {
				return err
			}
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				ident, err := ct.Accounts.SignIn(ctx, email, pw)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "サインインしました: %s\n", ident.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	cmd.Flags().StringVar(&password, "password", "", "パスワード（省略時は入力を求める）")
	return cmd
}

func (c *cli) signOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "サインアウトする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				if err := ct.Accounts.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "サインアウトしました。")
				return nil
			})
		},
	}
}

func (c *cli) whoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "ログイン中のユーザーを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withContainer(cmd, func(ctx context.Context, ct *Container) error {
				who, err := ct.Accounts.WhoAmI(ctx)
				if err != nil {
					return err
				}
				renderWhoAmI(c.out, who)
				return nil
			})
		},
	}
}
