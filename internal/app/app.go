// Package app はコマンドラインのエントリーポイントと依存関係の組み立てを提供する。
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashaatefac/Recipe-Sharing/internal/config"
	"github.com/hashaatefac/Recipe-Sharing/internal/logger"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// ログは w に出力する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。利用者向けの出力は w に、ログは標準エラー出力に書く。
// ただし serve コマンドはログを w に書く。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w, os.Stderr, os.Stdin)
	root.SetArgs(args)
	return root.Execute()
}

// FormatError はコマンドのエラーを利用者向けの文言に整形する。
func FormatError(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return fmt.Sprintf("エラー: %s\n%s", apiErr.Message, apiErr.Action)
		}
		return "エラー: " + apiErr.Message
	}
	return "エラー: " + err.Error()
}
