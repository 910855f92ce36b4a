package app

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var errPasswordRequired = errors.New("パスワードを --password で指定してください")

// passwordOrPrompt はフラグで指定されたパスワードを返す。
// 未指定の場合、端末ならエコーなしで、それ以外は1行読み込む。
func (c *cli) passwordOrPrompt(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if c.in == nil {
		return "", errPasswordRequired
	}

	fmt.Fprint(c.errOut, "パスワード: ")
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", errPasswordRequired
	}
	return strings.TrimRight(line, "\r\n"), nil
}
