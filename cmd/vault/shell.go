package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"sessionvault/internal/i18n"
)

const shellPrompt = "vault> "

// lineSource is the part of *readline.Instance the shell loop reads from.
type lineSource interface {
	Readline() (string, error)
}

// scriptLines feeds the shell from a plain reader (pipes, tests, terminals
// readline cannot drive). A nil echo prints no prompt.
type scriptLines struct {
	sc   *bufio.Scanner
	echo io.Writer
}

func newScriptLines(in io.Reader, echo io.Writer) *scriptLines {
	return &scriptLines{sc: bufio.NewScanner(in), echo: echo}
}

func (s *scriptLines) Readline() (string, error) {
	if s.echo != nil {
		fmt.Fprint(s.echo, shellPrompt)
	}
	if s.sc.Scan() {
		return strings.TrimRight(s.sc.Text(), "\r"), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// openShellInput 打开带历史与补全的行编辑器，失败时退回普通 stdin
// openShellInput opens a line editor with history and completion. When the
// terminal cannot host one, it warns on errOut and falls back to stdin.
func (a *app) openShellInput(errOut io.Writer) (lineSource, func()) {
	history := a.historyPath()
	if err := os.MkdirAll(filepath.Dir(history), 0o755); err != nil {
		history = ""
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            shellPrompt,
		HistoryFile:       history,
		HistorySearchFold: true,
		AutoComplete:      shellCompleter(),
	})
	if err != nil {
		fmt.Fprintf(errOut, "line editor unavailable, fallback to basic input: %v\n", err)
		return newScriptLines(os.Stdin, os.Stdout), func() {}
	}
	return rl, func() { _ = rl.Close() }
}

func shellCompleter() readline.AutoCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, c := range shellCommands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

// shell 交互模式：与命令行共用 exec
func (a *app) shell(ctx context.Context, input lineSource, out, errOut io.Writer) error {
	fmt.Fprintln(out, titleStyle.Render(i18n.T("shell.welcome")))
	printCommands(out)

	for ctx.Err() == nil {
		line, err := input.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			// Ctrl-C 只清空当前行 / Ctrl-C abandons the current line only
			fmt.Fprintln(out)
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out, mutedStyle.Render(i18n.T("shell.bye")))
			return nil
		case err != nil:
			return fmt.Errorf("read input: %w", err)
		}

		name, args, ok := parseShellLine(line)
		if !ok {
			continue
		}
		if name == "exit" || name == "quit" {
			fmt.Fprintln(out, mutedStyle.Render(i18n.T("shell.bye")))
			return nil
		}
		if err := a.exec(ctx, out, name, args); err != nil {
			fmt.Fprintln(errOut, errorStyle.Render(err.Error()))
		}
	}
	return nil
}

// parseShellLine splits a shell line into command and arguments; "#" starts a comment.
func parseShellLine(line string) (name string, args []string, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
