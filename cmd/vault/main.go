package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"sessionvault/internal/config"
	"sessionvault/internal/i18n"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliCommands 只在命令行可用 / Commands that only make sense outside the shell
var cliCommands = []command{
	{name: "init", usage: "init [--yaml]", help: "cmd.init"},
	{name: "serve", usage: "serve", help: "cmd.serve"},
	{name: "shell", usage: "shell", help: "cmd.shell"},
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vault", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config JSON/JSONC/YAML")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: vault [-config path] <command> [args]")
		printCommands(stderr, cliCommands...)
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	name := "help"
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	switch name {
	case "help", "-h", "--help":
		i18n.Init(i18n.DetectLocale())
		printCommands(stdout, cliCommands...)
		return 0
	case "init":
		return runInit(rest, stdout, stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(err.Error()))
		return 1
	}
	defer a.Close()

	switch name {
	case "serve":
		err = a.serve(ctx, stdout)
	case "shell":
		input, closeInput := a.openShellInput(stderr)
		defer closeInput()
		err = a.shell(ctx, input, stdout, stderr)
	default:
		err = a.exec(ctx, stdout, name, rest)
	}
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(err.Error()))
		return 1
	}
	return 0
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init")
	asYAML := fs.Bool("yaml", false, "")
	if err := fs.Parse(args); err != nil || fs.NArg() > 1 {
		fmt.Fprintln(stderr, i18n.T("shell.usage", "init [--yaml] [dir]"))
		return 2
	}
	path, err := config.InitProjectConfigScaffold(fs.Arg(0), *asYAML)
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render(err.Error()))
		return 1
	}
	fmt.Fprintln(stdout, successStyle.Render(i18n.T("init.done", path)))
	return 0
}
