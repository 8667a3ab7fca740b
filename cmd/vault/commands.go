package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"sessionvault/internal/i18n"
	"sessionvault/internal/scanner"
	"sessionvault/internal/security"
	"sessionvault/internal/storage"
)

type command struct {
	name  string
	usage string
	help  string // i18n key
}

// shellCommands 同时用于 help 输出与 readline 补全
var shellCommands = []command{
	{name: "scan", usage: "scan", help: "cmd.scan"},
	{name: "list", usage: "list [--source name] [--workspace name] [--limit n] [--missing]", help: "cmd.list"},
	{name: "read", usage: "read <path>", help: "cmd.read"},
	{name: "search", usage: "search [--limit n] <query>", help: "cmd.search"},
	{name: "status", usage: "status", help: "cmd.status"},
	{name: "prune", usage: "prune [--yes]", help: "cmd.prune"},
	{name: "help", usage: "help", help: "cmd.help"},
	{name: "exit", usage: "exit", help: "cmd.exit"},
}

var errUsage = errors.New("usage")

func printCommands(out io.Writer, extra ...command) {
	all := append(append([]command(nil), extra...), shellCommands...)
	for _, c := range all {
		fmt.Fprintf(out, "  %-62s %s\n", c.usage, mutedStyle.Render(i18n.T(c.help)))
	}
}

func usageOf(name string) string {
	for _, c := range shellCommands {
		if c.name == name {
			return c.usage
		}
	}
	return name
}

// exec runs one command against the wired app. It is shared by the CLI and
// the shell.
func (a *app) exec(ctx context.Context, out io.Writer, name string, args []string) error {
	var err error
	switch name {
	case "scan":
		err = a.cmdScan(ctx, out)
	case "list":
		err = a.cmdList(ctx, out, args)
	case "read":
		err = a.cmdRead(ctx, out, args)
	case "search":
		err = a.cmdSearch(ctx, out, args)
	case "status":
		err = a.cmdStatus(ctx, out)
	case "prune":
		err = a.cmdPrune(ctx, out, args)
	case "help":
		printCommands(out)
		return nil
	default:
		return fmt.Errorf("%s", i18n.T("shell.unknown", name))
	}
	if errors.Is(err, errUsage) {
		return fmt.Errorf("%s", i18n.T("shell.usage", usageOf(name)))
	}
	return err
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) cmdScan(ctx context.Context, out io.Writer) error {
	if a.sourceCount == 0 {
		fmt.Fprintln(out, warnStyle.Render(i18n.T("scan.no_sources")))
	}
	fmt.Fprintln(out, mutedStyle.Render(i18n.T("scan.started")))
	res, err := a.runner.Trigger(ctx)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("scan.failed", err.Error()))
	}
	printScanResult(out, res)

	if a.search.Semantic() {
		n, err := a.search.Index(ctx)
		if err != nil {
			a.logger.Warn("embedding index failed", "err", err)
		} else if n > 0 {
			fmt.Fprintln(out, mutedStyle.Render(i18n.T("search.embedded", n)))
		}
	}
	return nil
}

func printScanResult(out io.Writer, res scanner.Result) {
	st := res.Stats
	elapsed := time.Duration(st.DurationMS) * time.Millisecond
	fmt.Fprintln(out, successStyle.Render(i18n.T("scan.done", res.Total, st.New, st.Changed, st.Unchanged, elapsed)))
	if st.Missing > 0 {
		fmt.Fprintln(out, warnStyle.Render(i18n.T("scan.missing", st.Missing)))
	}
}

func (a *app) cmdList(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("list")
	source := fs.String("source", "", "")
	workspace := fs.String("workspace", "", "")
	limit := fs.Int("limit", 50, "")
	missing := fs.Bool("missing", false, "")
	if err := fs.Parse(args); err != nil || fs.NArg() > 0 {
		return errUsage
	}

	records, err := a.store.ListSessions(ctx, storage.ListOptions{
		Source:         *source,
		Workspace:      *workspace,
		Limit:          *limit,
		IncludeMissing: *missing,
	})
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	if len(records) == 0 {
		fmt.Fprintln(out, mutedStyle.Render(i18n.T("list.empty")))
		return nil
	}
	fmt.Fprintln(out, titleStyle.Render(i18n.T("list.header", len(records))))
	for _, rec := range records {
		printRecord(out, rec, "")
	}
	total, err := a.store.Count(ctx)
	if err == nil {
		fmt.Fprintln(out, mutedStyle.Render(i18n.T("list.total", total)))
	}
	return nil
}

func printRecord(out io.Writer, rec storage.Record, suffix string) {
	date := ""
	if rec.CreatedAt != nil {
		date = rec.CreatedAt.Local().Format("2006-01-02")
	}
	title := rec.Title
	if title == "" {
		title = mutedStyle.Render("(untitled)")
	}
	if rec.Missing {
		title = warnStyle.Render("[missing] ") + title
	}
	fmt.Fprintf(out, "%s%s%s%s%s\n",
		idColumn.Render(shortID(rec.ID)),
		sourceColumn.Render(rec.Source),
		dateColumn.Render(date),
		title,
		suffix)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// cmdRead 通过安全网关读取文件；先确保已知路径集合已由本进程的扫描填充
func (a *app) cmdRead(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	path := args[0]
	if _, ok := a.runner.Last(); !ok {
		if _, err := a.runner.Trigger(ctx); err != nil {
			return fmt.Errorf("%s", i18n.T("scan.failed", err.Error()))
		}
	}
	content, err := a.gate.ReadFile(path)
	switch {
	case err == nil:
		fmt.Fprint(out, content)
		if !strings.HasSuffix(content, "\n") {
			fmt.Fprintln(out)
		}
		return nil
	case errors.Is(err, security.ErrNotFound):
		return fmt.Errorf("%s", i18n.T("read.not_found", path))
	case errors.Is(err, security.ErrAccessDenied):
		return fmt.Errorf("%s", i18n.T("read.denied", path))
	case errors.Is(err, security.ErrTooLarge):
		return fmt.Errorf("%s", i18n.T("read.too_large", a.gate.MaxSize()>>20))
	case errors.Is(err, security.ErrNotText):
		return fmt.Errorf("%s", i18n.T("read.not_text", path))
	}
	a.logger.Error("read file failed", "err", err)
	return fmt.Errorf("%s", i18n.T("read.failed", path))
}

func (a *app) cmdSearch(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("search")
	limit := fs.Int("limit", 10, "")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errUsage
	}

	if a.search.Semantic() {
		if _, err := a.search.Index(ctx); err != nil {
			a.logger.Warn("embedding index failed", "err", err)
		}
	} else {
		fmt.Fprintln(out, mutedStyle.Render(i18n.T("search.keyword")))
	}
	hits, err := a.search.Search(ctx, query, *limit)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, mutedStyle.Render(i18n.T("search.empty", query)))
		return nil
	}
	for _, hit := range hits {
		suffix := ""
		if hit.Score > 0 {
			suffix = mutedStyle.Render(fmt.Sprintf("  %.3f", hit.Score))
		}
		printRecord(out, hit.Record, suffix)
	}
	return nil
}

func (a *app) cmdStatus(ctx context.Context, out io.Writer) error {
	counts, err := a.store.CountBySource(ctx)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	fmt.Fprintln(out, titleStyle.Render(i18n.T("status.sources")))
	for _, src := range sortedKeys(counts) {
		fmt.Fprintf(out, "  %s%d\n", sourceColumn.Render(src), counts[src])
	}

	entries, err := a.store.RecentSyncLog(ctx, 5)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	if len(entries) == 0 {
		return nil
	}
	fmt.Fprintln(out, titleStyle.Render(i18n.T("status.log")))
	for _, e := range entries {
		ts := time.UnixMilli(e.Timestamp).Local().Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "  %s  %-6s %s\n", mutedStyle.Render(ts), e.Action, e.Details)
	}
	return nil
}

func (a *app) cmdPrune(ctx context.Context, out io.Writer, args []string) error {
	fs := newFlagSet("prune")
	yes := fs.Bool("yes", false, "")
	if err := fs.Parse(args); err != nil || fs.NArg() > 0 {
		return errUsage
	}

	if !*yes {
		records, err := a.store.ListSessions(ctx, storage.ListOptions{IncludeMissing: true})
		if err != nil {
			return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
		}
		n := 0
		for _, rec := range records {
			if rec.Missing {
				n++
			}
		}
		if n == 0 {
			fmt.Fprintln(out, mutedStyle.Render(i18n.T("prune.none")))
			return nil
		}
		fmt.Fprintln(out, warnStyle.Render(i18n.T("prune.confirm", n)))
		return nil
	}

	ids, err := a.store.PruneMissing(ctx)
	if err != nil {
		return fmt.Errorf("%s", i18n.T("error.store", err.Error()))
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, mutedStyle.Render(i18n.T("prune.none")))
		return nil
	}
	if err := a.store.LogSync(ctx, "prune", strings.Join(ids, ",")); err != nil {
		a.logger.Warn("sync log write failed", "err", err)
	}
	fmt.Fprintln(out, successStyle.Render(i18n.T("prune.done", len(ids))))
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
