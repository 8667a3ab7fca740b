package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// File reads (UI)
	"read.not_found": "File not found: %s",
	"read.denied":    "Access denied: %s is not a known session file",
	"read.too_large": "File is too large to open (limit %d MiB)",
	"read.not_text":  "File is not a text file: %s",
	"read.failed":    "Could not read file: %s",

	// Scan
	"scan.started":    "Scanning session sources...",
	"scan.done":       "Scan complete: %d sessions (%d new, %d changed, %d unchanged) in %s",
	"scan.failed":     "Scan failed: %s",
	"scan.missing":    "%d sessions no longer found on disk",
	"scan.no_sources": "No session sources are enabled",

	// Listing
	"list.empty":  "No sessions stored yet. Run `vault scan` first.",
	"list.header": "%d sessions",
	"list.total":  "Total: %d",

	// Search
	"search.empty":    "No sessions match %q",
	"search.keyword":  "Semantic search unavailable, using keyword search",
	"search.embedded": "Embedded %d sessions",

	// Prune
	"prune.confirm": "This deletes %d sessions marked missing. Re-run with --yes to confirm.",
	"prune.done":    "Pruned %d sessions",
	"prune.none":    "No sessions are marked missing",

	// Server
	"server.listening": "Listening on http://%s",
	"server.stopped":   "Server stopped",

	// Shell
	"shell.welcome": "Session vault shell. Type `help` for commands, `exit` to quit.",
	"shell.unknown": "Unknown command: %s",
	"shell.usage":   "Usage: %s",
	"shell.bye":     "Bye",

	// Commands
	"cmd.scan":   "Scan sources and update the index",
	"cmd.list":   "List stored sessions",
	"cmd.read":   "Print a session file through the access gate",
	"cmd.search": "Search sessions by title or meaning",
	"cmd.prune":  "Delete sessions marked missing",
	"cmd.serve":  "Run the HTTP API",
	"cmd.shell":  "Interactive shell",
	"cmd.help":   "Show available commands",
	"cmd.exit":   "Exit the shell",
	"cmd.init":   "Write a project config file",
	"cmd.status": "Show session counts and recent sync activity",

	// Status
	"status.sources": "Sessions by source",
	"status.log":     "Recent sync activity",
	"init.done":      "Config written to %s",

	// Errors
	"error.config": "Configuration error: %s",
	"error.store":  "Store error: %s",
}
