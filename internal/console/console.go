// Package console implements the admin console on standard input:
// stats, clients, pending <id>, tail <n>, help — a local mirror of a
// subset of the admin control-plane, grounded on the teacher's own
// process-stats reporting (server.go's collectMetrics, which reads
// github.com/shirou/gopsutil/v3's process/mem packages).
//
// Reads run in a daemon goroutine that is never Wait()-ed on at
// shutdown: stdin reads cannot be interrupted cooperatively in Go, and
// the teacher's own main.go shuts down the same way, joining only the
// listener/session goroutines it explicitly owns.
package console

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/helphub/relay/internal/router"
)

// Console reads verbs from stdin and writes human-readable reports to
// stdout.
type Console struct {
	router  *router.Router
	logPath string
	logger  zerolog.Logger
	out     io.Writer
}

// New builds a Console over r, tailing logPath for the "tail" verb.
func New(r *router.Router, logPath string, logger zerolog.Logger) *Console {
	return &Console{router: r, logPath: logPath, logger: logger.With().Str("component", "console").Logger(), out: os.Stdout}
}

// Run reads verbs from stdin until EOF. It is started as a daemon
// goroutine and is not expected to return during normal operation.
func (c *Console) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, arg, _ := strings.Cut(line, " ")
		c.dispatch(verb, arg)
	}
}

func (c *Console) dispatch(verb, arg string) {
	switch verb {
	case "stats":
		c.stats()
	case "clients":
		c.clients()
	case "pending":
		c.pending(arg)
	case "tail":
		c.tail(arg)
	case "help":
		c.help()
	default:
		fmt.Fprintf(c.out, "unknown command %q, try 'help'\n", verb)
	}
}

func (c *Console) stats() {
	pending, err := c.router.Queue().PendingCount()
	if err != nil {
		fmt.Fprintf(c.out, "error reading pending count: %v\n", err)
		return
	}
	total, err := c.router.Queue().TotalCount()
	if err != nil {
		fmt.Fprintf(c.out, "error reading total count: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "online clients: %d\n", c.router.OnlineCount())
	fmt.Fprintf(c.out, "pending records: %d\n", pending)
	fmt.Fprintf(c.out, "total records:   %d\n", total)

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			fmt.Fprintf(c.out, "rss:             %.1f MB\n", float64(memInfo.RSS)/1024/1024)
		}
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			fmt.Fprintf(c.out, "cpu:             %.1f%%\n", cpuPercent)
		}
	}
}

func (c *Console) clients() {
	clients := c.router.Snapshot()
	if len(clients) == 0 {
		fmt.Fprintln(c.out, "no clients connected")
		return
	}
	fmt.Fprintf(c.out, "%-24s %-6s %s\n", "CLIENT", "TYPE", "LAST SEEN (ms since epoch)")
	for _, cl := range clients {
		fmt.Fprintf(c.out, "%-24s %-6s %d\n", cl.ClientID, cl.Type, cl.LastSeen)
	}
}

func (c *Console) pending(identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		fmt.Fprintln(c.out, "usage: pending <identity>")
		return
	}
	entries, err := c.router.Queue().PendingEntriesFor(identity)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintf(c.out, "no pending records for %s\n", identity)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "[%d] from=%s body=%q\n", e.Priority, e.From, e.Body)
	}
}

// tail prints the last n lines of the log file (default 20), a simple
// bounded read rather than a following tail -f.
func (c *Console) tail(arg string) {
	n := 20
	if arg != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && parsed > 0 {
			n = parsed
		}
	}
	raw, err := os.ReadFile(c.logPath)
	if err != nil {
		fmt.Fprintf(c.out, "error reading %s: %v\n", c.logPath, err)
		return
	}
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Fprintln(c.out, string(line))
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, "commands: stats | clients | pending <id> | tail [n] | help")
}
