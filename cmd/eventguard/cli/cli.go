// Package cli implements the eventguard operator commands. Every command
// writes to the configured streams and returns a process exit code.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/guard"
)

// Exit codes shared by all commands.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitUsage  = 2
	ExitDenied = 3
)

// CLI dispatches subcommands against an opened guard runtime.
type CLI struct {
	rt       *guard.Runtime
	enqueuer Enqueuer
	stdout   io.Writer
	stderr   io.Writer
}

// Option customises a CLI.
type Option func(*CLI)

// WithOutput redirects command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *CLI) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithEnqueuer enables the enqueue command.
func WithEnqueuer(e Enqueuer) Option {
	return func(c *CLI) {
		c.enqueuer = e
	}
}

// New constructs a CLI over rt.
func New(rt *guard.Runtime, opts ...Option) *CLI {
	c := &CLI{rt: rt, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type command struct {
	summary string
	run     func(c *CLI, ctx context.Context, args []string) int
}

var commands = map[string]command{
	"migrate":      {"apply pending schema migrations", (*CLI).migrate},
	"catalog":      {"print the loaded catalog", (*CLI).catalog},
	"sync-catalog": {"mirror the catalog into Postgres", (*CLI).syncCatalog},
	"create-event": {"register a new event", (*CLI).createEvent},
	"events":       {"list events", (*CLI).listEvents},
	"deactivate":   {"soft-delete an event", (*CLI).deactivate},
	"assign":       {"assign a role or grant a permission", (*CLI).assign},
	"revoke":       {"revoke a role or a direct permission", (*CLI).revoke},
	"roles":        {"show the roles and direct permissions of a subject", (*CLI).roles},
	"check":        {"resolve or check effective permissions", (*CLI).check},
	"enqueue":      {"enqueue a background job", (*CLI).enqueue},
}

// Run executes the subcommand named by args[0].
func (c *CLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		c.usage()
		if len(args) == 0 {
			return ExitUsage
		}
		return ExitOK
	}
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(c.stderr, "eventguard: unknown command %q\n", args[0])
		c.usage()
		return ExitUsage
	}
	return cmd.run(c, ctx, args[1:])
}

func (c *CLI) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	_, _ = fmt.Fprintln(c.stderr, "usage: eventguard <command> [flags]")
	_, _ = fmt.Fprintln(c.stderr, "commands:")
	for _, name := range names {
		_, _ = fmt.Fprintf(c.stderr, "  %-14s %s\n", name, commands[name].summary)
	}
}

func (c *CLI) flagSet(name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	jsonOut := fs.Bool("json", false, "write JSON output")
	return fs, jsonOut
}

func (c *CLI) parse(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK, false
		}
		return ExitUsage, false
	}
	return ExitOK, true
}

func (c *CLI) fail(cmd string, err error) int {
	_, _ = fmt.Fprintf(c.stderr, "%s: %v\n", cmd, err)
	return ExitError
}

func (c *CLI) usageError(cmd, msg string) int {
	_, _ = fmt.Fprintf(c.stderr, "%s: %s\n", cmd, msg)
	return ExitUsage
}

func (c *CLI) writeJSON(cmd string, v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(cmd, fmt.Errorf("encode json: %w", err))
	}
	return ExitOK
}

// resolveEvent accepts a numeric id or a slug.
func (c *CLI) resolveEvent(ctx context.Context, ref string, opts events.GetOptions) (events.Event, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return events.Event{}, errors.New("--event is required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return c.rt.Service.GetEvent(ctx, id, opts)
	}
	return c.rt.Service.GetEventBySlug(ctx, ref, opts)
}

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
