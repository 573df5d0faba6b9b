// rfistat is the command line client for the rfistat server.
//
// With no arguments it starts an interactive shell (when stdin is a
// terminal). A single command can also be given directly:
//
//	rfistat -server http://localhost:8465 query 1700000000000 1700003600000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/rfistat/internal/client"
	"github.com/xtxerr/rfistat/internal/wire"
)

// Version is set at build time via ldflags
var Version = "dev"

var commands = []prompt.Suggest{
	{Text: "ingest", Description: "ingest <agent> <channel> <timestamp_ms> <value>"},
	{Text: "query", Description: "query <start_ms> <end_ms> [agent] [channel]"},
	{Text: "archive", Description: "trigger an archive pass"},
	{Text: "stats", Description: "show server statistics"},
	{Text: "help", Description: "list commands"},
	{Text: "exit", Description: "leave the shell"},
}

type shell struct {
	client *client.Client
}

func main() {
	serverURL := flag.String("server", "http://localhost:8465", "rfistat server URL")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	sh := &shell{
		client: client.New(*serverURL, client.WithTimeout(*timeout)),
	}

	// A command on the command line runs once and exits.
	if args := flag.Args(); len(args) > 0 {
		if err := sh.run(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "no command given and stdin is not a terminal")
		os.Exit(1)
	}

	fmt.Printf("rfistat %s (server %s)\n", Version, *serverURL)
	prompt.New(
		sh.execute,
		completer,
		prompt.OptionPrefix("rfistat> "),
		prompt.OptionTitle("rfistat"),
	).Run()
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

// execute handles one interactive shell line.
func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	if args[0] == "exit" || args[0] == "quit" {
		os.Exit(0)
	}
	if err := s.run(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
}

// run dispatches a single command.
func (s *shell) run(args []string) error {
	ctx := context.Background()

	switch args[0] {
	case "ingest":
		return s.ingest(ctx, args[1:])
	case "query":
		return s.query(ctx, args[1:])
	case "archive":
		return s.archive(ctx)
	case "stats":
		return s.stats(ctx)
	case "help":
		for _, c := range commands {
			fmt.Printf("  %-8s %s\n", c.Text, c.Description)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func (s *shell) ingest(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: ingest <agent> <channel> <timestamp_ms> <value>")
	}

	channel, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	ts, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp_ms: %w", err)
	}
	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	results, err := s.client.Ingest(ctx, []wire.Record{{
		AgentID:     args[0],
		Channel:     int32(channel),
		TimestampMs: ts,
		Value:       value,
	}})
	if err != nil {
		return err
	}

	for _, res := range results {
		fmt.Printf("%s/%d@%d  %s (%s)\n", res.AgentID, res.Channel, res.TimestampMs, res.Status, res.Reason)
	}
	return nil
}

func (s *shell) query(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: query <start_ms> <end_ms> [agent] [channel]")
	}

	startMs, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("start_ms: %w", err)
	}
	endMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("end_ms: %w", err)
	}

	params := client.QueryParams{StartMs: startMs, EndMs: endMs}
	if len(args) > 2 {
		params.AgentID = args[2]
	}
	if len(args) > 3 {
		ch, err := strconv.ParseInt(args[3], 10, 32)
		if err != nil {
			return fmt.Errorf("channel: %w", err)
		}
		ch32 := int32(ch)
		params.Channel = &ch32
	}

	records, err := s.client.Query(ctx, params)
	if err != nil {
		return err
	}

	for _, r := range records {
		ts := time.UnixMilli(r.TimestampMs).UTC().Format(time.RFC3339)
		fmt.Printf("%-24s %-16s ch %-5d %.4f", ts, r.AgentID, r.Channel, r.Value)
		if len(r.Metadata) > 0 {
			meta, _ := json.Marshal(r.Metadata)
			fmt.Printf("  %s", meta)
		}
		fmt.Println()
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}

func (s *shell) archive(ctx context.Context) error {
	out, err := s.client.RunArchive(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("windows archived: %d, records archived: %d, records reclaimed: %d\n",
		out.WindowsArchived, out.RecordsArchived, out.RecordsReclaimed)
	return nil
}

func (s *shell) stats(ctx context.Context) error {
	raw, err := s.client.Stats(ctx)
	if err != nil {
		return err
	}

	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
