// Package cli implements the interactive operator console: bridge commands
// for status, saves and history, with every other line forwarded to the
// game server as a raw console command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/rconbridge/internal/db"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/rcon"
	"github.com/energizer-project/rconbridge/internal/reply"
	"github.com/energizer-project/rconbridge/internal/saves"
	"github.com/energizer-project/rconbridge/internal/server"
)

// Prompt is printed before each input line.
const Prompt = "rcon> "

// Commander executes RCON commands.
type Commander interface {
	Execute(ctx context.Context, command string) rcon.Result
	Reconnect(ctx context.Context) error
	Connected() bool
}

// Options wires the console. Orchestrator, History and EventBus may be nil.
type Options struct {
	Executor     Commander
	Orchestrator *server.Orchestrator
	Store        *saves.Store
	History      *db.History
	EventBus     *events.EventBus
}

// CLI provides an interactive command-line interface.
type CLI struct {
	opts Options
	in   *bufio.Reader
	out  io.Writer
}

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// NewCLI creates a console reading from in and writing to out.
func NewCLI(opts Options, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		opts: opts,
		in:   bufio.NewReader(in),
		out:  out,
	}
}

// Start runs the read loop until quit, end of input or ctx cancellation.
// Quitting emits EventShutdown.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nRCON console ready. Type 'help' for bridge commands; anything else is sent to the server.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go c.readLines(lines, done)

	for {
		fmt.Fprint(c.out, Prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(c.out)
			return
		}

		err := c.Execute(ctx, line)
		if errors.Is(err, errQuit) {
			c.shutdown(ctx)
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *CLI) readLines(lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	for {
		line, err := c.in.ReadString('\n')
		if line != "" || err == nil {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Execute handles one input line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return c.forward(ctx, line)
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "saves", "ls":
		return c.printSaves()
	case "load":
		return c.cmdLoad(ctx, args)
	case "history":
		return c.cmdHistory(args)
	case "time":
		return c.forward(ctx, rcon.CmdTime)
	case "players":
		return c.cmdPlayers(ctx)
	case "save":
		return c.forward(ctx, rcon.SaveCommand(strings.Join(args, " ")))
	case "speed":
		return c.cmdSpeed(ctx, args)
	case "pause":
		return c.forward(ctx, rcon.PauseCommand(true))
	case "resume", "unpause":
		return c.forward(ctx, rcon.PauseCommand(false))
	case "reconnect":
		return c.cmdReconnect(ctx)
	case "quit", "exit", "q":
		return errQuit
	default:
		return c.forward(ctx, line)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    RCON Console Commands                     ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show process state and connection        ║")
	fmt.Fprintln(c.out, "║  saves              List saves, newest first                 ║")
	fmt.Fprintln(c.out, "║  load <name>        Restart the server on a save             ║")
	fmt.Fprintln(c.out, "║  history [n]        Show recent commands and swaps           ║")
	fmt.Fprintln(c.out, "║  time | players     Query game time or online players        ║")
	fmt.Fprintln(c.out, "║  save [name]        Trigger a server-side save               ║")
	fmt.Fprintln(c.out, "║  speed <x>          Set game speed (0 < x <= 100)            ║")
	fmt.Fprintln(c.out, "║  pause | resume     Pause or resume the simulation           ║")
	fmt.Fprintln(c.out, "║  reconnect          Re-establish the RCON connection         ║")
	fmt.Fprintln(c.out, "║  quit               Leave the console                        ║")
	fmt.Fprintln(c.out, "║  <anything else>    Sent to the server verbatim              ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	fmt.Fprintln(c.out)
	if c.opts.Orchestrator != nil {
		snap := c.opts.Orchestrator.Snapshot()
		fmt.Fprintf(c.out, "  State:      %s\n", snap.State)
		if snap.Save != "" {
			fmt.Fprintf(c.out, "  Save:       %s\n", snap.Save)
		}
		fmt.Fprintf(c.out, "  Since:      %s\n", snap.ChangedAt.Format(time.RFC3339))
		fmt.Fprintf(c.out, "  Swapping:   %v\n", snap.Swapping)
	}
	fmt.Fprintf(c.out, "  Connected:  %v\n", c.opts.Executor.Connected())
	fmt.Fprintln(c.out)
}

func (c *CLI) printSaves() error {
	if c.opts.Store == nil {
		return fmt.Errorf("no save directory configured")
	}
	records, err := c.opts.Store.List()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	RenderSaves(c.out, records)
	fmt.Fprintln(c.out)
	return nil
}

// RenderSaves writes records as a table.
func RenderSaves(w io.Writer, records []saves.Record) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Name", "Size", "Modified"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		tw.Append([]string{
			r.Name,
			saves.FormatBytes(r.SizeBytes),
			r.ModifiedAt.Format("2006-01-02 15:04:05"),
		})
	}
	tw.Render()
}

func (c *CLI) cmdLoad(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: load <name>")
	}
	if c.opts.Orchestrator == nil {
		return fmt.Errorf("save loading is disabled: no server executable configured")
	}

	name := strings.Join(args, " ")
	fmt.Fprintf(c.out, "Loading save %q, the server will restart...\n", name)
	res, err := c.opts.Orchestrator.LoadSave(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Save %q loaded in %s (operation %s)\n", res.Save, res.Duration.Round(time.Millisecond), res.OperationID)
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.opts.History == nil {
		return fmt.Errorf("history is not available")
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	commands, err := c.opts.History.RecentCommands(limit)
	if err != nil {
		return err
	}
	swaps, err := c.opts.History.RecentSwaps(limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Command", "Status", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, e := range commands {
		status := e.Status
		if e.Kind != "" {
			status += " (" + e.Kind + ")"
		}
		tw.Append([]string{
			e.CreatedAt.Format("15:04:05"),
			e.Command,
			status,
			fmt.Sprintf("%dms", e.DurationMS),
		})
	}
	tw.Render()

	if len(swaps) > 0 {
		fmt.Fprintln(c.out)
		tw = tablewriter.NewWriter(c.out)
		tw.SetHeader([]string{"Started", "Save", "Result", "Duration"})
		tw.SetBorder(true)
		tw.SetAutoWrapText(false)
		for _, s := range swaps {
			result := "ok"
			if !s.Success {
				result = "failed: " + s.Error
			}
			tw.Append([]string{
				s.StartedAt.Format("2006-01-02 15:04:05"),
				s.Save,
				result,
				fmt.Sprintf("%dms", s.DurationMS),
			})
		}
		tw.Render()
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdSpeed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: speed <multiplier>")
	}
	speed, err := strconv.ParseFloat(args[0], 64)
	if err != nil || speed <= 0 || speed > 100 {
		return fmt.Errorf("speed must be a number greater than 0 and at most 100")
	}
	return c.forward(ctx, rcon.SpeedCommand(speed))
}

// cmdPlayers prints the player list as a table, or the raw reply when the
// server answers in an unknown format.
func (c *CLI) cmdPlayers(ctx context.Context) error {
	res := c.opts.Executor.Execute(ctx, rcon.CmdPlayers)
	if !res.OK() {
		return resultError(res)
	}

	list, err := reply.ParsePlayers(res.Message)
	if err != nil {
		fmt.Fprintln(c.out, res.Message)
		return nil
	}

	fmt.Fprintf(c.out, "%d player(s) online\n", list.Count)
	if len(list.Players) == 0 {
		return nil
	}
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Player", "Online"})
	tw.SetBorder(true)
	for _, p := range list.Players {
		tw.Append([]string{p.Name, strconv.FormatBool(p.Online)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdReconnect(ctx context.Context) error {
	if err := c.opts.Executor.Reconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Reconnected")
	return nil
}

// forward sends a command and prints the server's answer.
func (c *CLI) forward(ctx context.Context, command string) error {
	res := c.opts.Executor.Execute(ctx, command)
	if !res.OK() {
		return resultError(res)
	}
	if res.Message != "" {
		fmt.Fprintln(c.out, res.Message)
	}
	return nil
}

func resultError(res rcon.Result) error {
	if res.Details != "" {
		return fmt.Errorf("%s: %s", res.Message, res.Details)
	}
	return errors.New(res.Message)
}

func (c *CLI) shutdown(ctx context.Context) {
	fmt.Fprintln(c.out, "Bye.")
	if c.opts.EventBus == nil {
		return
	}
	c.opts.EventBus.EmitSync(ctx, events.Event{
		Type:   events.EventShutdown,
		Source: "cli",
	})
}
