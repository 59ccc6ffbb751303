package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"github.com/jbw-sim/jbw/world"
)

const (
	defaultPromptPrefix = "jbw> "
	maxHistoryEntries   = 128
)

// console is a simple CLI backed admin surface that reads commands from an
// io.Reader (defaulting to os.Stdin) and executes them against a running
// Simulator: add/remove agents, inspect patches, and save snapshots.
type console struct {
	sim        *world.Simulator
	log        *slog.Logger
	reader     io.Reader
	history    []string
	snapshotAt string
}

// newConsole returns a console bound to sim, reading from os.Stdin.
func newConsole(sim *world.Simulator, log *slog.Logger, snapshotPath string) *console {
	if log == nil {
		log = slog.Default()
	}
	return &console{sim: sim, log: log, reader: os.Stdin, snapshotAt: snapshotPath}
}

// withReader overrides the input source, used in tests to avoid os.Stdin.
func (c *console) withReader(r io.Reader) *console {
	if r != nil {
		c.reader = r
	}
	return c
}

// run consumes commands until ctx is cancelled or the reader hits EOF.
func (c *console) run(ctx context.Context) {
	if c.reader != os.Stdin {
		c.runScanner(ctx)
		return
	}
	c.runInteractive(ctx)
}

func (c *console) runScanner(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.execute(line)
	}
}

func (c *console) runInteractive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := prompt.Input(defaultPromptPrefix, c.complete,
			prompt.OptionTitle("JBW Console"),
			prompt.OptionHistory(c.history),
			prompt.OptionPrefix(defaultPromptPrefix),
			prompt.OptionCompletionOnDown(),
			prompt.OptionMaxSuggestion(12),
		)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.execute(line)
	}
}

func (c *console) execute(line string) {
	c.history = append(c.history, line)
	if len(c.history) > maxHistoryEntries {
		c.history = c.history[len(c.history)-maxHistoryEntries:]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := consoleCommands[name]
	if !ok {
		fmt.Printf("unknown command %q; try 'help'\n", name)
		return
	}
	if err := cmd.run(c, args); err != nil {
		fmt.Println("error:", err)
	}
}

func (c *console) complete(doc prompt.Document) []prompt.Suggest {
	word := strings.TrimSpace(doc.GetWordBeforeCursor())
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	suggestions := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		suggestions = append(suggestions, prompt.Suggest{Text: name, Description: consoleCommands[name].usage})
	}
	return prompt.FilterHasPrefix(suggestions, word, true)
}

type consoleCommand struct {
	usage string
	run   func(c *console, args []string) error
}

var consoleCommands map[string]consoleCommand

func init() {
	consoleCommands = map[string]consoleCommand{
		"help": {"help", func(c *console, _ []string) error {
			names := make([]string, 0, len(consoleCommands))
			for name := range consoleCommands {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-14s %s\n", name, consoleCommands[name].usage)
			}
			return nil
		}},
		"add-agent": {"add-agent", func(c *console, _ []string) error {
			res, err := c.sim.AddAgent()
			if err != nil {
				return err
			}
			fmt.Printf("added agent %d at %s facing %s\n", res.AgentID, res.State.Position, res.State.Direction)
			return nil
		}},
		"remove-agent": {"remove-agent <id>", func(c *console, args []string) error {
			id, err := parseAgentID(args)
			if err != nil {
				return err
			}
			return c.sim.RemoveAgent(id)
		}},
		"move": {"move <id> <up|down|left|right> <steps>", func(c *console, args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("usage: move <id> <direction> <steps>")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			dir, err := parseDirection(args[1])
			if err != nil {
				return err
			}
			steps, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return err
			}
			return c.sim.Move(id, dir, steps)
		}},
		"turn": {"turn <id> <up|down|left|right>", func(c *console, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: turn <id> <direction>")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			dir, err := parseDirection(args[1])
			if err != nil {
				return err
			}
			return c.sim.Turn(id, dir)
		}},
		"status": {"status", func(c *console, _ []string) error {
			ids := c.sim.GetAgentIDs()
			fmt.Printf("tick=%d agents=%d patches=%d\n", c.sim.CurrentTick(), len(ids), c.sim.PatchCount())
			return nil
		}},
		"inspect-patch": {"inspect-patch <x> <y>", func(c *console, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: inspect-patch <x> <y>")
			}
			x, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			y, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			coord := world.PatchCoord{X: x, Y: y}
			patches := c.sim.GetMap(coord, coord, false, false)
			if len(patches) == 0 {
				fmt.Println("patch not yet generated")
				return nil
			}
			fmt.Printf("fixed=%v items=%d\n", patches[0].Fixed, len(patches[0].Items))
			return nil
		}},
		"save": {"save [path]", func(c *console, args []string) error {
			path := c.snapshotAt
			if len(args) > 0 {
				path = args[0]
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := c.sim.Save(f); err != nil {
				return err
			}
			fmt.Println("saved to", path)
			return nil
		}},
		"quit": {"quit", func(c *console, _ []string) error {
			os.Exit(0)
			return nil
		}},
	}
}

func parseAgentID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: <command> <id>")
	}
	return strconv.ParseInt(args[0], 10, 64)
}

func parseDirection(s string) (world.Direction, error) {
	switch strings.ToLower(s) {
	case "up":
		return world.Up, nil
	case "down":
		return world.Down, nil
	case "left":
		return world.Left, nil
	case "right":
		return world.Right, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", s)
	}
}
