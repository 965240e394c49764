package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"visionlink/endpoint"
	"visionlink/protocol"
)

const consoleHelp = "commands: status, source <plain|processed>, toggle, record <start|stop>, signal switch-feed, endpoint <host:port>, quit"

// console reads operator commands line by line until EOF, "quit" or ctx ends.
func (c *client) console(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, consoleHelp)
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := c.exec(line, out); quit {
			fmt.Fprintln(out, "bye")
			return
		}
	}
}

// exec runs one console command. It reports whether the console should exit.
func (c *client) exec(line string, out io.Writer) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.ToLower(parts[1])
	}

	switch cmd {
	case "quit", "exit", "q":
		return true

	case "help", "?":
		fmt.Fprintln(out, consoleHelp)

	case "status":
		c.printStatus(out)

	case "source":
		src, err := protocol.ParseSource(arg)
		if err != nil {
			fmt.Fprintln(out, "usage: source <plain|processed>")
			return false
		}
		c.request.SetSource(src)
		fmt.Fprintf(out, "source: %s\n", src)

	case "toggle":
		fmt.Fprintf(out, "source: %s\n", c.request.Toggle())

	case "record":
		switch arg {
		case "start":
			if err := c.recorder.Start(); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				return false
			}
			if s, ok := c.recorder.Session(); ok {
				fmt.Fprintf(out, "recording %s\n", s.ID)
			}
		case "stop":
			c.recorder.Stop()
			fmt.Fprintf(out, "stopping, %d frames behind\n", c.recorder.Behind())
		default:
			fmt.Fprintln(out, "usage: record <start|stop>")
		}

	case "signal":
		if arg != "switch-feed" && arg != "switch_feed" {
			fmt.Fprintln(out, "usage: signal switch-feed")
			return false
		}
		c.request.SendSignal(protocol.SignalSwitchFeed)
		fmt.Fprintln(out, "sent", protocol.SignalSwitchFeed)

	case "endpoint":
		if len(parts) < 2 {
			fmt.Fprintf(out, "endpoint: %s\n", c.manager.Endpoint())
			return false
		}
		ep, err := endpoint.Parse(parts[1])
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		c.manager.SetEndpoint(ep)
		if err := c.store.Save(ep); err != nil {
			fmt.Fprintf(out, "warning: endpoint not saved: %v\n", err)
		}
		fmt.Fprintf(out, "endpoint: %s\n", ep)

	default:
		fmt.Fprintf(out, "unknown command: %s\n", cmd)
	}
	return false
}

func (c *client) printStatus(out io.Writer) {
	in, pending := c.manager.Pending()
	fmt.Fprintf(out, "endpoint:   %s\n", c.manager.Endpoint())
	fmt.Fprintf(out, "connection: %s (generation %d)\n", c.manager.State(), c.manager.Generation())
	fmt.Fprintf(out, "source:     %s\n", c.request.Source())
	fmt.Fprintf(out, "frames:     %d received, %d inbound, %d outbound queued\n", c.frames.Load(), in, pending)
	fmt.Fprintf(out, "recording:  %s, %d frames behind\n", c.recorder.State(), c.recorder.Behind())
}
