package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/basket/taskhive/internal/config"
	"github.com/basket/taskhive/internal/tui"
)

func runTopCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhive top")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	client := tui.NewClient(baseURLFor(cfg.Gateway.BindAddr), cfg.Gateway.AuthToken)

	// Without a TTY print one snapshot and exit, so `taskhive top` stays
	// usable in scripts and cron.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		snap := client.Snapshot()
		if !snap.Healthy {
			fmt.Fprintf(os.Stderr, "gateway unreachable: %s\n", snap.LastError)
			return 1
		}
		fmt.Printf("agents: %d (%d available)\ntasks: %d pending / %d retrying / %d running / %d completed / %d failed\nsubscribers: %d\n",
			snap.AgentsTotal, snap.AgentsAvailable,
			snap.TasksPending, snap.TasksRetrying, snap.TasksRunning,
			snap.TasksCompleted, snap.TasksFailed,
			snap.Subscribers)
		return 0
	}

	if err := tui.Run(ctx, client.Snapshot); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		return 1
	}
	return 0
}

// baseURLFor derives the gateway base URL from a bind address or URL.
func baseURLFor(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = "127.0.0.1:18990"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr
}
