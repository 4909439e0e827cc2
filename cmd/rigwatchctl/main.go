// rigwatchctl is the admin CLI for rigwatchd.
//
// Without arguments on a terminal it starts an interactive shell;
// otherwise it runs one command and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/xtxerr/rigwatch/internal/client"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	addr := flag.String("addr", envOr("RIGWATCH_ADDR", client.DefaultConfig().Addr), "daemon base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	jsonOut := flag.Bool("json", false, "print raw JSON instead of tables")
	flag.Usage = usage
	flag.Parse()

	cli := &CLI{
		client: client.New(&client.Config{
			Addr:           *addr,
			RequestTimeout: *timeout,
		}),
		out:  os.Stdout,
		json: *jsonOut,
	}

	args := flag.Args()
	if len(args) == 0 {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			usage()
			os.Exit(2)
		}
		runShell(cli)
		return
	}

	if err := cli.Exec(context.Background(), args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "rigwatchctl %s\n\nUsage: rigwatchctl [flags] <command> [args]\n\nCommands:\n", Version)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-48s %s\n", c.usage, c.help)
	}
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
