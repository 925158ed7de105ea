package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hidim/TunnelPanda/internal/config"
	"github.com/hidim/TunnelPanda/internal/logging"
	"github.com/hidim/TunnelPanda/internal/probe"
	"github.com/hidim/TunnelPanda/internal/probecli"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitCanceled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitFailure)
	}

	cmd := os.Args[1]
	deps := probecli.Dependencies{Logger: logging.New()}
	var err error

	switch cmd {
	case "run":
		err = probecli.Run(ctx, os.Args[2:], deps)
	case "headers":
		err = probecli.Headers(ctx, os.Args[2:], deps)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitFailure)
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		}
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status. Configuration
// bugs get their own code so wrappers can tell them from endpoint failures.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, probe.ErrCanceled):
		return exitCanceled
	case errors.Is(err, config.ErrInvalid), errors.Is(err, probe.ErrInvalidURI):
		return exitConfig
	default:
		return exitFailure
	}
}

func printUsage() {
	fmt.Println("wsprobe: WebSocket connectivity probe")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  wsprobe run [--config path] [--url wss://host/path] [--insecure] [--ca-file pem]")
	fmt.Println("              [--report file] [--metrics-file file] [--message-type t] [--message-data d]")
	fmt.Println("              [--first-reply-timeout 5s] [--listen-timeout 2s] [--allow-plaintext]")
	fmt.Println("  wsprobe headers [--config path]")
	fmt.Println()
	fmt.Println("Exit status: 0 ok, 1 probe failure, 2 configuration error, 130 canceled")
}
