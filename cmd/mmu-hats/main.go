package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/withObsrvr/mmu-to-hats/internal/config"
	"github.com/withObsrvr/mmu-to-hats/internal/logging"
	"github.com/withObsrvr/mmu-to-hats/internal/metrics"
)

// Set at build time with -ldflags "-X main.Version=... -X main.GitSHA=...".
var (
	Version = "dev"
	GitSHA  = "unknown"
)

// Exit statuses.
const (
	exitOK    = 0
	exitFail  = 1 // verification failed or a partition failed
	exitUsage = 2 // bad arguments, bad configuration, unreadable input
)

const usage = `usage: mmu-hats <command> [flags] [args]

commands:
  catalogs                      list the catalogs with a converter
  schema <catalog>              print a catalog's declared columns
  convert -catalog <name> ...   convert record partitions to parquet tables
  verify <reference> <candidate>
                                compare two parquet tables
  conform -catalog <name> <table>
                                check a table against a catalog declaration

Run "mmu-hats <command> -h" for the flags of a command.
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	if cfg.Metrics.Address != "" {
		metrics.Init("mmu_hats")
		go func() {
			log.Printf("[main] metrics listening on %s", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[main] metrics server stopped: %v", err)
			}
		}()
	}

	os.Exit(run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit status.
func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "catalogs":
		return runCatalogs(stdout, stderr)
	case "schema":
		return runSchema(rest, stdout, stderr)
	case "convert":
		return runConvert(ctx, cfg, rest, stdout, stderr)
	case "verify":
		return runVerify(ctx, cfg, rest, stdout, stderr)
	case "conform":
		return runConform(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "mmu-hats %s (%s)\n", Version, GitSHA)
		return exitOK
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	fmt.Fprintf(stderr, "mmu-hats: unknown command %q\n\n%s", cmd, usage)
	return exitUsage
}
