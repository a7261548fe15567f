package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `autoprogress advances workflow instances whose step conditions are met.

Usage:
  autoprogress <command> [flags] [args]

Commands:
  migrate    create or upgrade the database
  validate   validate a workflow definition file
  define     register a workflow definition file
  start      start a workflow for a record
  cancel     cancel a workflow instance
  appetite   add or list risk appetites
  eval       evaluate an expression against JSON attributes
  check      check a JSON record against its workflow instance
  diagram    draw a workflow or instance as ASCII or Mermaid
  sweep      re-check in-progress instances once or on a cron schedule
  mcp        serve the MCP tools over stdio
  version    print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	cfg := loadConfig()

	var err error
	switch cmd {
	case "migrate":
		err = runMigrate(ctx, cfg, rest, stdout)
	case "validate":
		err = runValidate(ctx, cfg, rest, stdout)
	case "define":
		err = runDefine(ctx, cfg, rest, stdout)
	case "start":
		err = runStart(ctx, cfg, rest, stdout)
	case "cancel":
		err = runCancel(ctx, cfg, rest, stdout)
	case "appetite":
		err = runAppetite(ctx, cfg, rest, stdout)
	case "eval":
		err = runEval(ctx, cfg, rest, stdin, stdout)
	case "check":
		err = runCheck(ctx, cfg, rest, stdin, stdout)
	case "sweep":
		err = runSweep(ctx, cfg, rest, stdout)
	case "diagram":
		err = runDiagram(ctx, cfg, rest, stdout)
	case "mcp":
		err = runMCP(ctx, cfg, rest, stdout)
	case "version", "--version", "-v":
		printVersion(stdout)
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprint(stderr, usage)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}
