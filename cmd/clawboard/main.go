package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: clawboard <command> [flags]

DAEMON:
  clawboard daemon [-quiet]             Run the scheduler, cron and config watcher

SETUP:
  clawboard init                        Write default config.yaml and policy.yaml
  clawboard doctor [-json]              Run diagnostic checks

PROJECTS:
  clawboard project create -name N [-description D] [-notify CHAT_ID]
  clawboard project list [-json]
  clawboard project notify -project P -chat CHAT_ID
  clawboard agent add -project P -role ROLE [-name N] [-config JSON]
  clawboard agent config -project P -role ROLE -set JSON

WORK:
  clawboard meeting -project P -prompt TEXT [-thread T] [-auto-execute]
  clawboard execute -project P [-thread T]
  clawboard task add -project P -role ROLE -title T [-type TYPE] [-description D] [-workspace DIR] [-run]
  clawboard task run -task ID
  clawboard schedule add -project P -cron EXPR -prompt TEXT [-name N] [-auto-execute]
  clawboard schedule list [-json]

INSPECT:
  clawboard list tasks|decisions|actions|memos|threads|agents -project P [-status S] [-json]
  clawboard list artifacts -project P [-task T] [-json]
  clawboard list messages -thread T [-json]
  clawboard list jobs [-status S] [-json]
  clawboard events -project P [-after SEQ] [-limit N] [-json]

POLICY:
  clawboard policy allow-workspace DIR
  clawboard policy deny-tool ROLE|* TOOL

ENVIRONMENT VARIABLES:
  CLAWBOARD_HOME          Data directory (default: ~/.clawboard)
  OPENCLAW_BIN            Agent runtime binary (default: openclaw)
  TELEGRAM_TOKEN          Bot token for memo notifications
`)
}

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	rest := args[1:]
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, Version)
		return 0
	case "daemon", "-daemon":
		fs := newFlagSet("daemon", stderr)
		quiet := fs.Bool("quiet", false, "log to <home>/logs/system.jsonl only")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if fs.NArg() > 0 {
			fmt.Fprintln(stderr, "usage: clawboard daemon [-quiet]")
			return 2
		}
		return runDaemon(ctx, *quiet)
	case "init":
		return runInitCommand(rest, stdout, stderr)
	case "doctor":
		return runDoctorCommand(ctx, rest, stdout, stderr)
	case "project":
		return runProjectCommand(ctx, rest, stdout, stderr)
	case "agent":
		return runAgentCommand(ctx, rest, stdout, stderr)
	case "meeting":
		return runMeetingCommand(ctx, rest, stdout, stderr)
	case "execute":
		return runExecuteCommand(ctx, rest, stdout, stderr)
	case "task":
		return runTaskCommand(ctx, rest, stdout, stderr)
	case "schedule":
		return runScheduleCommand(ctx, rest, stdout, stderr)
	case "list":
		return runListCommand(ctx, rest, stdout, stderr)
	case "events":
		return runEventsCommand(ctx, rest, stdout, stderr)
	case "policy":
		return runPolicyCommand(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
