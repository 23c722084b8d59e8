package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hamed0406/statusgrid/internal/aggregator"
	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/probe"
	"github.com/hamed0406/statusgrid/internal/registry"
	"github.com/hamed0406/statusgrid/internal/repo/memory"
)

const (
	exitOK      = 0
	exitOffline = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("statusgrid-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	regFile := fs.String("registry", os.Getenv("REGISTRY_FILE"), "endpoint registry YAML (default: built-in list)")
	timeout := fs.Duration("timeout", probe.DefaultTimeout, "per-probe timeout, 0 for none")
	envName := fs.String("env", "", "only show one environment (Prod or Stage)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	errorBody := fs.Bool("error-body", false, "include the body of non-2xx responses")
	verbose := fs.BoolP("verbose", "v", false, "log each probe to stderr")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	reg, err := registry.Load(*regFile)
	if err != nil {
		fmt.Fprintln(stderr, "registry:", err)
		return exitConfig
	}
	var only domain.Environment
	if *envName != "" {
		if only, err = domain.ParseEnvironment(*envName); err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfig
		}
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	checker, err := probe.NewHTTPChecker(probe.WithTimeout(*timeout), probe.WithErrorBody(*errorBody))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	agg, err := aggregator.New(logger, reg.Endpoints(), checker, memory.New())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if _, err := agg.RefreshAll(ctx); err != nil {
		fmt.Fprintln(stderr, "refresh:", err)
		return exitOffline
	}
	snap, err := agg.Snapshot(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitOffline
	}

	envs := domain.Environments
	if only != "" {
		envs = []domain.Environment{only}
	}
	groups := domain.Partition(snap.Endpoints, snap.Results)

	if *asJSON {
		out := map[string]any{"summary": snap.Summary}
		for _, env := range envs {
			out[strings.ToLower(string(env))] = groups[env]
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(stderr, err)
			return exitConfig
		}
	} else {
		printGrid(stdout, envs, groups, snap.Summary)
	}

	for _, env := range envs {
		if c := snap.Summary.For(env); c.Online < c.Total {
			return exitOffline
		}
	}
	return exitOK
}

func printGrid(w io.Writer, envs []domain.Environment, groups map[domain.Environment][]domain.Result, sum domain.Summary) {
	fmt.Fprintf(w, "Online: %d/%d\n", sum.All.Online, sum.All.Total)
	for _, env := range envs {
		c := sum.For(env)
		fmt.Fprintf(w, "\n%s (%d/%d)\n", env, c.Online, c.Total)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTATUS\tTIME\tCHECKED\tMESSAGE")
		for _, r := range groups[env] {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, label(r.Status), millis(r), checked(r), firstLine(r.MessageText()))
		}
		tw.Flush()
	}
}

func label(s domain.Status) string {
	switch s {
	case domain.StatusSuccess:
		return "Online"
	case domain.StatusFailure:
		return "Offline"
	}
	return "Checking..."
}

func millis(r domain.Result) string {
	if r.ResponseTimeMS == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *r.ResponseTimeMS)
}

func checked(r domain.Result) string {
	if r.CheckedAt == nil {
		return "-"
	}
	return r.CheckedAt.Local().Format(time.TimeOnly)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
