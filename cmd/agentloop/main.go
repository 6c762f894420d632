// Command agentloop runs one or more goals through the agent runtime.
//
//	agentloop -config agentloop.yaml -goal "Find the title of https://example.com"
//	echo "Summarize https://example.com" | agentloop
//
// Several -goal flags run as concurrent sub-goals whose answers are merged.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hupe1980/agentloop"
	"github.com/hupe1980/agentloop/config"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/flow"
)

type goalList []string

func (g *goalList) String() string { return strings.Join(*g, "; ") }

func (g *goalList) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty goal")
	}
	*g = append(*g, v)
	return nil
}

func main() {
	var (
		goals      goalList
		configPath = flag.String("config", "", "path to a YAML config file")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall run timeout")
		asJSON     = flag.Bool("json", false, "print the result as JSON")
		verbose    = flag.Bool("v", false, "print every recorded step")
	)
	flag.Var(&goals, "goal", "goal to pursue (repeatable)")
	flag.Parse()

	if len(goals) == 0 {
		g, err := readGoal(os.Stdin)
		if err != nil {
			log.Fatalf("read goal: %v", err)
		}
		goals = append(goals, g)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	rt, err := agentloop.NewFromConfig(ctx, cfg, func(o *agentloop.SetupOptions) {
		if *verbose {
			o.Observer = core.ObserverFunc(printStep)
		}
	})
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	res, runErr := rt.Run(ctx, goals...)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Printf("encode result: %v", err)
		}
	} else {
		printResult(res)
	}
	if runErr != nil {
		log.Printf("run: %v", runErr)
		rt.Close()
		os.Exit(1)
	}
}

func readGoal(r io.Reader) (string, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	g := strings.TrimSpace(string(data))
	if g == "" {
		return "", fmt.Errorf("no goal given: use -goal or pipe one on stdin")
	}
	return g, nil
}

func printStep(e core.Event) {
	switch e.Type {
	case core.EventStepRecorded:
		fmt.Fprintf(os.Stderr, "[%s] step %d %s -> %s\n", short(e.LoopID), e.Step.Index, core.DescribeAction(e.Step.Action), e.Step.Outcome)
	case core.EventStatusChanged:
		if e.To.Terminal() {
			fmt.Fprintf(os.Stderr, "[%s] %s %s\n", short(e.LoopID), e.To, e.Reason)
		}
	}
}

func printResult(res flow.Result) {
	fmt.Printf("=== %s ===\n", res.Status)
	if res.Answer != "" {
		fmt.Println(res.Answer)
	}
	for _, l := range res.Failed() {
		fmt.Printf("\n%s: %s (%s) %s\n", l.Goal, l.Status, l.Reason, l.Diagnostic)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
