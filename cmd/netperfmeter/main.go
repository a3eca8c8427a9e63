// SPDX-License-Identifier: GPL-3.0-or-later

// Command netperfmeter is the CLI entry point: netperfmeter <port|endpoint>
// [options...], per spec.md §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tiger-yu99/netperfmeter/config"
	"github.com/tiger-yu99/netperfmeter/internal/logging"
	"github.com/tiger-yu99/netperfmeter/node"
)

var (
	logPath  string
	logLevel string
	scenario string
)

// root returns the root cobra command. Flag parsing is disabled because
// the flow-spec token grammar (`-tcp`, `const1000`, `onoff=0:1000`) is not
// expressible as cobra/pflag flags; `-scenario`/`-log`/`-loglevel` are
// pulled out of args by hand before the rest is handed to config.ParseArgs.
func root() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "netperfmeter <port|endpoint> [options...]",
		Short:              "Measures throughput between two peers over four transports",
		Args:               cobra.MinimumNArgs(1),
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableFlagParsing: true,
		RunE:               runE,
	}
	return cmd
}

func runE(cmd *cobra.Command, rawArgs []string) error {
	args, err := extractGlobalFlags(rawArgs)
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{Path: logPath, Level: logLevel})
	defer log.Sync()

	var cfg *config.RunConfig
	if scenario != "" {
		cfg, err = config.LoadScenario(scenario)
	} else {
		cfg, err = config.ParseArgs(args)
	}
	if err != nil {
		return err
	}

	ecfg := node.EngineConfig{
		Active:     cfg.Active,
		DataPort:   cfg.Port,
		RemoteAddr: cfg.Endpoint,
		Flows:      cfg.FlowRequests(),
		Runtime:    node.Micros(int64(cfg.Runtime) * 1e6),
		MaxMsgSize: cfg.MaxMsgSize,
		VectorPath: cfg.VectorPath,
		ScalarPath: cfg.ScalarPath,
	}
	eng := node.NewEngine(log, ecfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sc
		fmt.Fprintf(os.Stderr, "%s, stopping\n", s)
		cancel()
		s = <-sc
		fmt.Fprintf(os.Stderr, "%s, exiting forcibly\n", s)
		os.Exit(1)
	}()

	return eng.Run(ctx)
}

// extractGlobalFlags pulls `-scenario=`, `-log=` and `-loglevel=` out of
// args by hand, since flag parsing is disabled for the rest of the token
// stream, and returns the remaining tokens for config.ParseArgs.
func extractGlobalFlags(args []string) ([]string, error) {
	logLevel = "info"
	var rest []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "-scenario="):
			scenario = a[len("-scenario="):]
		case strings.HasPrefix(a, "-log="):
			logPath = a[len("-log="):]
		case strings.HasPrefix(a, "-loglevel="):
			logLevel = a[len("-loglevel="):]
		default:
			rest = append(rest, a)
		}
	}
	if scenario != "" {
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, fmt.Errorf("missing port or endpoint argument")
	}
	return rest, nil
}

// main executes the netperfmeter command, exiting 1 on any CLI or setup
// error per spec.md §6.
func main() {
	if err := root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}
