package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	commands "github.com/urfave/cli/v3"

	"github.com/st3v3nmw/faultline/internal/cli"
	"github.com/st3v3nmw/faultline/internal/config"
)

func main() {
	cmd := &commands.Command{
		Name:  "faultline",
		Usage: "Inject faults into a BFT consensus cluster",
		Flags: []commands.Flag{
			&commands.StringFlag{
				Name:  "config",
				Usage: "Path to the run configuration",
				Value: config.Path,
			},
			&commands.StringFlag{
				Name:  "nodes",
				Usage: "Comma-separated node names, overriding the config",
			},
			&commands.StringFlag{
				Name:  "clones",
				Usage: "Nodes sharing another node's key, as clone=original,...",
			},
			&commands.StringFlag{
				Name:  "mode",
				Usage: "Attack mode for duplicated validators: regular or super",
			},
			&commands.StringFlag{
				Name:  "seed",
				Usage: "Seed for every random choice",
			},
		},
		Commands: []*commands.Command{
			{
				Name:      "init",
				Usage:     "Write a default faultline.yaml",
				ArgsUsage: "[path]",
				Action:    cli.InitConfig,
			},
			{
				Name:      "run",
				Usage:     "Run the workload under a fault profile",
				ArgsUsage: "[profile]",
				Flags: []commands.Flag{
					&commands.BoolFlag{
						Name:    "verbose",
						Usage:   "Log debug output",
						Aliases: []string{"v"},
						Value:   false,
					},
					&commands.DurationFlag{
						Name:  "time-limit",
						Usage: "How long to run the workload",
					},
				},
				Action: cli.RunProfile,
			},
			{
				Name:   "profiles",
				Usage:  "Show available fault profiles",
				Action: cli.ListProfiles,
			},
			{
				Name:   "weights",
				Usage:  "Show the voting weight of every identity",
				Action: cli.ShowWeights,
			},
			{
				Name:      "grudge",
				Usage:     "Sample partitions from a grudge strategy",
				ArgsUsage: "<halves|peekaboo|split>",
				Flags: []commands.Flag{
					&commands.IntFlag{
						Name:  "samples",
						Usage: "Number of grudges to print",
						Value: 1,
					},
				},
				Action: cli.ShowGrudge,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
