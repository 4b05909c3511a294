// X1-Crucible: in-process SVM program test harness.
//
// Crucible executes declarative scenarios: it seeds an account store,
// registers programs, runs an instruction chain through the execution
// engine and evaluates checks against the result. Exit status reflects the
// check outcome, so scenarios slot directly into CI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Crucible/pkg/accounts"
	"github.com/fortiblox/X1-Crucible/pkg/checks"
	"github.com/fortiblox/X1-Crucible/pkg/config"
	"github.com/fortiblox/X1-Crucible/pkg/journal"
	"github.com/fortiblox/X1-Crucible/pkg/svm"
)

var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	app := &cli.App{
		Name:    "crucible",
		Usage:   "in-process SVM program test harness",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "klog verbosity level",
				Action: func(_ *cli.Context, value string) error {
					return klogFlags.Set("v", value)
				},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
			journalCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a scenario file and evaluate its checks",
		ArgsUsage: "<scenario.toml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "harness configuration TOML (compute budget, balance authorities, signers, journal)",
			},
			&cli.Uint64Flag{
				Name:  "compute-unit-limit",
				Usage: "per-execution compute budget (0 = engine default, overrides the config file)",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "record the result in the bbolt journal at `PATH` (overrides the config file)",
			},
			&cli.BoolFlag{
				Name:  "dump",
				Usage: "print the serialized execution result",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one scenario file")
	}

	sc, err := loadScenario(c.Args().First())
	if err != nil {
		return err
	}

	store, err := sc.buildStore()
	if err != nil {
		return err
	}
	reg, err := sc.buildRegistry()
	if err != nil {
		return err
	}
	ixs, err := sc.buildInstructions()
	if err != nil {
		return err
	}
	checkList, err := sc.buildChecks()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	opts, err := cfg.ProcessorOpts()
	if err != nil {
		return err
	}
	if limit := c.Uint64("compute-unit-limit"); limit != 0 {
		opts.ComputeUnitLimit = limit
	}

	proc := svm.NewProcessor(reg, opts)
	result, err := svm.NewChain(proc).Execute(ixs, store)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	fmt.Printf("%s: %s, %d compute units, %d instructions\n",
		sc.Name, result.Status, result.ComputeUnits, len(result.Steps))
	for _, line := range result.Logs {
		fmt.Printf("  %s\n", line)
	}

	if c.Bool("dump") {
		payload, err := result.Marshal()
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	}

	journalPath := c.String("journal")
	if journalPath == "" {
		journalPath = cfg.JournalPath
	}
	if journalPath != "" {
		j, err := journal.Open(journalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		entry, err := j.Record(sc.Name, &result.ExecutionResult)
		if err != nil {
			return err
		}
		fmt.Printf("journaled as %s seq %d digest %s\n", sc.Name, entry.Seq, entry.Digest)
	}

	report := checks.Evaluate(checkList, &result.ExecutionResult)
	fmt.Println(report)
	if !report.OK() {
		return cli.Exit("scenario checks failed", 1)
	}
	return nil
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the accounts of a fixture file",
		ArgsUsage: "<fixture>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one fixture file")
			}
			fixture, err := accounts.ReadFixture(c.Args().First())
			if err != nil {
				return err
			}
			for pk, acc := range fixture {
				fmt.Printf("%s: %d lamports, owner %s, %d bytes, executable=%v\n",
					pk, acc.Lamports, acc.Owner, len(acc.Data), acc.Executable)
			}
			fmt.Printf("%d accounts\n", len(fixture))
			return nil
		},
	}
}

func journalCommand() *cli.Command {
	return &cli.Command{
		Name:      "journal",
		Usage:     "list journaled results",
		ArgsUsage: "<journal.db> [scenario]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("expected a journal file")
			}
			j, err := journal.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer j.Close()

			if c.NArg() >= 2 {
				entries, err := j.List(c.Args().Get(1))
				if err != nil {
					return err
				}
				for _, entry := range entries {
					fmt.Printf("seq %d digest %s\n%s\n", entry.Seq, entry.Digest, entry.Result)
				}
				return nil
			}

			names, err := j.Scenarios()
			if err != nil {
				return err
			}
			for _, name := range names {
				entries, err := j.List(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d entries\n", name, len(entries))
			}
			return nil
		},
	}
}
