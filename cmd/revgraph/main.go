package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	revgraph "github.com/revgraph/revgraph"
	"github.com/revgraph/revgraph/internal/config"
	"github.com/revgraph/revgraph/internal/gitsource"
	"github.com/revgraph/revgraph/pkg/logging"
	"github.com/revgraph/revgraph/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "revgraph",
		Usage: "segment-based commit-graph index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "revgraph.yaml",
				Usage:   "path to the YAML config file",
			},
			&cli.Uint64Flag{
				Name:    "repo",
				Aliases: []string{"r"},
				Value:   1,
				Usage:   "repository id to operate on",
			},
		},
		Commands: []*cli.Command{
			indexCmd(),
			isAncestorCmd(),
			gcaCmd(),
			headsCmd(),
			resolveCmd(),
			cloneHintCmd(),
			currentCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func open(c *cli.Context) (*revgraph.RevGraph, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return revgraph.Open(revgraph.Config{
		Paths:         []string{cfg.DataDir},
		MinimumFreeGB: uint(cfg.MinimumFreeGB),
		Logger:        logging.New(level),
	})
}

func repoID(c *cli.Context) types.RepoID {
	return types.RepoID(c.Uint64("repo"))
}

func indexCmd() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Index the history of a local git repository",
		ArgsUsage: "<repository path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "ref",
				Usage: "revision to index from (default: HEAD)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}

			commits, err := gitsource.Stream(c.Args().First(), c.String("ref"))
			if err != nil {
				return err
			}

			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			rec, err := rg.Extend(context.Background(), repoID(c), toInput(commits))
			if err != nil {
				return err
			}

			reads, writes := rg.StoreCounters()
			color.Green("indexed %d commits as version %d (%d store reads, %d writes)",
				len(commits), rec.IdMapVersion, reads, writes)
			return nil
		},
	}
}

func toInput(commits []gitsource.Commit) []revgraph.Commit {
	out := make([]revgraph.Commit, len(commits))
	for i, c := range commits {
		out[i] = revgraph.Commit{Id: c.Id, Parents: c.Parents}
	}
	return out
}

func isAncestorCmd() *cli.Command {
	return &cli.Command{
		Name:      "is-ancestor",
		Usage:     "Check whether one commit is an ancestor of another",
		ArgsUsage: "<ancestor> <descendant>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.ShowSubcommandHelp(c)
			}
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			eng, err := rg.Query(repoID(c))
			if err != nil {
				return err
			}
			a, err := eng.ResolvePrefix(c.Args().Get(0))
			if err != nil {
				return err
			}
			b, err := eng.ResolvePrefix(c.Args().Get(1))
			if err != nil {
				return err
			}
			ok, err := eng.IsAncestor(a, b)
			if err != nil {
				return err
			}
			if ok {
				color.Green("%s is an ancestor of %s", short(a), short(b))
			} else {
				color.Red("%s is not an ancestor of %s", short(a), short(b))
			}
			return nil
		},
	}
}

func gcaCmd() *cli.Command {
	return &cli.Command{
		Name:      "gca",
		Usage:     "Greatest common ancestor(s) of two commits",
		ArgsUsage: "<commit> <commit>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.ShowSubcommandHelp(c)
			}
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			eng, err := rg.Query(repoID(c))
			if err != nil {
				return err
			}
			a, err := eng.ResolvePrefix(c.Args().Get(0))
			if err != nil {
				return err
			}
			b, err := eng.ResolvePrefix(c.Args().Get(1))
			if err != nil {
				return err
			}
			gcas, err := eng.CommonAncestors(a, b)
			if err != nil {
				return err
			}
			for _, g := range gcas {
				fmt.Println(g)
			}
			return nil
		},
	}
}

func headsCmd() *cli.Command {
	return &cli.Command{
		Name:      "heads",
		Usage:     "Filter commits down to those with no descendant in the set",
		ArgsUsage: "<commit>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.ShowSubcommandHelp(c)
			}
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			eng, err := rg.Query(repoID(c))
			if err != nil {
				return err
			}
			var set []types.ChangesetId
			for i := 0; i < c.NArg(); i++ {
				h, err := eng.ResolvePrefix(c.Args().Get(i))
				if err != nil {
					return err
				}
				set = append(set, h)
			}
			heads, err := eng.Heads(set)
			if err != nil {
				return err
			}
			for _, h := range heads {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func resolveCmd() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a hash prefix to the unique matching commit",
		ArgsUsage: "<prefix>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			eng, err := rg.Query(repoID(c))
			if err != nil {
				return err
			}
			h, err := eng.ResolvePrefix(c.Args().First())
			if err != nil {
				return err
			}
			unique, err := eng.ShortestUniquePrefix(h)
			if err != nil {
				return err
			}
			fmt.Printf("%s (unique prefix: %s)\n", h, unique)
			return nil
		},
	}
}

func cloneHintCmd() *cli.Command {
	return &cli.Command{
		Name:  "clone-hint",
		Usage: "Precompute the bootstrap bundle for the current version",
		Action: func(c *cli.Context) error {
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			hint, err := rg.BuildCloneHint(repoID(c))
			if err != nil {
				return err
			}
			color.Green("clone hint for version %d: %s", hint.IdMapVersion, hint.BlobName)
			return nil
		},
	}
}

func currentCmd() *cli.Command {
	return &cli.Command{
		Name:  "current",
		Usage: "Show the published version pair of the repository",
		Action: func(c *cli.Context) error {
			rg, err := open(c)
			if err != nil {
				return err
			}
			defer rg.Close()

			rec, err := rg.Current(repoID(c))
			if err != nil {
				return err
			}
			fmt.Printf("iddag=%d idmap=%d\n", rec.IdDagVersion, rec.IdMapVersion)
			return nil
		},
	}
}

func short(h types.ChangesetId) string {
	return h.String()[:12]
}
