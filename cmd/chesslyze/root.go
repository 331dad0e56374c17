package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/database"
	"github.com/admirer145/Chesslyze-sub001/internal/domain"
	"github.com/admirer145/Chesslyze-sub001/internal/logger"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
	"github.com/admirer145/Chesslyze-sub001/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the wired dependencies for one CLI invocation. The CLI is a
// one-shot surface over the same import service the server hosts.
type app struct {
	db      *sqlx.DB
	imports *service.ImportService
}

func newApp() (*app, error) {
	log := logger.SetLevel(zerolog.WarnLevel)
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}
	db, err := database.New(cfg, log)
	if err != nil {
		return nil, err
	}

	games := repository.NewGameRepository(db, log)
	checkpoints := repository.NewCheckpointRepository(db, log)
	imports := service.NewImportService(
		api.NewLichessClient(cfg, log),
		api.NewChessComClient(cfg, log),
		games,
		checkpoints,
		nil,
		cfg,
		log,
	)
	return &app{db: db, imports: imports}, nil
}

func (a *app) close() {
	a.db.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chesslyze",
		Short:         "Import chess game history from Lichess and Chess.com",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newGamesCmd())
	return root
}

func newImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import games from a provider or a PGN file",
	}

	var mode string
	var since, until int64
	var tag string

	makeSyncCmd := func(provider domain.Provider, use string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <username>",
			Short: fmt.Sprintf("Sync games from %s", provider),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				opts := service.SyncOptions{
					Provider: provider,
					Username: args[0],
					Mode:     domain.ImportMode(mode),
					Since:    since,
					Until:    until,
				}
				if tag != "" {
					opts.ImportTag = &tag
				}

				result, err := a.imports.Sync(ctx, opts, func(e service.ProgressEvent) {
					fmt.Printf("[%5.1f%%] %s\n", e.Percentage, e.Message)
				})
				if err != nil {
					return err
				}
				printResult(result)
				return nil
			},
		}
	}

	lichessCmd := makeSyncCmd(domain.ProviderLichess, "lichess")
	chesscomCmd := makeSyncCmd(domain.ProviderChessCom, "chesscom")
	for _, c := range []*cobra.Command{lichessCmd, chesscomCmd} {
		c.Flags().StringVar(&mode, "mode", "smart", "range mode: smart, custom or full")
		c.Flags().Int64Var(&since, "since", 0, "window start (epoch ms, custom mode)")
		c.Flags().Int64Var(&until, "until", 0, "window end (epoch ms, custom mode; 0 = now)")
		c.Flags().StringVar(&tag, "tag", "", "import tag to group this batch")
	}

	var pgnFile, hero string
	pgnCmd := &cobra.Command{
		Use:   "pgn",
		Short: "Import games from a PGN file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pgnFile == "" {
				return fmt.Errorf("a PGN file is required (-f)")
			}
			data, err := os.ReadFile(pgnFile)
			if err != nil {
				return fmt.Errorf("read %s: %w", pgnFile, err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			var tagPtr *string
			if tag != "" {
				tagPtr = &tag
			}
			result, err := a.imports.ImportPGN(cmd.Context(), string(data), hero, tagPtr)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	pgnCmd.Flags().StringVarP(&pgnFile, "file", "f", "", "PGN file to import")
	pgnCmd.Flags().StringVar(&hero, "hero", "", "username the import belongs to")
	pgnCmd.Flags().StringVar(&tag, "tag", "", "import tag to group this batch")

	importCmd.AddCommand(lichessCmd, chesscomCmd, pgnCmd)
	return importCmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <provider> <username>",
		Short: "Show the persisted sync checkpoint for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			cp, err := a.imports.Checkpoint(cmd.Context(), domain.Provider(args[0]), args[1])
			if err != nil {
				return err
			}
			if cp == nil {
				fmt.Println("no sync in progress")
				return nil
			}
			return printJSON(cp)
		},
	}
}

func newGamesCmd() *cobra.Command {
	var provider, speed string
	var limit int

	cmd := &cobra.Command{
		Use:   "games <username>",
		Short: "List stored games for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			games, err := a.imports.Games(cmd.Context(), repository.GameFilter{
				Provider:   domain.Provider(provider),
				Username:   args[0],
				SpeedClass: domain.SpeedClass(speed),
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			for _, g := range games {
				fmt.Printf("%s  %-20s %-20s %-7s %s\n",
					formatTimestamp(g.TimestampMs), g.White, g.Black, g.Result, g.SpeedClass)
			}
			fmt.Printf("%d games\n", len(games))
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&speed, "speed", "", "filter by speed class")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum games to list")
	return cmd
}

func printResult(result *domain.ImportResult) {
	fmt.Printf("imported %d games (%d parse errors, %d failed chunks)\n",
		result.TotalImported, result.ParseErrors, len(result.FailedChunks))
	if result.Cancelled {
		fmt.Println("sync was cancelled; rerun to resume")
	}
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
