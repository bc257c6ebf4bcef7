package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lgulliver/revvault/internal/events"
	"github.com/lgulliver/revvault/internal/ingest"
	"github.com/lgulliver/revvault/internal/layout"
	"github.com/lgulliver/revvault/internal/ledger"
	"github.com/lgulliver/revvault/internal/storage"
	"github.com/lgulliver/revvault/pkg/config"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/lgulliver/revvault/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "revvaultctl",
	Short: "Operate the revision vault by hand",
	Long: `revvaultctl replays audit-log events and inspects the revision tree.

Replaying an event runs the same pipeline as the webhook: bundles are fetched
from the management API, stamped and stored. The inspection commands only read
the object store or the delivery ledger.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("REVVAULT_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
}

func registerCommands() {
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(revisionsCmd())
	rootCmd.AddCommand(metadataCmd())
	rootCmd.AddCommand(deliveriesCmd())
	rootCmd.AddCommand(migrateCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Logging.SetupLogging()
	return cfg, nil
}

// withLayout opens the configured object store without touching upstream
func withLayout(ctx context.Context, fn func(ctx context.Context, m *layout.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage(ctx)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	return fn(ctx, layout.NewManager(store, cfg.Storage.Concurrency))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <event.json>",
		Short: "Show which transition an event maps to, without side effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			env, err := events.DecodeEnvelope(body)
			if err != nil {
				return err
			}
			ev, err := events.Classify(env)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"transition": ev.Transition(),
				"event":      ev,
			})
		},
	}
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <event.json>...",
		Short: "Process saved audit-log events through the ingest pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			components, err := ingest.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer components.Close()

			failed := 0
			for _, file := range args {
				body, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				res, err := components.Service.Process(cmd.Context(), "", body)
				status := res.Outcome
				if err != nil {
					failed++
					status = fmt.Sprintf("%s: %v", res.Outcome, err)
				}
				fmt.Printf("%s\t%s\t%s\n", file, res.Transition, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d event(s) failed", failed, len(args))
			}
			return nil
		},
	}
}

func parseKindArg(s string) (types.Kind, error) {
	switch s {
	case "proxy", "apiproxy":
		return types.KindProxy, nil
	case "sharedflow":
		return types.KindSharedFlow, nil
	}
	return types.ParseKind(s)
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <apis|sharedflows> <name>",
		Short: "Move every revision of an artifact into the archive namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withLayout(cmd.Context(), func(ctx context.Context, m *layout.Manager) error {
				if err := m.Archive(ctx, kind, args[1]); err != nil {
					return err
				}
				fmt.Printf("archived to %s\n", layout.ArchivePrefix(kind, args[1]))
				return nil
			})
		},
	}
}

func revisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revisions <apis|sharedflows> <name>",
		Short: "List stored revisions of an artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withLayout(cmd.Context(), func(ctx context.Context, m *layout.Manager) error {
				revisions, err := m.ListRevisions(ctx, kind, args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{
						"revisions": revisions,
						"latest":    utils.LatestRevision(revisions),
					})
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Revision", "State", "Actor", "Updated", "Deleted"})
				for _, rev := range revisions {
					meta, err := m.ReadMetadata(ctx, kind, args[1], rev)
					if err != nil {
						tw.AppendRow(table.Row{rev, "unknown", "", "", ""})
						continue
					}
					state := meta.State
					if state == "" {
						state = "live"
					}
					tw.AppendRow(table.Row{rev, state, meta.AuthenticatedUser, meta.LastUpdatedAt, meta.DeletedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <apis|sharedflows> <name> <revision>",
		Short: "Print the metadata record of one revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withLayout(cmd.Context(), func(ctx context.Context, m *layout.Manager) error {
				meta, err := m.ReadMetadata(ctx, kind, args[1], args[2])
				if err != nil {
					return err
				}
				return printJSON(meta)
			})
		},
	}
}

func deliveriesCmd() *cobra.Command {
	var filter types.DeliveryFilter
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List recent deliveries from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := ledger.Open(&cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Received", "Transition", "Kind", "Name", "Revision", "Outcome", "Error"})
			for _, r := range records {
				tw.AppendRow(table.Row{r.ReceivedAt, r.Transition, r.Kind, r.Name, r.Revision, r.Outcome, r.Error})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Name, "name", "", "artifact name filter")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "outcome filter (ok, ignored, out_of_scope, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the delivery ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := ledger.Open(&cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Println("ledger schema is up to date")
			return nil
		},
	}
}
