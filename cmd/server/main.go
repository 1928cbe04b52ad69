package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/msgroom-server/internal/app"
	"github.com/vovakirdan/msgroom-server/internal/config"
	"github.com/vovakirdan/msgroom-server/internal/log"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

type rootOptions struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "msgroom-server",
		Short:         "Multi-room chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file")
	flags.StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.overrides.StoreDriver, "store", "", "moderation store driver (file, sqlite, memory)")
	flags.StringVar(&opts.overrides.DBPath, "db-path", "", "moderation store path")
	flags.DurationVar(&opts.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	root.AddCommand(newKeysCmd(opts))
	return root
}

func loadConfig(opts *rootOptions) (config.Config, *zerolog.Logger, error) {
	bootLogger := log.New("info")
	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(opts.overrides)

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServer(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting msgroom server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openModeration opens the configured store for offline edits. The server
// must not be running against the same file.
func openModeration(ctx context.Context, opts *rootOptions) (*store.Moderation, error) {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return nil, fmt.Errorf("store driver %q keeps nothing to edit", cfg.StoreDriver)
	}
	backend, err := app.OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	mod, err := store.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return mod, nil
}

func newKeysCmd(opts *rootOptions) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage staff keys in the moderation store",
	}

	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staff keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mod, err := openModeration(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer mod.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tFLAGS\tIDENTITIES")
			for _, k := range mod.Keys() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", k.Key, strings.Join(k.Flags, ","), len(k.Identities))
			}
			return w.Flush()
		},
	})

	var flagNames []string
	add := &cobra.Command{
		Use:   "add <key>",
		Short: "Create or update a staff key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := store.ParseFlags(flagNames)
			if err != nil {
				return err
			}
			mod, err := openModeration(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer mod.Close()

			if err := mod.AddKey(cmd.Context(), args[0], flags); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key %s saved with flags %s\n", args[0], flags)
			return nil
		},
	}
	add.Flags().StringSliceVar(&flagNames, "flags", []string{"staff"}, "flags granted by the key (staff, admin, bot)")
	keys.AddCommand(add)

	keys.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a staff key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := openModeration(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer mod.Close()

			deleted, err := mod.DeleteKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("key %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key %s deleted\n", args[0])
			return nil
		},
	})

	return keys
}
