package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mybooks/internal/book"
	"mybooks/internal/config"
	"mybooks/internal/cover"
	"mybooks/internal/logging"
	"mybooks/internal/platform/crypto"
	"mybooks/internal/platform/objectstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "mybooksctl",
		Short:         "Operator commands for the mybooks service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to $CONFIG_FILE or config.yaml)")

	loadConfig := func() (config.Config, error) {
		return config.Load(cfgFile)
	}

	root.AddCommand(newHousekeepingCmd(loadConfig), newTokenCmd(loadConfig), newSeedCmd(loadConfig))
	return root
}

func newHousekeepingCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var deleteOrphans bool

	cmd := &cobra.Command{
		Use:   "housekeeping",
		Short: "Find cover images no book references and optionally delete them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.ObjectStore.Enabled() {
				return errors.New("housekeeping needs OBJECT_STORE_ENDPOINT")
			}
			if err := errors.Join(cfg.ValidateStore(), cfg.ObjectStore.Validate()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("delete") {
				deleteOrphans = cfg.DeleteOrphanImages
			}

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			backend, err := cfg.Backend()
			if err != nil {
				return err
			}
			repo, closeRepo, err := book.Open(ctx, backend, cfg.DatabaseDSN, cfg.DBTimeout)
			if err != nil {
				return err
			}
			defer closeRepo()

			store, err := objectstore.NewMinioStore(objectstore.Config{
				Endpoint:  cfg.ObjectStore.Endpoint,
				AccessKey: cfg.ObjectStore.AccessKey,
				SecretKey: cfg.ObjectStore.SecretKey,
				Bucket:    cfg.ObjectStore.Bucket,
				Region:    cfg.ObjectStore.Region,
				UseSSL:    cfg.ObjectStore.UseSSL,
				PublicURL: cfg.ObjectStore.PublicURL,
			})
			if err != nil {
				return err
			}

			hk := cover.NewHousekeeper(book.NewService(repo, cfg.PageSize, logger), store, logger)
			report, err := hk.Run(ctx, deleteOrphans)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report, deleteOrphans)
			logger.Info("housekeeping finished",
				zap.Int("referenced", len(report.Referenced)),
				zap.Int("orphans", len(report.Orphans)),
				zap.Int("deleted", len(report.Deleted)),
				zap.Int("failed", len(report.Failed)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteOrphans, "delete", false, "delete orphaned images (default from DELETE_ORPHAN_IMAGES)")
	return cmd
}

func printReport(w io.Writer, report cover.Report, deleted bool) {
	fmt.Fprintf(w, "referenced: %d\n", len(report.Referenced))
	fmt.Fprintf(w, "orphans:    %d\n", len(report.Orphans))
	for _, o := range report.Orphans {
		fmt.Fprintf(w, "  %s (%d bytes)\n", o.Key, o.Size)
	}
	if !deleted {
		if len(report.Orphans) > 0 {
			fmt.Fprintln(w, "dry run; pass --delete to remove orphans")
		}
		return
	}
	fmt.Fprintf(w, "deleted:    %d\n", len(report.Deleted))
	if len(report.Failed) > 0 {
		fmt.Fprintf(w, "failed:     %d\n", len(report.Failed))
	}
}

func newTokenCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user ID (local development)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("config: JWT_SECRET is required")
			}
			token, _, err := crypto.GenerateToken(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID to place in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
