package main

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"os/signal"
	"syscall"
	"time"
)

func connect(ctx context.Context) (*pgxpool.Pool, config.Config, error) {
	cfg := config.Load()
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, cfg, fmt.Errorf("db connect: %w", err)
	}
	return db, cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func expireCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
		batch    int
	)
	cmd := &cobra.Command{
		Use:   "expire-reservations",
		Short: "Release inventory held by abandoned checkouts",
		Long: `Release every reservation whose hold has expired back to available
stock and cancel drafts left without a live hold. Holds of orders that are
already paid are left for the payment webhook.

Examples:
  storectl expire-reservations
  storectl expire-reservations --watch --interval 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			sw := &inventory.Sweeper{
				Ledger:   &inventory.Ledger{DB: db},
				Orders:   &orders.Store{DB: db},
				Batch:    batch,
				Interval: interval,
				Timeout:  cfg.DBTimeout,
				Log:      logging.New(cfg.ServiceName + "-sweeper"),
			}
			if watch {
				return sw.Run(ctx)
			}
			sum, err := sw.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d reservation(s), cancelled %d draft(s)\n", sum.Released, sum.Cancelled)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep sweeping every --interval")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "sweep interval with --watch")
	cmd.Flags().IntVar(&batch, "batch", 100, "reservations released per transaction")
	return cmd
}

func syncProductsCmd() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "sync-products",
		Short: "Create gateway products and prices for the active catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if cfg.StripeSecretKey == "" {
				return fmt.Errorf("STRIPE_SECRET_KEY is required")
			}

			s := &catalog.Syncer{
				Source:   &catalog.Repo{DB: db},
				Gateway:  payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
				Currency: currency,
				Log:      logging.New(cfg.ServiceName + "-sync"),
			}
			res, err := s.Sync(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "products created: %d, verified: %d\n", res.ProductsCreated, res.ProductsUpdated)
			fmt.Fprintf(out, "prices created: %d, verified: %d\n", res.PricesCreated, res.PricesUpdated)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  %s: %v\n", e.ProductName, e.Err)
			}
			if !res.OK() {
				return fmt.Errorf("%d product(s) failed to sync", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "usd", "price currency")
	return cmd
}
