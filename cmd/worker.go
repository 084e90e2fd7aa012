package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/vpn-billing/internal/billing"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/sweeper"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run maintenance jobs",
	Long:  `One-shot maintenance jobs that normally run inside the server process: sweeping stale pending payments and charging due auto-renewals.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile stale pending payments once",
	Long:  `Poll provider status APIs for pending payments older than the configured minimum age and reconcile the resolved ones`,
	Run: func(cmd *cobra.Command, args []string) {
		runSweepWorker()
	},
}

var renewWorkerCmd = &cobra.Command{
	Use:   "renew",
	Short: "Charge saved payment methods for due subscriptions",
	Long:  `Find subscriptions with auto-renew enabled that expire before the cutoff and open a charge against each saved payment method`,
	Run: func(cmd *cobra.Command, args []string) {
		runRenewWorker()
	},
}

var (
	sweepMinAge    time.Duration
	sweepBatchSize int

	renewAmount      float64
	renewCurrency    string
	renewDescription string
	renewMonths      int
	renewWithin      time.Duration
	renewLimit       int
)

func runSweepWorker() {
	app, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.DB.Close()

	cfg := sweeper.Config{
		Interval:  app.Config.Sweeper.Interval,
		MinAge:    getDurationFlag(sweepMinAge, app.Config.Sweeper.MinAge),
		BatchSize: getIntFlag(sweepBatchSize, app.Config.Sweeper.BatchSize),
	}

	sw := sweeper.New(app.Registry, app.PaymentRepo, app.Payments, cfg, app.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resolved, err := sw.Sweep(ctx)
	if err != nil {
		app.Logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	app.Logger.Info("sweep complete", "resolved", resolved)
}

func runRenewWorker() {
	app, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.DB.Close()

	if renewAmount <= 0 {
		fmt.Fprintln(os.Stderr, "--amount is required and must be positive")
		os.Exit(1)
	}

	offer := billing.Offer{
		Amount:      renewAmount,
		Currency:    getStringFlag(renewCurrency, app.Config.Billing.DefaultCurrency),
		Description: renewDescription,
		SaleMode:    paymentpkg.SaleModeSubscription,
		Quantity:    renewMonths,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	charged, err := app.Billing.RenewDue(ctx, offer, time.Now().Add(renewWithin), renewLimit)
	if err != nil {
		app.Logger.Error("renewal run failed", "error", err)
		os.Exit(1)
	}
	app.Logger.Info("renewal run complete", "charged", charged)
}

func getStringFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	sweepWorkerCmd.Flags().DurationVar(&sweepMinAge, "min-age", 0, "Minimum pending age before a payment is polled (overrides config)")
	sweepWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Maximum payments polled in one run (overrides config)")

	renewWorkerCmd.Flags().Float64Var(&renewAmount, "amount", 0, "Charge amount for one renewal period")
	renewWorkerCmd.Flags().StringVar(&renewCurrency, "currency", "", "Charge currency (defaults to billing.default_currency)")
	renewWorkerCmd.Flags().StringVar(&renewDescription, "description", "Subscription renewal", "Payment description shown to the provider")
	renewWorkerCmd.Flags().IntVar(&renewMonths, "months", 1, "Months granted per renewal")
	renewWorkerCmd.Flags().DurationVar(&renewWithin, "within", 24*time.Hour, "Renew subscriptions expiring within this window")
	renewWorkerCmd.Flags().IntVar(&renewLimit, "limit", 100, "Maximum subscriptions charged in one run")

	workerCmd.AddCommand(sweepWorkerCmd)
	workerCmd.AddCommand(renewWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
