package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockledger/stockledger/internal/app"
	"github.com/stockledger/stockledger/internal/config"
)

var errResetNotConfirmed = errors.New("refusing to reset without --yes")

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "stockledger",
		Short:        "Offline stock ledger: items, purchases, sales and stock adjustments",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load configuration from this .env file (default .env)")

	open := func(cmd *cobra.Command) (*app.App, error) {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return nil, err
		}
		logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		return app.New(cmd.Context(), cfg, logger)
	}

	root.AddCommand(
		newServeCmd(open),
		newDashboardCmd(open),
		newLowStockCmd(open),
		newExportCmd(open),
		newResetCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*app.App, error)

func newServeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers and the low stock alert job",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func newDashboardCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print today's and this month's totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			settings, err := a.Services.Settings.Get(ctx)
			if err != nil {
				return err
			}
			dash, err := a.Services.Summary.Dashboard(ctx)
			if err != nil {
				return err
			}

			cur := settings.Currency
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Today\t%s\n", dash.Today)
			fmt.Fprintf(w, "Today's Sales\t%s%s\n", cur, dash.TodaySales.StringFixed(2))
			fmt.Fprintf(w, "Today's Purchases\t%s%s\n", cur, dash.TodayPurchases.StringFixed(2))
			fmt.Fprintf(w, "Month Sales (since %s)\t%s%s\n", dash.MonthStart, cur, dash.MonthSales.StringFixed(2))
			fmt.Fprintf(w, "Month Purchases\t%s%s\n", cur, dash.MonthPurchases.StringFixed(2))
			fmt.Fprintf(w, "Low Stock Items\t%d of %d\n", dash.LowStockCount, dash.TotalItems)
			return w.Flush()
		},
	}
}

func newLowStockCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "low-stock",
		Short: "List items at or below their minimum stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Services.Summary.LowStock(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No items are low on stock.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tSTOCK\tMIN")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", item.Code, item.Name, item.CurrentStock, item.MinStock)
			}
			return w.Flush()
		},
	}
}

func newExportCmd(open opener) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if out == "-" {
				return a.Services.Exporter.Write(cmd.Context(), cmd.OutOrStdout())
			}
			if err := a.Services.Exporter.SaveAs(cmd.Context(), out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "stockledger.xlsx", `output file, "-" for stdout`)
	return cmd
}

func newResetCmd(open opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every item, party, transaction and setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errResetNotConfirmed
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Services.Settings.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All data cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
