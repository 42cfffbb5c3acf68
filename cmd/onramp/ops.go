package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vitwit/onramp/ledger"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/verification"
)

func quoteCmd() *cobra.Command {
	var usd string

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the current price and the token amount for a USD purchase",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(usd)
			if err != nil {
				return fmt.Errorf("invalid --usd %q: %w", usd, err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			q, err := app.Quote(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), q)
		},
	}

	cmd.Flags().StringVar(&usd, "usd", "100", "purchase amount in USD")
	return cmd
}

func recordsCmd() *cobra.Command {
	var (
		state string
		buyer string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List settlement records",
		Long: `List settlement records, newest first.

Examples:
  onramp records --state failed
  onramp records --state transferring --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := types.SettlementState(state)
			if state != "" && !st.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := app.Records(cmd.Context(), ledger.ListFilter{State: st, Buyer: buyer, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "filter by state (received, priced, transferring, settled, failed)")
	cmd.Flags().StringVar(&buyer, "buyer", "", "filter by buyer address")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum records")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List price fallback and guard audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := app.PriceEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum events")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <paymentTxHash> <transferTxHash>",
		Short: "Mark a failed or stuck settlement as settled after verifying the transfer on chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := app.Resolve(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <payload.json>",
		Short: "Print the signature header value for a webhook payload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Webhook.SignatureHeader,
				verification.SignPayload(payload, cfg.Webhook.Secret.Bytes()))
			return nil
		},
	}
}
