package main

import (
	"fmt"
	"strings"

	"guidebook/models"
	"guidebook/services/payment"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func completeCmd(svc *services) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [bookingId]",
		Short: "Mark a finished confirmed booking completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := svc.bookings.MarkCompleted(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booking %s is %s\n", b.ID, b.Status)
			return nil
		},
	}
}

func sweepCmd(svc *services) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Complete every confirmed booking whose tour has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := svc.bookings.CompleteDue(cmd.Context())
			for _, id := range done {
				fmt.Fprintf(cmd.OutOrStdout(), "completed %s\n", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d booking(s) completed\n", len(done))
			return nil
		},
	}
}

func paymentCmd(svc *services) *cobra.Command {
	return &cobra.Command{
		Use:   "payment [paymentId]",
		Short: "Show a payment and its booking status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := svc.payments.GetPaymentStatus(cmd.Context(), args[0], operator)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

// reconcileCmd replays a gateway outcome by hand, for payments whose callback
// never arrived. It goes through the same path as a webhook.
func reconcileCmd(svc *services) *cobra.Command {
	var amount, currency, receipt, reason string

	cmd := &cobra.Command{
		Use:   "reconcile [gateway] [ref] [succeeded|failed]",
		Short: "Apply a gateway outcome to the payment with that reference",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway := models.Gateway(strings.ToLower(args[0]))
			switch gateway {
			case models.GatewayStripe, models.GatewayMpesa, models.GatewayPaypal:
			default:
				return fmt.Errorf("unknown gateway %q", args[0])
			}

			var out payment.Outcome
			switch strings.ToLower(args[2]) {
			case "succeeded":
				out.Succeeded = true
			case "failed":
				out.FailureReason = reason
			default:
				return fmt.Errorf("outcome must be succeeded or failed, got %q", args[2])
			}
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				out.Amount = decimal.NewNullDecimal(d)
			}
			out.Currency = strings.ToUpper(currency)
			out.Receipt = receipt

			res, err := svc.payments.Reconcile(cmd.Context(), gateway, args[1], out)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "action: %s\n", res.Action)
			if res.Payment != nil {
				fmt.Fprintf(w, "payment %s is %s\n", res.Payment.ID, res.Payment.Status)
			}
			if res.BookingConfirmed {
				fmt.Fprintln(w, "booking confirmed")
			}
			if res.RefundRequired {
				fmt.Fprintln(w, "refund required: the gateway charged a payment that can no longer be used")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Amount the gateway reported")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency of --amount")
	cmd.Flags().StringVar(&receipt, "receipt", "", "Gateway receipt or transaction id")
	cmd.Flags().StringVar(&reason, "reason", models.FailureDeclined, "Failure reason for a failed outcome")
	return cmd
}
