// Command guidebookctl runs operator tasks against the booking ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"guidebook/bootstrap"
	"guidebook/config"
	"guidebook/services/booking"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/spf13/cobra"
)

var Version = "dev"

// services is what the subcommands operate on. open fills it lazily so the
// commands can be exercised against an injected ledger.
type services struct {
	bookings booking.BookingService
	payments payment.PaymentService
	closers  []func()
}

func (s *services) open(ctx context.Context) error {
	if s.bookings != nil {
		return nil
	}
	config.LoadConfig()
	utils.InitializeLogger()
	logger := utils.GetLogger()

	ledger, closeLedger, err := bootstrap.OpenLedger(ctx, logger)
	if err != nil {
		return err
	}
	notifications := bootstrap.NewNotifications(logger)
	s.closers = append(s.closers, closeLedger, notifications.Close)

	policy, err := booking.PolicyFromConfig()
	if err != nil {
		return fmt.Errorf("booking policy: %w", err)
	}
	s.bookings = booking.NewBookingService(ledger, notifications.Dispatcher, policy, logger)
	s.payments = payment.NewPaymentService(ledger, notifications.Dispatcher, policy, logger, bootstrap.Gateways(logger)...)
	return nil
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func main() {
	svc := &services{}
	rootCmd := newRootCmd(svc)
	err := rootCmd.Execute()
	svc.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(svc *services) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "guidebookctl",
		Short:         "Operator tools for the guidebook booking ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return svc.open(cmd.Context())
		},
	}

	rootCmd.AddCommand(completeCmd(svc))
	rootCmd.AddCommand(sweepCmd(svc))
	rootCmd.AddCommand(paymentCmd(svc))
	rootCmd.AddCommand(reconcileCmd(svc))
	return rootCmd
}

// operator is the principal CLI reads run as.
var operator = utils.Principal{UserID: "operator", Role: utils.RoleAdmin}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
