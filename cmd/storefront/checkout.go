package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jrsteele09/go-course-storefront/payment"
	"github.com/jrsteele09/go-course-storefront/popup"
	"github.com/spf13/cobra"
)

func checkoutCmd(appFn func() *app, creds *credentials) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Pay for everything in the cart",
		Long: `Prepares a payment for the cart and opens the payment provider in the
system browser. The command waits until the payment is approved, failed or
cancelled, or until PAYMENT_TIMEOUT passes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			ctx := cmd.Context()
			if !quiet {
				displayAppname(a.config.GetAppName())
			}
			if err := a.signIn(ctx, creds); err != nil {
				return err
			}
			return a.checkout(ctx)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the banner")
	return cmd
}

func (a *app) checkout(ctx context.Context) error {
	memberID, err := a.memberID()
	if err != nil {
		return err
	}
	items, err := a.cart.Load(ctx, memberID)
	if err != nil {
		return err
	}

	server, err := a.listenForPayer()
	if err != nil {
		return err
	}
	defer a.shutdown(server)

	attempt, err := a.payments.StartCheckout(ctx, items)
	if err != nil {
		return err
	}
	fmt.Printf("Paying %d for %s (order %s)\n", attempt.TotalAmount, attempt.ItemName, attempt.PartnerOrderID)
	fmt.Printf("Complete the payment in your browser: %s\n", attempt.RedirectURL)

	waitCtx, cancel := context.WithTimeout(ctx, a.config.GetPaymentTimeout())
	defer cancel()
	final, err := a.payments.AwaitTerminal(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.payments.ForceClosePopup()
		final, err = a.payments.AwaitTerminal(context.Background())
	case errors.Is(err, context.Canceled):
		a.payments.ClearCurrentOrder()
		return err
	}

	msg := payment.StatusMessage(final.Status)
	fmt.Printf("\n%s\n%s\n", colourise(msg.Kind, msg.Title), msg.Text)
	if final.ErrorMessage != "" {
		fmt.Printf("  %s%s%s\n", Gray, final.ErrorMessage, ResetColor)
	}
	if final.Status == payment.StatusSucceeded {
		return nil
	}
	return err
}

// listenForPayer serves the payer return pages on the popup address
func (a *app) listenForPayer() (*http.Server, error) {
	ln, err := net.Listen("tcp", a.config.GetPopupListenAddr())
	if err != nil {
		return nil, fmt.Errorf("[storefront listenForPayer] %w", err)
	}
	server := &http.Server{
		Handler:           popup.NewHandler(a.bus, a.opener, a.config, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.log.Debug().Str("addr", ln.Addr().String()).Msg("listening for the payer window")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("payer listener stopped")
		}
	}()
	return server, nil
}

func (a *app) shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("server.Shutdown")
	}
}
