package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-course-storefront/cart"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/spf13/cobra"
)

func statusCmd(appFn func() *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			snap := a.session.Snapshot()
			fmt.Println("Session")
			fmt.Println(strings.Repeat("=", 40))
			fmt.Printf("  Member:  %s <%s>\n", snap.Identity.Name, snap.Identity.Email)
			fmt.Printf("  ID:      %d\n", snap.Identity.ID)
			fmt.Printf("  Backend: %s\n", a.config.GetAPIBaseURL())
			stats := a.gateway.Stats()
			fmt.Printf("  Refreshes: %d\n", stats.Refreshes)
			return nil
		},
	}
}

func loginCmd(appFn func() *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the member credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.email == "" || creds.password == "" {
				return errors.New("--email and --password are required")
			}
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			identity, _ := a.session.CurrentIdentity()
			fmt.Printf("Signed in as %s (%d)\n", identity.Name, identity.ID)
			return nil
		},
	}
}

func logoutCmd(appFn func() *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session at the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			if err := a.session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Signed out")
			return nil
		},
	}
}

func cartCmd(appFn func() *app, creds *credentials) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "List the shopping cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			memberID, err := a.memberID()
			if err != nil {
				return err
			}
			items, err := a.cart.Load(cmd.Context(), memberID)
			if err != nil {
				return err
			}
			printCart(items)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [lecture-id]",
		Short: "Add a lecture to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			lectureID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lecture id %q", args[0])
			}
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			memberID, err := a.memberID()
			if err != nil {
				return err
			}
			err = a.cart.AddToCart(cmd.Context(), memberID, cart.Item{ID: lectureID})
			if errors.Is(err, apperrors.ErrConflict) {
				fmt.Println("Already in the cart")
				return nil
			}
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [lecture-id]",
		Short: "Remove a lecture from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			lectureID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lecture id %q", args[0])
			}
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			memberID, err := a.memberID()
			if err != nil {
				return err
			}
			return a.cart.RemoveFromCart(cmd.Context(), memberID, lectureID)
		},
	})
	return cmd
}

func ordersCmd(appFn func() *app, creds *credentials) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List settled orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			orders, err := a.payments.LoadHistory(cmd.Context())
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				fmt.Println("No orders yet")
				return nil
			}
			for _, o := range orders {
				fmt.Printf("  %-38s %8d  %s  %s\n", o.PaymentID, o.Amount, o.ApprovedAt, o.ItemName)
			}
			return nil
		},
	}
}

func pendingCmd(appFn func() *app, creds *credentials) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show a payment left unfinished by an earlier checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.signIn(cmd.Context(), creds); err != nil {
				return err
			}
			p, err := a.payments.RestorePending(cmd.Context())
			if errors.Is(err, apperrors.ErrNoPendingAttempt) {
				fmt.Println("No pending payment")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("  Payment %s for %s (%d), started %s\n", p.PaymentID, p.ItemName, p.TotalAmount, p.CreatedAt.Format("2006-01-02 15:04"))
			if !discard {
				return nil
			}
			if err := a.payments.DiscardPending(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("  Discarded")
			return nil
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "cancel the pending payment")
	return cmd
}

func printCart(items []cart.Item) {
	if len(items) == 0 {
		fmt.Println("The cart is empty")
		return
	}
	var total int64
	for _, item := range items {
		fmt.Printf("  %6d  %-40s %8d\n", item.ID, item.Title, item.Price)
		total += item.Price
	}
	fmt.Printf("  %48s %8d\n", "Total", total)
}
