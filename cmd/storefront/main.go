package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-course-storefront/cart"
	"github.com/jrsteele09/go-course-storefront/gateway"
	"github.com/jrsteele09/go-course-storefront/internal/config"
	"github.com/jrsteele09/go-course-storefront/internal/logging"
	"github.com/jrsteele09/go-course-storefront/payment"
	"github.com/jrsteele09/go-course-storefront/payment/pendingrepo"
	"github.com/jrsteele09/go-course-storefront/popup"
	"github.com/jrsteele09/go-course-storefront/session"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired client shared by every command
type app struct {
	config   config.Config
	log      zerolog.Logger
	gateway  *gateway.Gateway
	session  *session.State
	cart     *cart.Service
	bus      *popup.Bus
	opener   *popup.BrowserOpener
	payments *payment.Orchestrator
	redis    *redis.Client
}

type credentials struct {
	email    string
	password string
}

func newRootCmd() *cobra.Command {
	var creds credentials
	var a *app

	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Course storefront client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cmd.Context())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&creds.email, "email", os.Getenv("STOREFRONT_EMAIL"), "member email (STOREFRONT_EMAIL)")
	rootCmd.PersistentFlags().StringVar(&creds.password, "password", os.Getenv("STOREFRONT_PASSWORD"), "member password (STOREFRONT_PASSWORD)")

	appFn := func() *app { return a }
	rootCmd.AddCommand(statusCmd(appFn, &creds))
	rootCmd.AddCommand(loginCmd(appFn, &creds))
	rootCmd.AddCommand(logoutCmd(appFn, &creds))
	rootCmd.AddCommand(cartCmd(appFn, &creds))
	rootCmd.AddCommand(checkoutCmd(appFn, &creds))
	rootCmd.AddCommand(ordersCmd(appFn, &creds))
	rootCmd.AddCommand(pendingCmd(appFn, &creds))
	return rootCmd
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg)

	client, err := transport.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("[storefront newApp] %w", err)
	}

	a := &app{config: cfg, log: logger}
	a.gateway = gateway.New(client, cfg, logger)
	a.session = session.New(a.gateway, cfg, logger)
	a.gateway.RegisterCallbacks(a.session.Callbacks())
	a.cart = cart.NewService(a.gateway, cart.New(), logger)

	var pending pendingrepo.Repo = pendingrepo.NewInMemoryRepo()
	if url := cfg.GetRedisURL(); url != "" {
		rdb, err := pendingrepo.NewRedisClient(ctx, url)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		pending = pendingrepo.NewRedisRepo(rdb)
	}

	a.bus = popup.NewBus(logger)
	a.opener = popup.NewBrowserOpener(logger)
	channel := popup.NewChannel(a.opener, a.bus, cfg, logger)
	a.payments = payment.NewOrchestrator(payment.NewBackend(a.gateway, cfg), channel, a.session, cfg, logger,
		payment.WithPendingRepo(pending),
		payment.WithSettledHook(func(payment.Receipt) { a.cart.Cart().Clear() }),
	)
	return a, nil
}

func (a *app) close() {
	if a == nil {
		return
	}
	a.payments.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing redis")
		}
	}
}

// signIn logs in with the given credentials, or checks for an existing session
func (a *app) signIn(ctx context.Context, creds *credentials) error {
	if creds.email == "" {
		if err := a.session.CheckStatus(ctx); err != nil {
			return fmt.Errorf("not signed in, pass --email and --password: %w", err)
		}
		return nil
	}
	_, err := a.session.Login(ctx, session.Credentials{Email: creds.email, Password: creds.password})
	return err
}

func (a *app) memberID() (int64, error) {
	identity, ok := a.session.CurrentIdentity()
	if !ok {
		return 0, errors.New("not signed in")
	}
	return identity.ID, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
