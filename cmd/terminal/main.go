package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/credentials"
	"nifty-paper-terminal/internal/dashboard"
	"nifty-paper-terminal/internal/database"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/logger"
	"nifty-paper-terminal/internal/metrics"
	"nifty-paper-terminal/internal/models"
	"nifty-paper-terminal/internal/notify"
	"nifty-paper-terminal/internal/report"
	"nifty-paper-terminal/internal/scheduler"
)

const loginTimeout = 5 * time.Minute

func main() {
	app := &cli.App{
		Name:     "terminal",
		HelpName: "terminal",
		Usage:    "NIFTY gamma strangle paper trading terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "directory holding config.yml",
				Value:   "./configs",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the dashboard and the trading-day scheduler",
				Action: serve,
			},
			{
				Name:   "auth-url",
				Usage:  "Print the broker login URL",
				Action: authURL,
			},
			{
				Name:   "login",
				Usage:  "Log in through the browser and capture the redirect locally",
				Action: login,
			},
			{
				Name:  "exchange",
				Usage: "Exchange a pasted redirect URL or auth code for an access token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Aliases:  []string{"u"},
						Usage:    "redirect URL or bare auth code",
						Required: true,
					},
				},
				Action: exchange,
			},
			{
				Name:  "headless-login",
				Usage: "Log in with user id, PIN and TOTP secret",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "fy-id", Usage: "broker user id", Required: true, EnvVars: []string{"FYERS_FY_ID"}},
					&cli.StringFlag{Name: "pin", Usage: "4 digit PIN", Required: true, EnvVars: []string{"FYERS_PIN"}},
					&cli.StringFlag{Name: "totp-secret", Usage: "authenticator secret", Required: true, EnvVars: []string{"FYERS_TOTP_SECRET"}},
				},
				Action: headlessLogin,
			},
			{
				Name:  "report",
				Usage: "Print the trade history",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "date",
						Aliases: []string{"d"},
						Usage:   "limit trades to one day, eg. 2026-10-13",
					},
				},
				Action: printReport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("could not load config: %w", err)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, log, nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", "PAPER"))

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return err
	}
	log.Info("Database connection successful and schema migrated.")

	creds, err := credentials.NewStore()
	if err != nil {
		return err
	}
	defer creds.Close()

	m := metrics.New()
	tg, err := notify.NewTelegram(cfg.Telegram, log)
	if err != nil {
		return err
	}
	tg.WithMetrics(m)

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}
	sched := scheduler.New(loc, log).WithMetrics(m)

	srv, err := dashboard.NewServer(dashboard.Deps{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		Store:       database.NewStore(db),
		Credentials: creds,
		Notifier:    tg,
		Scheduler:   sched,
	})
	if err != nil {
		return err
	}

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	sched.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	sched.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Dashboard shutdown failed", zap.Error(err))
	}

	log.Info("Terminal has been shut down.")
	return nil
}

// brokerClient builds a client for the configured app.
func brokerClient(cfg *config.Config, log *zap.Logger) (*fyers.Client, error) {
	if cfg.Fyers.ClientID == "" {
		return nil, errors.New("fyers.client_id is not set (config or FYERS_CLIENT_ID)")
	}
	return fyers.NewClient(cfg.Fyers, cfg.Fyers.ClientID, "", log), nil
}

func authURL(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := brokerClient(cfg, log)
	if err != nil {
		return err
	}
	redirect := cfg.Fyers.RedirectURL
	if redirect == "" {
		redirect = "http://" + cfg.Server.CallbackAddr + fyers.CallbackPath
	}
	fmt.Println(client.AuthURL(redirect, "None"))
	return nil
}

// printToken writes the token in a form that can be sourced by a shell.
func printToken(token string) {
	fmt.Printf("FYERS_ACCESS_TOKEN=%s\n", token)
}

func login(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := brokerClient(cfg, log)
	if err != nil {
		return err
	}

	cb := fyers.NewCallbackServer(cfg.Server.CallbackAddr, log)
	if err := cb.Start(); err != nil {
		return err
	}
	fmt.Println("Open this URL in your browser and log in:")
	fmt.Println(client.AuthURL(cb.RedirectURL(), "None"))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	code, err := cb.Wait(ctx, loginTimeout)
	if err != nil {
		return err
	}

	token, err := client.ExchangeAuthCode(ctx, cfg.Fyers.SecretKey, code)
	if err != nil {
		return err
	}
	log.Info("Logged in", zap.String("token", credentials.MaskToken(token)))
	printToken(token)
	return nil
}

func exchange(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := brokerClient(cfg, log)
	if err != nil {
		return err
	}
	code, err := fyers.ExtractAuthCode(c.String("url"))
	if err != nil {
		return err
	}
	token, err := client.ExchangeAuthCode(c.Context, cfg.Fyers.SecretKey, code)
	if err != nil {
		return err
	}
	printToken(token)
	return nil
}

func headlessLogin(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := brokerClient(cfg, log)
	if err != nil {
		return err
	}
	flow := fyers.NewLoginFlow(client, cfg.Fyers.SecretKey)
	token, err := flow.Start(c.Context, fyers.LoginRequest{
		FyID:       c.String("fy-id"),
		PIN:        c.String("pin"),
		TOTPSecret: c.String("totp-secret"),
	})
	if err != nil {
		return err
	}
	printToken(token)
	return nil
}

func printReport(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.NewDatabase(config.Database{DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	store := database.NewStore(db)

	trades, err := store.AllTrades()
	if date := c.String("date"); date != "" && err == nil {
		trades, err = store.TradesOn(date)
	}
	if err != nil {
		return err
	}
	adjs := make(map[uint][]models.Adjustment, len(trades))
	for _, t := range trades {
		if adjs[t.ID], err = store.AdjustmentsForTrade(t.ID); err != nil {
			return err
		}
	}

	summaries, err := store.DailySummaries()
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintln(out, "Daily P&L")
	report.RenderDaily(out, summaries)
	fmt.Fprintln(out, "\nWeekly P&L")
	report.RenderWeekly(out, report.Weekly(trades))
	fmt.Fprintln(out, "\nTrades")
	report.RenderTrades(out, trades, adjs)
	return nil
}
