package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/config"
	"github.com/socialpulse/walletcore/internal/events"
	"github.com/socialpulse/walletcore/internal/http_api"
	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/meter"
	"github.com/socialpulse/walletcore/internal/notificator"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/internal/recovery"
	"github.com/socialpulse/walletcore/internal/repository"
	"github.com/socialpulse/walletcore/pkg/logger"
)

const reconciliationInterval = time.Minute

func main() {
	app := &cli.App{
		Name:  "walletcore",
		Usage: "Walletcore is the wallet and payment settlement service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "provider-api-url", Aliases: []string{"a"}, Usage: "Payment provider API URL"},
			&cli.StringFlag{Name: "network", Aliases: []string{"n"}, Usage: "Provider network (mainnet or testnet)"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.StringFlag{Name: "low-balance-threshold", Aliases: []string{"l"}, Usage: "Balance at or below which a low-balance nudge fires"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("provider-api-url") {
		cfg.ProviderAPIURL = c.String("provider-api-url")
	}
	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if c.IsSet("low-balance-threshold") {
		threshold, err := decimal.NewFromString(c.String("low-balance-threshold"))
		if err == nil {
			cfg.LowBalanceThreshold = threshold
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the event bus and settlement core
	bus := events.NewBus(log)
	defer bus.Close()

	providerClient := provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderAPIKey(), cfg.Network, nil, log)
	walletLedger := ledger.NewLedger(db, bus, cfg.LowBalanceThreshold, log)
	usageMeter := meter.NewMeter(walletLedger, bus, log)
	paymentBroker := broker.NewBroker(providerClient, db, walletLedger, bus, cfg.Network, log)
	paymentRecovery := recovery.NewRecovery(paymentBroker, providerClient, log)

	// Initialize ops alerting
	alerters := []notificator.Alerter{}
	if cfg.TelegramBotToken != "" && cfg.OpsTelegramChat != "" {
		telegram, err := notificator.NewTelegramNotificator(log, cfg.TelegramBotToken, cfg.OpsTelegramChat)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notificator: %v", err)
		}
		alerters = append(alerters, telegram)
	}
	if cfg.OpsEmail != "" {
		alerters = append(alerters, notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender, cfg.OpsEmail))
	}
	opsNotificator := notificator.NewNotificator(bus, log, alerters...)
	go opsNotificator.Run(ctx)

	// Sweep payments left in flight by a previous run before serving
	if err := paymentRecovery.Recover(ctx, ""); err != nil {
		log.Error("Startup recovery sweep finished with failures ", "error ", err)
	}

	go paymentBroker.RunReconciliationWorker(ctx, reconciliationInterval)

	// Initialize API server
	apiServer := http_api.NewHTTPServer(paymentBroker, walletLedger, usageMeter, paymentRecovery, cfg.APIPort, log)
	go apiServer.Start()

	// Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	cancel()
	if err := apiServer.Shutdown(); err != nil {
		log.Error("Failed to shut down HTTP server ", "error ", err)
	}

	return nil
}
