package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/alerts"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/config"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/database"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/directory"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/incidents"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/logging"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/metrics"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/realtime"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/server"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/sms"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "villagewatch-api",
		Short: "Village emergency alerting backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("session-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	flags.String("session-cookie", defaults.GetString("auth.cookie_name"), "Session cookie name")
	flags.String("sms-base-url", "", "SMS provider base URL; empty disables SMS")
	flags.String("sms-api-key", "", "SMS provider API key")
	flags.String("sms-sender-id", "", "SMS sender id")
	flags.Duration("sms-timeout", defaults.GetDuration("sms.timeout"), "SMS provider request timeout")
	flags.Int("sms-retry-count", defaults.GetInt("sms.retry_count"), "SMS provider retries per message")
	flags.String("redis-url", "", "Redis URL for the cross-instance realtime relay")
	flags.StringSlice("allowed-origins", defaults.GetStringSlice("realtime.allowed_origins"), "Allowed browser origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "session-issuer")
	bindFlag(cmd, "auth.cookie_name", "session-cookie")
	bindFlag(cmd, "sms.base_url", "sms-base-url")
	bindFlag(cmd, "sms.api_key", "sms-api-key")
	bindFlag(cmd, "sms.sender_id", "sms-sender-id")
	bindFlag(cmd, "sms.timeout", "sms-timeout")
	bindFlag(cmd, "sms.retry_count", "sms-retry-count")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "realtime.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.HubConfig{Logger: logger, Metrics: recorder})
	var publisher realtime.Publisher = hub
	if appConfig.RelayEnabled() {
		relay, err := startRelay(signalCtx, appConfig, hub, logger, recorder)
		if err != nil {
			return err
		}
		defer relay.Close() //nolint:errcheck
		publisher = relay
	}

	transport, err := newSmsTransport(appConfig, logger)
	if err != nil {
		return err
	}
	dispatcher := sms.NewDispatcher(sms.DispatcherConfig{
		Transport: transport,
		Logger:    logger.Named("sms"),
		Metrics:   recorder,
	})

	directoryService, err := directory.NewService(directory.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	idProvider := models.NewUUIDProvider()
	ledger, err := alerts.NewLedger(alerts.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	workflow, err := alerts.NewWorkflow(alerts.WorkflowConfig{
		Database:   db,
		Directory:  directoryService,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		return err
	}
	incidentService, err := incidents.NewService(incidents.ServiceConfig{
		Database:   db,
		Publisher:  publisher,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:  sessions,
		Directory: directoryService,
		Alerts:    workflow,
		Ledger:    ledger,
		Incidents: incidentService,
		Realtime: realtime.NewWebSocketHandler(hub, realtime.WebSocketConfig{
			AllowedOrigins: appConfig.AllowedOrigins,
			Logger:         logger,
		}),
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("sms_enabled", appConfig.SmsEnabled()),
			zap.Bool("relay_enabled", appConfig.RelayEnabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func startRelay(ctx context.Context, appConfig config.AppConfig, hub *realtime.Hub, logger *zap.Logger, recorder *metrics.Recorder) (*realtime.Relay, error) {
	options, err := redis.ParseURL(appConfig.RedisURL)
	if err != nil {
		return nil, err
	}
	relay, err := realtime.NewRelay(realtime.RelayConfig{
		Client:  redis.NewClient(options),
		Channel: appConfig.RedisChannel,
		Hub:     hub,
		Logger:  logger.Named("relay"),
		Metrics: recorder,
	})
	if err != nil {
		return nil, err
	}
	if err := relay.Start(ctx); err != nil {
		return nil, err
	}
	return relay, nil
}

func newSmsTransport(appConfig config.AppConfig, logger *zap.Logger) (sms.Transport, error) {
	if !appConfig.SmsEnabled() {
		logger.Warn("sms provider not configured; sms sends will fail")
		return sms.DisabledTransport{}, nil
	}
	return sms.NewHTTPTransport(sms.HTTPTransportConfig{
		BaseURL:    appConfig.SmsBaseURL,
		APIKey:     appConfig.SmsAPIKey,
		SenderID:   appConfig.SmsSenderID,
		Timeout:    appConfig.SmsTimeout,
		RetryCount: appConfig.SmsRetryCount,
		Logger:     logger.Named("sms"),
	})
}
