package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/integrations/issuetracker"
	"outage-tracker/pkg/integrations/statuspage"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/notify"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/tracker"
)

// Options contains command-line configuration options for the tracker server.
type Options struct {
	ConfigPath       string
	Port             string
	DatabaseDSN      string
	CORSOrigin       string
	HMACSecretFile   string
	ReconcileWorkers int
	SweepInterval    time.Duration
}

// NewOptions parses command-line flags and returns a new Options instance.
func NewOptions() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&opts.Port, "port", "8080", "Port to listen on")
	flag.StringVar(&opts.DatabaseDSN, "dsn", "", "PostgreSQL DSN connection string")
	flag.StringVar(&opts.CORSOrigin, "cors-origin", "*", "Allowed CORS origin (use '*' for all origins)")
	flag.StringVar(&opts.HMACSecretFile, "hmac-secret-file", "", "File containing HMAC secret")
	flag.IntVar(&opts.ReconcileWorkers, "reconcile-workers", 2, "Number of announcement reconcile workers")
	flag.DurationVar(&opts.SweepInterval, "sweep-interval", time.Minute, "Interval between notification sweep runs")
	flag.Parse()

	return opts
}

// Validate checks that all required options are provided and valid.
func (o *Options) Validate() error {
	if o.ConfigPath == "" {
		return errors.New("config path is required (use --config flag)")
	}

	if _, err := os.Stat(o.ConfigPath); os.IsNotExist(err) {
		return errors.New("config file does not exist: " + o.ConfigPath)
	}

	if o.Port == "" {
		return errors.New("port cannot be empty")
	}

	if o.DatabaseDSN == "" {
		return errors.New("database DSN is required (use --dsn flag)")
	}

	if o.HMACSecretFile == "" {
		return errors.New("hmac secret file is required (use --hmac-secret-file flag)")
	}
	if _, err := os.Stat(o.HMACSecretFile); os.IsNotExist(err) {
		return errors.New("hmac secret file does not exist: " + o.HMACSecretFile)
	}

	if os.Getenv("CHAT_TOKEN") == "" {
		return errors.New("CHAT_TOKEN environment variable is required")
	}

	return nil
}

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func connectDatabase(log *logrus.Logger, dsn string) *gorm.DB {
	log.Info("Connecting to PostgreSQL database")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.WithField("error", err).Fatal("Failed to connect to database")
	}
	return db
}

func getHMACSecret(path string) []byte {
	secret, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	// Trim any trailing newlines/whitespace from the secret
	return []byte(strings.TrimSpace(string(secret)))
}

// runSweeps drives the periodic notification sweeps until ctx is cancelled.
func runSweeps(ctx context.Context, sweeper *notify.Sweeper, interval time.Duration, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"eta", sweeper.RunETA},
		{"communication", sweeper.RunCommunication},
		{"missing_eta", sweeper.RunMissingETA},
		{"postmortem", sweeper.RunPostmortem},
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, run := range runs {
				if err := run.fn(ctx); err != nil {
					log.WithFields(logrus.Fields{
						"sweep": run.name,
						"error": err,
					}).Error("Notification sweep failed")
				}
			}
		}
	}
}

func main() {
	log := setupLogger()
	opts := NewOptions()

	if err := opts.Validate(); err != nil {
		log.WithField("error", err).Fatal("Invalid command-line options")
	}

	configManager, err := config.NewManager(opts.ConfigPath, config.LoadTrackerConfig, log, config.DefaultDebounceDelay)
	if err != nil {
		log.WithField("error", err).Fatal("Failed to load configuration")
	}
	defer configManager.Close()

	db := connectDatabase(log, opts.DatabaseDSN)
	repos := repositories.NewGORMRepositories(db)
	hmacSecret := getHMACSecret(opts.HMACSecretFile)

	m := metrics.New(prometheus.DefaultRegisterer)
	chatClient := chat.NewClient(slack.New(os.Getenv("CHAT_TOKEN")), log)
	notifier := tracker.NewChatNotifier(chatClient, repos.Users, log)

	statusPage := statuspage.NewClient(configManager.Get().StatusPage)
	reconciler := tracker.NewReconciler(repos, chatClient, notifier, configManager, statusPage, m, log)
	dispatcher := tracker.NewDispatcher(reconciler, opts.ReconcileWorkers, 64, m, log)
	manager := tracker.NewManager(repos, configManager, dispatcher.Enqueue, log)

	cfg := configManager.Get()
	var mailer mail.Sender = &mail.DisabledSender{Logger: log}
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPSender(cfg.SMTP, log)
	}
	issues := issuetracker.NewClient(cfg.IssueTracker)
	sweeper := notify.NewSweeper(repos, chatClient, mailer, issues, configManager, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := configManager.Watch(ctx); err != nil {
			log.WithField("error", err).Error("Config watcher stopped")
		}
	}()
	dispatcher.Start(ctx)
	go runSweeps(ctx, sweeper, opts.SweepInterval, log)

	server := NewServer(db, manager, reconciler, chatClient, m, log, opts.CORSOrigin, hmacSecret)

	addr := ":" + opts.Port
	// Run server in a goroutine
	go func() {
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.WithFields(logrus.Fields{
				"address": addr,
				"error":   err,
			}).Fatal("Server failed to start")
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	// Stop admitting requests before the dispatcher, so in-flight mutations
	// can still enqueue their reconciliations.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.WithField("error", err).Error("Graceful shutdown failed")
	}
	cancel()
	dispatcher.Stop()
}
