package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/integrations/issuetracker"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/notify"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/tracker"
	"outage-tracker/pkg/types"
	"outage-tracker/pkg/utils"
)

// env bundles the shared dependencies of all trackerctl subcommands.
type env struct {
	logger        *logrus.Logger
	configManager *config.Manager[types.TrackerConfig]
	db            *gorm.DB
	repos         repositories.Repositories
	chatClient    *chat.Client
	mailer        mail.Sender
	metrics       *metrics.Metrics
}

func newEnv() (*env, error) {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required (flag --config or TRACKER_CONFIG)")
	}
	configManager, err := config.NewManager(configPath, config.LoadTrackerConfig, log, config.DefaultDebounceDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	dsn := viper.GetString("dsn")
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required (flag --dsn or TRACKER_DSN)")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	token := viper.GetString("chat-token")
	if token == "" {
		return nil, fmt.Errorf("chat token is required (flag --chat-token or TRACKER_CHAT_TOKEN)")
	}

	cfg := configManager.Get()
	var mailer mail.Sender = &mail.DisabledSender{Logger: log}
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPSender(cfg.SMTP, log)
	}

	return &env{
		logger:        log,
		configManager: configManager,
		db:            db,
		repos:         repositories.NewGORMRepositories(db),
		chatClient:    chat.NewClient(slack.New(token), log),
		mailer:        mailer,
		metrics:       metrics.New(prometheus.NewRegistry()),
	}, nil
}

func (e *env) sweeper() *notify.Sweeper {
	issues := issuetracker.NewClient(e.configManager.Get().IssueTracker)
	return notify.NewSweeper(e.repos, e.chatClient, e.mailer, issues, e.configManager, e.metrics, e.logger)
}

var rootCmd = &cobra.Command{
	Use:   "trackerctl",
	Short: "Operational commands for the outage tracker",
	Long:  `trackerctl runs the tracker's periodic jobs and maintenance tasks outside the server process.`,
}

var sweepCmd = &cobra.Command{
	Use:       "sweep [eta|communication|postmortem|missing-eta]",
	Short:     "Run one notification sweep and exit",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"eta", "communication", "postmortem", "missing-eta"},
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		sweeper := e.sweeper()
		ctx := context.Background()
		switch args[0] {
		case "eta":
			return sweeper.RunETA(ctx)
		case "communication":
			return sweeper.RunCommunication(ctx)
		case "postmortem":
			return sweeper.RunPostmortem(ctx)
		case "missing-eta":
			return sweeper.RunMissingETA(ctx)
		default:
			return fmt.Errorf("unknown sweep %q", args[0])
		}
	},
}

var syncUsersCmd = &cobra.Command{
	Use:   "sync-users",
	Short: "Import chat workspace users into the user table",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		users, err := e.chatClient.ListUsers()
		if err != nil {
			return fmt.Errorf("failed to list workspace users: %w", err)
		}

		imported := 0
		for _, user := range users {
			if user.Deleted || user.IsBot || user.Profile.Email == "" {
				continue
			}
			record := &types.User{
				Email:       user.Profile.Email,
				ChatID:      user.ID,
				DisplayName: user.RealName,
				Timezone:    user.TZ,
			}
			if err := e.repos.Users.UpsertUser(record); err != nil {
				e.logger.WithFields(logrus.Fields{
					"email": user.Profile.Email,
					"error": err,
				}).Error("Failed to upsert user")
				continue
			}
			imported++
		}
		e.logger.Infof("Imported %d workspace users", imported)
		return nil
	},
}

var syncMonitorsCmd = &cobra.Command{
	Use:   "sync-monitors",
	Short: "Provision alert channels for monitors that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		manager := tracker.NewManager(e.repos, e.configManager, nil, e.logger)
		provisioned, err := syncMonitorChannels(e.repos, e.chatClient, manager, e.logger)
		if err != nil {
			return err
		}
		e.logger.Infof("Provisioned channels for %d monitors", provisioned)
		return nil
	},
}

// syncMonitorChannels creates a chat channel for every monitor still missing
// one and persists the binding through the manager, so the change lands in
// the monitor's history too.
func syncMonitorChannels(repos repositories.Repositories, chatClient *chat.Client,
	manager *tracker.Manager, log *logrus.Logger) (int, error) {
	monitors, err := repos.Monitors.ListMonitors()
	if err != nil {
		return 0, fmt.Errorf("failed to list monitors: %w", err)
	}

	provisioned := 0
	for i := range monitors {
		monitor := &monitors[i]
		if monitor.ChatChannelID != "" || monitor.Name == "" {
			continue
		}
		name := utils.Slugify(monitor.Name)
		channelID, err := chatClient.CreateChannel(name)
		if err != nil {
			log.WithFields(logrus.Fields{
				"monitor_id": monitor.ID,
				"channel":    name,
				"error":      err,
			}).Error("Failed to create monitor channel")
			continue
		}
		monitor.ChatChannelID = channelID
		monitor.ChatChannelName = name
		if err := manager.SaveMonitor(monitor, "trackerctl"); err != nil {
			return provisioned, fmt.Errorf("failed to save monitor %d: %w", monitor.ID, err)
		}
		provisioned++
	}
	return provisioned, nil
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Reporting commands",
}

var reportPostmortemDueCmd = &cobra.Command{
	Use:   "postmortem-due",
	Short: "Publish the report of postmortem issues past their due date",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		cfg := e.configManager.Get()
		client := issuetracker.NewClient(cfg.IssueTracker)
		reporter := issuetracker.NewReporter(client, e.chatClient, e.mailer, e.configManager, e.logger)
		return reporter.RunPastDueReport()
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert development lookup data",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		if err := repositories.AutoMigrate(e.db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		systems := []string{"Booking checkout", "Payment API", "Search", "Internal tools"}
		for _, name := range systems {
			if _, err := e.repos.Systems.GetOrCreateSystem(name); err != nil {
				return fmt.Errorf("failed to seed system %q: %w", name, err)
			}
		}
		rootCauses := []string{"Deploy", "Infrastructure", "Third party", "Configuration", "Unknown"}
		for _, name := range rootCauses {
			if _, err := e.repos.Systems.GetOrCreateRootCause(name); err != nil {
				return fmt.Errorf("failed to seed root cause %q: %w", name, err)
			}
		}
		e.logger.Infof("Seeded %d systems and %d root causes", len(systems), len(rootCauses))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN connection string")
	rootCmd.PersistentFlags().String("chat-token", "", "chat workspace API token")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = viper.BindPFlag("chat-token", rootCmd.PersistentFlags().Lookup("chat-token"))
	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(syncUsersCmd)
	rootCmd.AddCommand(syncMonitorsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(seedCmd)
	reportCmd.AddCommand(reportPostmortemDueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
