package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	coreconfig "github.com/AzielCF/az-wap-broadcast/core/config"
	coreDB "github.com/AzielCF/az-wap-broadcast/core/database"
	domainBroadcast "github.com/AzielCF/az-wap-broadcast/domains/broadcast"
	"github.com/AzielCF/az-wap-broadcast/infrastructure/valkey"
	whatsappadapter "github.com/AzielCF/az-wap-broadcast/infrastructure/whatsapp/adapter"
	"github.com/AzielCF/az-wap-broadcast/pkg/msgworker"
	"github.com/AzielCF/az-wap-broadcast/pkg/utils"
	"github.com/AzielCF/az-wap-broadcast/sessions/application"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/AzielCF/az-wap-broadcast/sessions/repository"
	"github.com/AzielCF/az-wap-broadcast/ui/websocket"
	"github.com/AzielCF/az-wap-broadcast/usecase"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

const (
	notificationBuffer = 256
	// Snapshots in Valkey outlive restarts but not abandoned sessions.
	valkeySnapshotTTL = 30 * 24 * time.Hour
)

var (
	db       *gorm.DB
	vkClient *valkey.Client
	serverID string

	hub        *websocket.Hub
	hubCancel  context.CancelFunc
	sessionMgr *application.Manager
	factory    *whatsappadapter.Factory
	queue      *msgworker.Queue

	broadcastUsecase domainBroadcast.IBroadcastUsecase
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Broadcast messages to WhatsApp groups",
	Long: `Links WhatsApp accounts by QR, caches their groups and
delivers single messages or staggered campaigns through one global queue.`,
}

func init() {
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig, initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringP("port", "p", "", "change port number with --port <number> | example: --port=8080")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "show debug logs with --debug <true/false> | example: --debug=true")
	rootCmd.PersistentFlags().String("os", "", `os name shown on the linked device --os <string> | example: --os="Chrome"`)
	rootCmd.PersistentFlags().StringSliceP("basic-auth", "b", nil, "basic auth credential | -b=yourUsername:yourPassword")
	rootCmd.PersistentFlags().String("base-path", "", `base path for subpath deployment --base-path <string> | example: --base-path="/broadcast"`)

	_ = viper.BindPFlag("app_port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("app_debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("app_os", rootCmd.PersistentFlags().Lookup("os"))
	_ = viper.BindPFlag("app_basic_auth", rootCmd.PersistentFlags().Lookup("basic-auth"))
	_ = viper.BindPFlag("app_base_path", rootCmd.PersistentFlags().Lookup("base-path"))
}

// initEnvConfig loads the structured config and applies flag overrides on top.
func initEnvConfig() {
	viper.AutomaticEnv()

	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("[CONFIG] Failed to load config: %v", err)
	}

	if port := viper.GetString("app_port"); port != "" {
		cfg.App.Port = port
	}
	if viper.GetBool("app_debug") {
		cfg.App.Debug = true
	}
	if osName := viper.GetString("app_os"); osName != "" {
		cfg.Whatsapp.OS = osName
	}
	if creds := viper.GetStringSlice("app_basic_auth"); len(creds) > 0 {
		cfg.App.BasicAuth = splitCredentials(creds)
	}
	if basePath := viper.GetString("app_base_path"); basePath != "" {
		cfg.App.BasePath = basePath
	}
}

// splitCredentials accepts both repeated flags and one comma separated value.
func splitCredentials(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func initApp() {
	cfg := coreconfig.Global
	if cfg.App.Debug {
		cfg.Whatsapp.LogLevel = "DEBUG"
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreateFolder(cfg.Paths.Storages, cfg.Paths.Uploads); err != nil {
		logrus.Errorln(err)
	}

	ctx := context.Background()

	var err error
	db, err = coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Failed to open database: %v", err)
	}

	deliveryLogs := repository.NewDeliveryLogGormRepository(db)
	if err := deliveryLogs.Init(ctx); err != nil {
		logrus.Fatalf("[APP] Failed to init delivery logs: %v", err)
	}

	serverID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Warnf("[APP] Valkey unavailable, using the database for session snapshots: %v", err)
			vkClient = nil
		}
	}
	store := newSessionStore(ctx, cfg, vkClient, db)

	hub = websocket.NewHub(vkClient, serverID, notificationBuffer)
	var hubCtx context.Context
	hubCtx, hubCancel = context.WithCancel(ctx)
	go hub.Run(hubCtx)

	factory = whatsappadapter.NewFactory(cfg)
	sessionMgr = application.NewManager(cfg.Sessions, store, factory.Build, hub)

	tracker := msgworker.NewCampaignTracker(hub)
	queue = msgworker.NewQueue(cfg.Delivery, sessionMgr, deliveryLogs, tracker, hub)

	broadcastUsecase = usecase.NewBroadcastService(sessionMgr, queue, deliveryLogs, cfg.Delivery, cfg.Paths.Uploads)

	logrus.Infof("[APP] Ready (server %s, driver %s)", serverID, cfg.Database.Driver)
}

// newSessionStore picks where snapshots live: Valkey when connected, the
// database by default, process memory when asked for or when the database
// store cannot start.
func newSessionStore(ctx context.Context, cfg *coreconfig.Config, vk *valkey.Client, db *gorm.DB) session.SessionStore {
	if vk != nil {
		logrus.Infof("[APP] Session snapshots stored in Valkey (%s)", cfg.Database.ValkeyAddress)
		return repository.NewValkeySessionStore(vk, valkeySnapshotTTL)
	}
	if cfg.Database.SessionStore == "memory" {
		logrus.Warn("[APP] Session snapshots kept in memory, they will not survive a restart")
		return repository.NewMemorySessionStore()
	}

	gormStore := repository.NewSessionGormRepository(db)
	if err := gormStore.Init(ctx); err != nil {
		logrus.WithError(err).Error("[APP] Failed to init session store, keeping snapshots in memory")
		return repository.NewMemorySessionStore()
	}
	return gormStore
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp drains the subsystems in dependency order.
func StopApp(ctx context.Context) {
	logrus.Info("[APP] Stopping application...")

	if queue != nil {
		queue.Stop()
	}
	if sessionMgr != nil {
		sessionMgr.Shutdown(ctx)
	}
	if factory != nil {
		if err := factory.Close(); err != nil {
			logrus.WithError(err).Warn("[APP] Failed to close device store")
		}
	}
	if hubCancel != nil {
		hubCancel()
	}
	if vkClient != nil {
		vkClient.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
