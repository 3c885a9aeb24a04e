package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	_ "github.com/lib/pq"
	globalConfig "github.com/marianovz/wa-blast/config"
	"github.com/marianovz/wa-blast/infrastructure/events"
	"github.com/marianovz/wa-blast/infrastructure/whatsapp"
	"github.com/marianovz/wa-blast/pkg/connlimit"
	"github.com/marianovz/wa-blast/repository"
	"github.com/marianovz/wa-blast/ui/rest"
	"github.com/marianovz/wa-blast/ui/rest/middleware"
	"github.com/marianovz/wa-blast/ui/websocket"
	"github.com/marianovz/wa-blast/usecase"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the session manager and campaign dispatcher over http",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

// openDatabase picks the dialector from the URI scheme. sqlite is the
// default; a postgres:// URI switches drivers.
func openDatabase(uri string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		dialector = postgres.Open(uri)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(uri, "file:"))
	}

	logMode := gormLogger.Silent
	if globalConfig.AppDebug {
		logMode = gormLogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(logMode),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetMaxIdleConns(10)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func restServer(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	db, err := openDatabase(globalConfig.DBURI)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}

	accountRepo := repository.NewAccountGormRepository(db)
	activityRepo := repository.NewActivityGormRepository(db)
	campaignRepo := repository.NewCampaignGormRepository(db)
	for name, initFn := range map[string]func(context.Context) error{
		"accounts":  accountRepo.InitSchema,
		"activity":  activityRepo.InitSchema,
		"campaigns": campaignRepo.InitSchema,
	} {
		if err := initFn(ctx); err != nil {
			logrus.Fatalf("Failed to init %s schema: %v", name, err)
		}
	}

	var mirror usecase.ActivityMirror
	var publisher *events.Publisher
	if globalConfig.AMQPUrl != "" {
		publisher, err = events.New(globalConfig.AMQPUrl, globalConfig.AMQPExchange)
		if err != nil {
			logrus.Fatalf("Failed to connect activity event broker: %v", err)
		}
		mirror = publisher
		logrus.WithField("exchange", globalConfig.AMQPExchange).Info("[REST] Activity event mirror enabled")
	}

	registry := whatsapp.NewRegistry()
	dialer := whatsapp.NewDialer()
	limiter := connlimit.New(globalConfig.ConnectCooldown)

	sessionUsecase := usecase.NewSessionService(accountRepo, activityRepo, campaignRepo, dialer, registry, limiter, mirror)
	accountUsecase := usecase.NewAccountService(accountRepo, activityRepo, sessionUsecase, dialer)
	campaignUsecase := usecase.NewCampaignService(campaignRepo, accountRepo, activityRepo, sessionUsecase)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(globalConfig.CampaignScheduleEvery, func() {
		if err := campaignUsecase.DispatchDue(context.Background()); err != nil {
			logrus.WithError(err).Error("[REST] Scheduled campaign dispatch failed")
		}
	}); err != nil {
		logrus.Fatalf("Invalid campaign schedule %q: %v", globalConfig.CampaignScheduleEvery, err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		Network:               "tcp",
		AppName:               "Wa-Blast " + globalConfig.AppVersion,
		DisableStartupMessage: false,
		ServerHeader:          "Hidden",
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	if globalConfig.AppDebug {
		app.Use(logger.New())
	}

	if len(globalConfig.AppBasicAuthCredential) == 0 {
		logrus.Fatalln("APP_BASIC_AUTH is required. Nothing should be public; please set APP_BASIC_AUTH=<user>:<secret>[,<user2>:<secret2>] and restart.")
	}
	authAccounts := make(map[string]string)
	for _, credential := range globalConfig.AppBasicAuthCredential {
		ba := strings.Split(credential, ":")
		if len(ba) != 2 {
			logrus.Fatalln("Basic auth is not valid, please this following format <user>:<secret>")
		}
		authAccounts[ba[0]] = ba[1]
	}

	app.Static(globalConfig.AppBasePath+"/statics", "./statics")

	apiGroup := app.Group(globalConfig.AppBasePath + "/api")
	apiGroup.Use(basicauth.New(basicauth.Config{
		Users: authAccounts,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
	}))

	rest.InitRestAccount(apiGroup, accountUsecase, sessionUsecase)
	rest.InitRestCampaign(apiGroup, campaignUsecase)

	websocket.RegisterRoutes(apiGroup)
	go websocket.RunHub()

	apiGroup.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API Endpoint not found",
			"path":  c.Path(),
		})
	})

	// Reconnect every account that was not deliberately disconnected before
	// the last shutdown.
	go sessionUsecase.ConnectAllOnStartup(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}

		scheduler.Stop()
		sessionUsecase.DisconnectAll(context.Background())
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logrus.Errorf("[REST] Error closing event publisher: %v", err)
			}
		}
	}()

	if err := app.Listen(":" + globalConfig.AppPort); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
