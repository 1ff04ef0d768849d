package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/mysql/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"noticeboard/internal/asset"
	"noticeboard/internal/aws"
	"noticeboard/internal/broadcast"
	"noticeboard/internal/channel"
	"noticeboard/internal/clock"
	"noticeboard/internal/config"
	"noticeboard/internal/dashboard"
	"noticeboard/internal/logger"
	"noticeboard/internal/metrics"
	"noticeboard/internal/middleware"
	"noticeboard/internal/notice"
	"noticeboard/internal/scheduler"
)

func main() {
	var configPath, paramPath, region string
	flag.StringVar(&configPath, "conf", "config.toml", "config file")
	flag.StringVar(&paramPath, "param", "", "parameter store key holding repository credentials")
	flag.StringVar(&region, "region", "ap-south-1", "parameter store region")
	flag.Parse()

	// Configure File load
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if paramPath != "" {
		if err := cfg.LoadRepositoryParams(region, paramPath); err != nil {
			log.Fatalf("parameter store load failed: %v", err)
		}
	}
	if err := logger.Setup(cfg.Log); err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.Real()

	// Repository
	noticeStore, sessionStorage, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("Repository Connection failed. %v", err)
	}

	sessionStore := session.New(session.Config{
		Storage:        sessionStorage,
		Expiration:     cfg.Session.Expiration(),
		CookieName:     cfg.Session.CookieName,
		CookieHTTPOnly: true,
	})

	assetStorage, err := newAssetStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("asset storage setup failed: %v", err)
	}

	// Broadcast
	registry := channel.NewRegistry(cfg.Notice.Departments)
	var relay broadcast.Relay
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping %s failed: %v", cfg.Redis.Addr, err)
		}
		relay = broadcast.NewRedisRelay(rdb, cfg.Redis.ChannelPrefix)
		log.Infof("broadcast relay enabled on %s", cfg.Redis.Addr)
	}
	dispatcher := broadcast.NewDispatcher(registry, relay)
	go func() {
		if err := dispatcher.RunRelay(ctx); err != nil {
			log.Errorf("broadcast relay stopped: %v", err)
		}
	}()

	// Notice
	noticeService, err := notice.NewService(noticeStore, assetStorage,
		asset.NewPopplerRasterizer(cfg.Storage.RenderDPI), dispatcher, clk, cfg.Notice)
	if err != nil {
		log.Fatalf("notice service setup failed: %v", err)
	}
	noticeHandler := notice.NewNoticeHandler(noticeService, sessionStore)

	// Channel
	channelHandler := channel.NewChannelHandler(registry, func(ctx context.Context, dept string) (interface{}, error) {
		return noticeService.Snapshot(ctx, dept)
	})

	// Dashboard
	dashboardService := dashboard.NewService(noticeStore, registry, clk, noticeService.Departments())
	dashboardHandler := dashboard.NewDashboardHandler(dashboardService, sessionStore)

	// Scheduler
	noticeScheduler := scheduler.NewScheduler(noticeStore, assetStorage, dispatcher, clk,
		cfg.Scheduler.Interval(), cfg.Notice.TimestampFormat)

	// Fiber app and views
	loc, _ := cfg.Notice.Location()
	engine := html.New(cfg.Server.ViewsDir, ".html")
	engine.AddFunc("civil", civilFormatter(loc))

	app := fiber.New(fiber.Config{
		Views:     engine,
		BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024,
	})
	app.Use(middleware.RequestLogger())
	app.Static("/public", cfg.Server.PublicDir)

	// Routes
	knownDept := middleware.DepartmentMiddleware(registry.Known, noticeHandler.HandleUnknownDepartment)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/dashboard")
	})
	app.Get("/dashboard", dashboardHandler.HandleShowDashboard)

	app.Get("/admin/:dept", knownDept, noticeHandler.HandleShowAdminPage)
	app.Post("/admin/:dept", knownDept, noticeHandler.HandleCreateImmediate)
	app.Get("/schedule_notice/:dept", knownDept, noticeHandler.HandleShowSchedulePage)
	app.Post("/schedule_notice/:dept", knownDept, noticeHandler.HandleCreateScheduled)
	app.Post("/delete_notice/:id", noticeHandler.HandleDeleteNotice)
	app.Post("/delete_all_notices/:dept", knownDept, noticeHandler.HandleDeleteAll)

	app.Get("/uploads/:ref", noticeHandler.HandleAsset)
	app.Get("/get_latest_notices/:dept", noticeHandler.HandleSnapshot)
	app.Get("/ws", channelHandler.HandleUpgrade, channelHandler.HandleConnection())
	app.Get("/:dept", noticeHandler.HandleSlideshow)

	// Start
	if err := noticeScheduler.Start(); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}

	go func() {
		log.Infof("noticeboard listening on [::]:%s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
			log.Panicf("HTTP listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	noticeScheduler.Stop()
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("HTTP shutdown failed: %v", err)
	}
	if rdb != nil {
		rdb.Close()
	}

	log.Info("noticeboard stopped")
}

// openRepository returns the notice store and, for MySQL, the session storage
// sharing its connection. A nil storage makes sessions in-memory.
func openRepository(ctx context.Context, cfg *config.Config) (notice.Store, fiber.Storage, error) {
	if cfg.Repository.Driver == "memory" {
		log.Warn("using the in-memory notice store, data is lost on restart")
		return notice.NewMemoryStore(), nil, nil
	}

	dbo, err := aws.CreateConnection(aws.DBI{
		User:     cfg.Repository.User,
		Password: cfg.Repository.Password,
		Endpoint: cfg.Repository.Endpoint,
		Port:     cfg.Repository.Port,
		Database: cfg.Repository.Database,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("Successfully connected to the database.")

	store := notice.NewMySQLStore(dbo)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	sessions := mysql.New(mysql.Config{
		Db:    dbo.DB,
		Table: cfg.Session.Table,
	})
	return store, sessions, nil
}

func newAssetStorage(ctx context.Context, cfg config.StorageConfig) (asset.Storage, error) {
	if cfg.Backend != "s3" {
		return asset.NewLocalStorage(cfg.Dir)
	}
	cli, err := aws.NewS3Client(ctx, aws.S3Options{
		URL:       cfg.URL,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return asset.NewS3Storage(cli, cfg.Bucket, cfg.Dir), nil
}

// civilFormatter renders UTC timestamps in the civil zone admins work in.
func civilFormatter(loc *time.Location) func(v interface{}) string {
	return func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return t.In(loc).Format("2006-01-02 03:04 PM")
		case *time.Time:
			if t == nil {
				return "-"
			}
			return t.In(loc).Format("2006-01-02 03:04 PM")
		default:
			return ""
		}
	}
}
