package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/service"
)

func main() {
	// .env is optional; deployments set real environment variables.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	titles := repository.NewTitleRepo(db)
	ledger := repository.NewTransactionRepo(db)
	returns := repository.NewReturnRequestRepo(db)
	patrons := repository.NewPatronRepo(db)
	tokens := repository.NewTokenRepo(db)
	audit := repository.NewAuditRepo(db)

	notifier := service.NewAMQPNotifier(cfg.RabbitURL)
	engine := circulation.NewEngine(titles, ledger, returns, notifier, audit, patrons,
		circulation.WithLoanPeriod(cfg.LoanPeriod),
		circulation.WithApprovalWindow(cfg.ApprovalWindow),
		circulation.WithReminderLead(cfg.ReminderLead),
	)

	sweeper := circulation.NewSweeper(engine, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.RabbitURL != "" {
		go queue.StartNotificationConsumer(cfg.RabbitURL)
	} else {
		log.Printf("RABBITMQ_URL not set, notification consumer disabled")
	}

	cache := service.NewCatalogCache(rdb, cfg.CatalogCacheTTL)
	authH := handler.NewAuthHandler(cfg, patrons, tokens)
	catalogH := handler.NewCatalogHandler(titles, cache)
	patronH := handler.NewPatronCirculationHandler(engine, ledger, returns)
	staffH := handler.NewStaffCirculationHandler(engine, ledger, returns, audit)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterCatalog(e, catalogH, config.LoadRateLimitConfig(), rdb)
	router.RegisterCirculation(e, catalogH, patronH, staffH, cfg.JWTSecret)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
