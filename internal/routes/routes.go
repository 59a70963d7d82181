package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/config"
	"github.com/petaverse/peta_wallet/internal/escrow"
	"github.com/petaverse/peta_wallet/internal/fraud"
	"github.com/petaverse/peta_wallet/internal/funding"
	"github.com/petaverse/peta_wallet/internal/jobs"
	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/middleware"
	"github.com/petaverse/peta_wallet/internal/notification"
	"github.com/petaverse/peta_wallet/internal/payments"
	"github.com/petaverse/peta_wallet/internal/reservation"
	"github.com/petaverse/peta_wallet/internal/review"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares, all application routes, and the background
// job runner the server starts alongside the listener.
func Setup(app *fiber.App, d Deps) (*jobs.Runner, error) {
	// The dev fallbacks below are in-memory; anything else needs real stores.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Stores
	var (
		balances    ledger.Store
		records     ledger.Records
		journal     audit.Journal
		checkpoints audit.CheckpointStore
		walletRepo  wallet.Repository
		resvRepo    reservation.Repository
		escrowRepo  escrow.Repository
		fraudRepo   fraud.Repository
	)
	if d.DB != nil {
		balances = ledger.NewPostgresStore(d.DB)
		records = ledger.NewPostgresRecords(d.DB)
		journal = audit.NewPostgresJournal(d.DB)
		checkpoints = audit.NewPostgresCheckpoints(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		resvRepo = reservation.NewPostgresRepository(d.DB)
		escrowRepo = escrow.NewPostgresRepository(d.DB)
		fraudRepo = fraud.NewPostgresRepository(d.DB)
	} else {
		balances = ledger.NewMemoryStore()
		records = ledger.NewMemoryRecords()
		journal = audit.NewMemoryJournal()
		checkpoints = audit.NewMemoryCheckpoints()
		walletRepo = wallet.NewMemoryRepository()
		resvRepo = reservation.NewMemoryRepository()
		escrowRepo = escrow.NewMemoryRepository()
		fraudRepo = fraud.NewMemoryRepository()
	}

	// Services
	core := ledger.NewCore(balances, records, journal, d.Cfg.LedgerMaxRetries, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(walletRepo, core)

	manager := reservation.NewManager(core, resvRepo, d.Logger)
	sweeper := reservation.NewSweeper(manager, d.Cfg.SweepInterval, d.Logger)

	engine := escrow.NewEngine(manager, escrowRepo, nil, notifier, d.Logger)

	var velocity fraud.Velocity
	if d.Cache != nil {
		velocity = fraud.NewRedisVelocity(d.Cache, d.Cfg.VelocityWindow)
	}
	evaluator := fraud.NewEvaluator(velocity, d.Cfg.VelocityLimit, fraudRepo, d.Logger)

	var reviews *review.Service
	if d.Cache != nil {
		reviews = review.NewService(d.Cache, d.Cfg.ReviewTTL, d.Logger)
	}

	paymentSvc := payments.NewService(core, walletSvc, evaluator, reviews, notifier, d.Cfg.FraudThreshold, d.Logger)

	fundingSvc, err := funding.NewService(core, walletSvc, nil)
	if err != nil {
		return nil, err
	}

	reconciler := audit.NewReconciler(journal, checkpoints, liveBalance(balances), d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.Principal())
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc))
	RegisterReservationRoutes(protected, reservation.NewHandler(manager, walletSvc))
	RegisterEscrowRoutes(protected, escrow.NewHandler(engine, walletSvc))
	RegisterFundingRoutes(protected, funding.NewHandler(fundingSvc))
	RegisterAdminRoutes(protected, reconciler, walletSvc, fraudRepo)

	return jobs.NewRunner(sweeper, engine, reconciler, d.Cfg.EscrowSchedule, d.Cfg.ReconcileSchedule, d.Logger)
}

// liveBalance adapts the ledger store to the reconciler's reader.
func liveBalance(store ledger.Store) audit.BalanceFunc {
	return func(ctx context.Context, account string) (audit.BalanceState, bool, error) {
		bal, err := store.Get(ctx, account)
		if errors.Is(err, ledger.ErrUnknownAccount) {
			return audit.BalanceState{}, false, nil
		}
		if err != nil {
			return audit.BalanceState{}, false, err
		}
		return audit.BalanceState{Available: bal.Available, Reserved: bal.Reserved, Version: bal.Version}, true, nil
	}
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
