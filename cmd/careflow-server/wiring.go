package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/config"
	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/billing"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/domain/nursing"
	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/domain/ward"
	"github.com/ehr/careflow/internal/infra/memory"
	"github.com/ehr/careflow/internal/infra/sqlite"
	"github.com/ehr/careflow/internal/platform/auth"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/livefeed"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/middleware"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// repos is the full set of stores one backend provides.
type repos struct {
	patients      identity.PatientRepository
	staff         identity.StaffRepository
	assignments   identity.AssignmentRepository
	wards         ward.WardRepository
	beds          ward.BedRepository
	admissions    admission.Repository
	records       encounter.RecordRepository
	notes         encounter.NoteRepository
	prescriptions encounter.PrescriptionRepository
	nurseTasks    task.NurseTaskRepository
	labOrders     task.LabOrderRepository
	labTests      task.LabTestRepository
	items         inventory.ItemRepository
	ledger        inventory.TransactionRepository
	vitals        nursing.VitalsRepository
	bills         billing.BillRepository
	outbox        outbox.Store
}

type backend struct {
	driver string
	tx     db.Transactor
	repos  repos
	pinger db.Pinger
	pool   *pgxpool.Pool
	closer io.Closer
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.closer != nil {
		_ = b.closer.Close()
	}
}

// hospitalContext scopes ctx to a hospital outside of an HTTP request. On
// Postgres it pins a connection whose search_path is the hospital schema.
func (b *backend) hospitalContext(ctx context.Context, hospitalID string) (context.Context, func(), error) {
	if b.pool == nil {
		return ctx, func() {}, nil
	}
	conn, err := db.AcquireHospital(ctx, b.pool, hospitalID)
	if err != nil {
		return nil, nil, err
	}
	return db.WithConn(ctx, conn, hospitalID), conn.Release, nil
}

// hospitalMiddleware resolves the hospital for each request. Only Postgres
// partitions data per hospital; the embedded stores hold one hospital.
func (b *backend) hospitalMiddleware(defaultHospital string) echo.MiddlewareFunc {
	if b.pool != nil {
		return db.HospitalMiddleware(b.pool, defaultHospital)
	}
	return db.StaticHospitalMiddleware(defaultHospital)
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &backend{
			driver: cfg.StoreDriver,
			tx:     db.NewTxManager(pool),
			repos:  postgresRepos(pool),
			pinger: pool,
			pool:   pool,
		}, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{
			driver: cfg.StoreDriver,
			tx:     s,
			repos:  memoryRepos(s.Store),
			pinger: s,
			closer: s,
		}, nil
	case config.DriverMemory:
		s := memory.New()
		return &backend{driver: cfg.StoreDriver, tx: s, repos: memoryRepos(s), pinger: s}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func postgresRepos(pool *pgxpool.Pool) repos {
	return repos{
		patients:      identity.NewPatientRepoPG(pool),
		staff:         identity.NewStaffRepoPG(pool),
		assignments:   identity.NewAssignmentRepoPG(pool),
		wards:         ward.NewWardRepoPG(pool),
		beds:          ward.NewBedRepoPG(pool),
		admissions:    admission.NewRepoPG(pool),
		records:       encounter.NewRecordRepoPG(pool),
		notes:         encounter.NewNoteRepoPG(pool),
		prescriptions: encounter.NewPrescriptionRepoPG(pool),
		nurseTasks:    task.NewNurseTaskRepoPG(pool),
		labOrders:     task.NewLabOrderRepoPG(pool),
		labTests:      task.NewLabTestRepoPG(pool),
		items:         inventory.NewItemRepoPG(pool),
		ledger:        inventory.NewTransactionRepoPG(pool),
		vitals:        nursing.NewVitalsRepoPG(pool),
		bills:         billing.NewBillRepoPG(pool),
		outbox:        outbox.NewStorePG(pool),
	}
}

func memoryRepos(s *memory.Store) repos {
	return repos{
		patients:      s.Patients(),
		staff:         s.Staff(),
		assignments:   s.Assignments(),
		wards:         s.Wards(),
		beds:          s.Beds(),
		admissions:    s.Admissions(),
		records:       s.Records(),
		notes:         s.NursingNotes(),
		prescriptions: s.Prescriptions(),
		nurseTasks:    s.NurseTasks(),
		labOrders:     s.LabOrders(),
		labTests:      s.LabTests(),
		items:         s.Items(),
		ledger:        s.StockLedger(),
		vitals:        s.Vitals(),
		bills:         s.Bills(),
		outbox:        s.Outbox(),
	}
}

type services struct {
	identity  *identity.Service
	ward      *ward.Service
	admission *admission.Service
	task      *task.Service
	inventory *inventory.Service
	encounter *encounter.Service
	nursing   *nursing.Service
	billing   *billing.Service

	// feed is set when the relay runs in-process; committed events are then
	// pushed to websocket subscribers.
	feed *livefeed.Hub
}

func buildServices(b *backend, tariff billing.Tariff) *services {
	r := b.repos
	s := &services{}

	s.ward = ward.NewService(b.tx, r.wards, r.beds)
	s.identity = identity.NewService(b.tx, r.patients, r.staff, r.assignments)
	s.identity.SetWardFinder(s.ward)
	s.admission = admission.NewService(b.tx, r.admissions, r.beds, r.patients, r.records, s.identity)
	s.task = task.NewService(b.tx, r.nurseTasks, r.labOrders, r.labTests)
	s.inventory = inventory.NewService(b.tx, r.items, r.ledger)
	s.encounter = encounter.NewService(b.tx, r.records, r.notes, r.prescriptions, r.patients, s.task, s.inventory)
	s.nursing = nursing.NewService(b.tx, r.vitals, r.patients, s.admission)
	s.billing = billing.NewService(b.tx, r.bills, billing.Sources{
		Admissions:    s.admission,
		Rates:         s.ward,
		Patients:      r.patients,
		Visits:        r.records,
		Labs:          r.labTests,
		Prescriptions: r.prescriptions,
		Vitals:        r.vitals,
	}, tariff)

	s.ward.SetOutbox(r.outbox)
	s.identity.SetOutbox(r.outbox)
	s.admission.SetOutbox(r.outbox)
	s.task.SetOutbox(r.outbox)
	s.inventory.SetOutbox(r.outbox)
	s.encounter.SetOutbox(r.outbox)
	s.billing.SetOutbox(r.outbox)
	return s
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func newServer(cfg *config.Config, logger zerolog.Logger, b *backend, s *services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	security := middleware.DefaultSecurityConfig()
	if cfg.IsDev() {
		security.HSTSMaxAge = 0
	}
	e.Use(middleware.SecurityHeaders(security))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Hospital-ID", "X-Actor-ID", "X-Actor-Roles"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "driver": b.driver})
	})
	e.GET("/health/db", db.HealthHandler(b.pinger))
	e.GET("/metrics", metrics.Default().Handler())

	api := e.Group("/api/v1")
	api.Use(middleware.BodyLimit("1M"))
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	api.Use(authMiddleware(cfg))
	api.Use(b.hospitalMiddleware(cfg.DefaultHospital))
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	api.Use(middleware.Audit(logger))

	identity.NewHandler(s.identity).RegisterRoutes(api)
	ward.NewHandler(s.ward).RegisterRoutes(api)
	admission.NewHandler(s.admission).RegisterRoutes(api)
	encounter.NewHandler(s.encounter).RegisterRoutes(api)
	task.NewHandler(s.task).RegisterRoutes(api)
	inventory.NewHandler(s.inventory).RegisterRoutes(api)
	nursing.NewHandler(s.nursing).RegisterRoutes(api)
	billing.NewHandler(s.billing).RegisterRoutes(api)

	// The feed is long lived, so it sits outside the request timeout and
	// the per-request hospital connection.
	if s.feed != nil {
		e.GET("/api/v1/feed", livefeed.NewHandler(s.feed, cfg.CORSOrigins).Connect,
			authMiddleware(cfg),
			auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician, auth.RoleBillingClerk))
	}

	return e
}

// newRelay builds the outbox relay with every configured sink plus extra.
// Without Kafka or S3 configured, events are also written to the log.
func newRelay(ctx context.Context, cfg *config.Config, b *backend, logger zerolog.Logger, extra ...outbox.Sink) (*outbox.Relay, func(), error) {
	var sinks []outbox.Sink
	closeSinks := func() {}

	if len(cfg.KafkaBrokers) > 0 {
		k, err := outbox.NewKafkaSink(strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, k)
		closeSinks = func() { _ = k.Close() }
	}
	if cfg.S3Bucket != "" {
		s3, err := outbox.NewS3Sink(ctx, outbox.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			closeSinks()
			return nil, nil, err
		}
		sinks = append(sinks, s3)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, logSink{logger: logger})
	}
	sinks = append(sinks, extra...)

	relay := outbox.NewRelay(b.repos.outbox, b.tx, sinks, outbox.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		// The embedded stores serialise every unit behind one lock.
		SplitUnits:   b.driver != config.DriverPostgres,
	}, logger)
	return relay, closeSinks, nil
}

type logSink struct {
	logger zerolog.Logger
}

func (logSink) Name() string { return "log" }

func (s logSink) Publish(_ context.Context, e *outbox.Event) error {
	s.logger.Info().
		Str("event_id", e.ID.String()).
		Str("event_type", e.EventType).
		Str("aggregate_type", e.AggregateType).
		Str("aggregate_id", e.AggregateID.String()).
		RawJSON("payload", e.Payload).
		Msg("domain event")
	return nil
}

func connectPostgres(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("schema commands need STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, nil
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
