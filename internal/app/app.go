// Package app wires the indexer process: storage, Kafka ingestion, the
// maintenance scheduler, and the metrics and health endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tryethernal/ethernal-sub004/internal/blockchain"
	"github.com/tryethernal/ethernal-sub004/internal/config"
	"github.com/tryethernal/ethernal-sub004/internal/jobs"
	"github.com/tryethernal/ethernal-sub004/internal/kafka"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
	"github.com/tryethernal/ethernal-sub004/internal/service"
	"github.com/tryethernal/ethernal-sub004/migrations"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"github.com/tryethernal/ethernal-sub004/pkg/migrate"
)

type repositories struct {
	tx           *repository.Repository
	workspaces   repository.WorkspaceRepository
	blocks       repository.BlockRepository
	transactions repository.TransactionRepository
	tokens       repository.TokenRepository
	events       repository.EventRepository
	rollups      repository.RollupRepository
	quotas       repository.QuotaRepository
	integrity    repository.IntegrityRepository
	rpcHealth    repository.RpcHealthRepository
	orbit        repository.OrbitRepository
	executions   *repository.ExecutionRepository
}

// Services exposes the engine's components to embedders and tests.
type Services struct {
	Ingestion   *service.IngestionService
	Quota       *service.QuotaService
	Projector   *service.AnalyticsProjector
	Orbit       *service.OrbitService
	Integrity   *service.IntegrityService
	RpcHealth   *service.RpcHealthService
	Dedup       *service.DedupService
	ChainPolicy *service.ChainPolicy
}

type App struct {
	cfg *config.Config

	db          *gorm.DB
	redisClient redis.UniversalClient
	grpcServer  *grpc.Server
	healthSrv   *health.Server
	httpServer  *http.Server

	repos    repositories
	services Services

	producer *kafka.Producer
	consumer *kafka.Consumer
	syncCtl  *kafka.SyncController

	scheduler *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{cfg: cfg, ctx: ctx, cancel: cancel}
}

func (a *App) Services() Services { return a.services }

// Run starts every component. It returns once the process is serving.
func (a *App) Run() error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := a.initRedis(); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.initRepositories()
	a.initServices()
	if err := a.initKafka(); err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	if err := a.initScheduler(); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	a.scheduler.Start()

	if a.consumer != nil {
		if err := a.consumer.Start(a.ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	}
	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("start grpc: %w", err)
	}
	a.startMetrics()
	return nil
}

// Shutdown stops intake first, then drains the scheduler, then closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down indexer")

	if a.healthSrv != nil {
		a.healthSrv.Shutdown()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			logger.Error("failed to stop consumer", zap.Error(err))
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("failed to close producer", zap.Error(err))
		}
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	a.cancel()
	logger.Info("indexer stopped")
	return nil
}

func (a *App) initDB() error {
	pg := a.cfg.Postgres
	db, err := gorm.Open(postgres.Open(pg.DSN()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pg.MaxConnections)
	sqlDB.SetMaxIdleConns(pg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pg.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", pg.Host),
		zap.String("database", pg.Database))

	if pg.AutoMigrate {
		m := migrate.NewMigrator(sqlDB, a.cfg.Service.Name, logger.L())
		if err := m.Up(migrations.FS, "."); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initRedis() error {
	rc := a.cfg.Redis
	a.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    rc.Addresses,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info("redis connected", zap.Strings("addresses", rc.Addresses))
	return nil
}

func (a *App) initRepositories() {
	a.repos = repositories{
		tx:           repository.NewRepository(a.db),
		workspaces:   repository.NewWorkspaceRepository(a.db),
		blocks:       repository.NewBlockRepository(a.db),
		transactions: repository.NewTransactionRepository(a.db),
		tokens:       repository.NewTokenRepository(a.db),
		events:       repository.NewEventRepository(a.db),
		rollups:      repository.NewRollupRepository(a.db),
		quotas:       repository.NewQuotaRepository(a.db),
		integrity:    repository.NewIntegrityRepository(a.db),
		rpcHealth:    repository.NewRpcHealthRepository(a.db),
		orbit:        repository.NewOrbitRepository(a.db),
		executions:   repository.NewExecutionRepository(a.db),
	}
}

func (a *App) initServices() {
	r := a.repos
	cfg := a.cfg

	var source service.ChainSource = service.StaticChainSource(cfg.ChainPolicy.ForbiddenChains)
	if cfg.ChainPolicy.SourceURL != "" {
		source = &service.HTTPChainSource{URL: cfg.ChainPolicy.SourceURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	chains := service.NewChainPolicy(source, cfg.ChainPolicy.TTL())

	projector := service.NewAnalyticsProjector(r.events)
	quota := service.NewQuotaService(r.tx, r.quotas,
		service.StaticPlanProvider{Quota: cfg.Quota.DefaultQuota},
		service.QuotaWindow(cfg.Quota.Window))

	a.services = Services{
		Ingestion: service.NewIngestionService(r.tx, r.workspaces, r.blocks, r.transactions, r.tokens,
			projector, quota, chains),
		Quota:       quota,
		Projector:   projector,
		Orbit:       service.NewOrbitService(r.tx, r.orbit, r.transactions),
		Integrity:   service.NewIntegrityService(r.integrity),
		RpcHealth:   service.NewRpcHealthService(r.tx, r.rpcHealth, cfg.RpcHealth.MaxFailedAttempts, service.StopPolicy(cfg.RpcHealth.StopPolicy)),
		Dedup:       service.NewDedupService(r.tx, r.tokens, r.events),
		ChainPolicy: chains,
	}
}

func (a *App) initKafka() error {
	kc := a.cfg.Kafka
	if !kc.Enabled {
		logger.Warn("kafka disabled, ingestion topics are not consumed")
		return nil
	}

	sasl := &kafka.SASLConfig{
		Enable:    kc.SASL.Enable,
		Mechanism: kc.SASL.Mechanism,
		Username:  kc.SASL.Username,
		Password:  kc.SASL.Password,
	}
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  kc.Brokers,
		ClientID: kc.ClientID,
		SASL:     sasl,
	})
	if err != nil {
		return err
	}
	a.producer = producer
	a.syncCtl = kafka.NewSyncController(producer, kc.Topics.SyncControl)

	handler := kafka.NewHandler(kafka.HandlerConfig{
		Topics:          kc.Topics,
		Ingester:        a.services.Ingestion,
		Orbit:           a.services.Orbit,
		Integrity:       a.services.Integrity,
		Redeliverer:     producer,
		MaxRedeliveries: a.cfg.Ingestion.MaxRedeliveries,
		RetryBackoff:    time.Duration(a.cfg.Ingestion.RetryBackoffMs) * time.Millisecond,
	})
	a.consumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.GroupID,
		ClientID: kc.ClientID,
		SASL:     sasl,
	}, handler)
	return err
}

func (a *App) initScheduler() error {
	a.scheduler = scheduler.New(&scheduler.Config{
		MaxConcurrentJobs: a.cfg.Scheduler.MaxConcurrentJobs,
		Redis:             a.redisClient,
	}, a.repos.executions)

	if n, err := a.repos.executions.MarkStaleRunningAsFailed(a.ctx, time.Hour); err != nil {
		logger.Warn("failed to clean stale job executions", zap.Error(err))
	} else if n > 0 {
		logger.Info("stale job executions marked failed", zap.Int64("count", n))
	}

	jc := a.cfg.Jobs
	var syncCtl jobs.SyncControl
	if a.syncCtl != nil {
		syncCtl = a.syncCtl
	}

	partitions := jobs.NewPartitionManageJob(a.db, jobs.EventTables, jc.PartitionMgmt.Days)
	// partitions must exist before the first events of the month arrive
	if _, err := partitions.Execute(a.ctx); err != nil {
		logger.Warn("initial partition run failed", zap.Error(err))
	}

	registrations := []struct {
		job scheduler.Job
		cfg config.JobConfig
	}{
		{jobs.NewRpcProbeJob(a.repos.workspaces, blockchain.NewRPCProber(a.cfg.RpcHealth.ProbeTimeout()),
			a.services.RpcHealth, syncCtl, a.cfg.RpcHealth.ProbeConcurrency), jc.RpcProbe},
		{jobs.NewDedupReconcileJob(a.repos.workspaces, a.services.Dedup), jc.DedupReconcile},
		{jobs.NewRollupRefreshJob(a.repos.rollups, jc.RollupRefresh.Days), jc.RollupRefresh},
		{partitions, jc.PartitionMgmt},
		{jobs.NewQuotaRolloverJob(a.services.Quota), jc.QuotaRollover},
	}
	for _, r := range registrations {
		if err := a.scheduler.RegisterJob(r.job, scheduler.JobConfig{Cron: r.cfg.Cron, Enabled: r.cfg.Enabled}); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Service.GRPCPort)))
	if err != nil {
		return err
	}

	a.grpcServer = grpc.NewServer()
	a.healthSrv = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthSrv)
	a.healthSrv.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)
	a.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	logger.Info("grpc health server listening", zap.Int("port", a.cfg.Service.GRPCPort))
	return nil
}

func (a *App) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/integrity/", a.integrityStatus)

	a.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Service.HTTPPort)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.Int("port", a.cfg.Service.HTTPPort))
}

// integrityStatus serves GET /integrity/{workspaceID}.
func (a *App) integrityStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Path[len("/integrity/"):], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid workspace id", http.StatusBadRequest)
		return
	}
	status, err := a.services.Integrity.GetStatus(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"workspaceId":%d,"status":%q}`, id, statusOf(status))
}

func statusOf(s model.IntegrityStatus) string {
	if s == "" {
		return string(model.IntegrityStatusHealthy)
	}
	return string(s)
}
