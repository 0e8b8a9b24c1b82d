package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/michelebogoni/sitepilot/internal/audit"
	"github.com/michelebogoni/sitepilot/internal/config"
	"github.com/michelebogoni/sitepilot/internal/dispatch"
	"github.com/michelebogoni/sitepilot/internal/docker"
	"github.com/michelebogoni/sitepilot/internal/eventbus"
	"github.com/michelebogoni/sitepilot/internal/executor"
	grpcserver "github.com/michelebogoni/sitepilot/internal/grpc"
	"github.com/michelebogoni/sitepilot/internal/health"
	httpserver "github.com/michelebogoni/sitepilot/internal/http"
	"github.com/michelebogoni/sitepilot/internal/logger"
	"github.com/michelebogoni/sitepilot/internal/logstream"
	"github.com/michelebogoni/sitepilot/internal/registry"
	"github.com/michelebogoni/sitepilot/internal/rollback"
	"github.com/michelebogoni/sitepilot/internal/security"
	"github.com/michelebogoni/sitepilot/internal/snapshot"
	"github.com/michelebogoni/sitepilot/internal/state"
	"github.com/michelebogoni/sitepilot/internal/wordpress"
)

const (
	connectTimeout      = 10 * time.Second
	maintenanceInterval = time.Hour
	healthInterval      = 15 * time.Second
	logBufferSize       = 256
)

// Orchestrator manages the executor service lifecycle.
//
// Lifecycle:
//  1. Start() - connects storage, builds the execution pipeline and servers
//  2. Run() - serves HTTP, gRPC and health until the context is cancelled
//  3. Stop() - gracefully closes servers and connections
//
// The snapshot database and the WordPress database are required. NATS, Redis,
// MongoDB, the snippets API and Docker are optional and degrade with a warning.
type Orchestrator struct {
	config *config.Config
	log    *logger.Logger

	// Storage
	snapshotRepo *snapshot.PostgresRepository
	wordpress    *wordpress.MySQLStore
	redisStore   *registry.RedisStore
	mongoAudit   *audit.MongoRecorder
	dockerClient *docker.Client

	// Core components
	snapshots  *snapshot.Manager
	executor   *executor.Executor
	rollbacks  *rollback.Executor
	dispatcher *dispatch.Dispatcher
	registry   registry.Store
	auditor    audit.Recorder
	logs       *logstream.Hub
	checker    *health.Checker

	// Event bus
	natsPublisher  *eventbus.Publisher
	natsSubscriber *eventbus.Subscriber

	// Servers
	httpServer   *httpserver.Server
	grpcServer   *grpcserver.Server
	healthServer *health.Server
}

// NewOrchestrator creates a new Orchestrator. Nothing connects until Start.
func NewOrchestrator(cfg *config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		config:   cfg,
		log:      log.With("component", "orchestrator"),
		registry: registry.NewMemoryStore(),
		auditor:  audit.Nop{},
	}
}

// Start connects every dependency and wires the pipeline. It returns an error
// only when a required dependency is unreachable.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.log.Info("Starting executor orchestrator")

	o.checker = health.NewChecker(o.config.BackupDir)
	o.logs = logstream.NewHub(logBufferSize, o.log)

	if err := o.connectSnapshotStore(ctx); err != nil {
		return fmt.Errorf("failed to connect to snapshot database (required): %w", err)
	}
	if err := o.connectWordPress(ctx); err != nil {
		return fmt.Errorf("failed to connect to WordPress database (required): %w", err)
	}

	o.connectNATS()
	o.connectRedis(ctx)
	o.connectMongo(ctx)

	var snapshotOpts []snapshot.Option
	if o.natsPublisher != nil {
		snapshotOpts = append(snapshotOpts, snapshot.WithNotifier(o.natsPublisher))
		o.logs.SetForwarder(o.natsPublisher)
	}
	o.snapshots = snapshot.NewManager(o.snapshotRepo, o.config.BackupDir, o.log, snapshotOpts...)

	o.initializeExecutor(ctx)
	o.initializeRollback()
	o.initializeDispatcher()

	if err := o.startSubscriber(); err != nil {
		o.log.Warn("Failed to start NATS subscriber", "error", err)
		o.log.Warn("Rollback and dispatch requests over NATS will be unavailable")
	}

	if err := o.initializeServers(); err != nil {
		return fmt.Errorf("failed to initialize servers: %w", err)
	}

	o.log.Info("Executor orchestrator started")
	return nil
}

func (o *Orchestrator) connectSnapshotStore(ctx context.Context) error {
	o.log.Info("Connecting to snapshot database")

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	repo, err := snapshot.NewPostgresRepository(connectCtx, o.config.SnapshotDatabaseURL)
	if err != nil {
		return err
	}
	o.snapshotRepo = repo
	o.checker.Add(health.Check{Name: "snapshot_db", Required: true, Ping: repo.Ping})

	o.log.Info("Connected to snapshot database")
	return nil
}

func (o *Orchestrator) connectWordPress(ctx context.Context) error {
	o.log.Info("Connecting to WordPress database", "table_prefix", o.config.WordPressTablePrefix)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := wordpress.NewMySQLStore(connectCtx, o.config.WordPressDSN, o.config.WordPressTablePrefix)
	if err != nil {
		return err
	}
	o.wordpress = store
	o.checker.Add(health.Check{Name: "wordpress_db", Required: true, Ping: store.Ping})

	o.log.Info("Connected to WordPress database")
	return nil
}

// connectNATS is optional. Without it no events are published and no
// requests are received over the bus.
func (o *Orchestrator) connectNATS() {
	if !o.config.EnableEventBus {
		o.log.Info("Event bus disabled")
		return
	}

	o.log.Info("Connecting to NATS", "url", o.config.NatsURL)

	publisher, err := eventbus.NewPublisher(o.config.NatsURL, o.log)
	if err != nil {
		o.log.Warn("Failed to connect to NATS", "error", err)
		o.log.Warn("Execution and rollback events will not be published")
		return
	}
	o.natsPublisher = publisher
	o.checker.Add(health.Check{Name: "nats", Ping: func(context.Context) error {
		if !publisher.IsConnected() {
			return fmt.Errorf("not connected")
		}
		return nil
	}})

	o.log.Info("Connected to NATS publisher")
}

// connectRedis is optional. The in-memory registry is used when it fails.
func (o *Orchestrator) connectRedis(ctx context.Context) {
	if o.config.RedisAddr == "" {
		o.log.Info("Redis not configured, action registry is in-memory")
		return
	}

	o.log.Info("Connecting to Redis", "addr", o.config.RedisAddr)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := registry.NewRedisStore(connectCtx, o.config.RedisAddr, o.config.RedisPassword, o.config.RedisDB)
	if err != nil {
		o.log.Warn("Failed to connect to Redis", "error", err)
		o.log.Warn("Action registry falls back to memory and will not survive restarts")
		return
	}
	o.redisStore = store
	o.registry = store
	o.checker.Add(health.Check{Name: "redis", Ping: store.Ping})

	o.log.Info("Connected to Redis action registry")
}

// connectMongo is optional. Audit entries are discarded when it fails.
func (o *Orchestrator) connectMongo(ctx context.Context) {
	if o.config.MongoURI == "" {
		o.log.Info("MongoDB not configured, audit log disabled")
		return
	}

	o.log.Info("Connecting to MongoDB", "database", o.config.MongoDatabase)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	recorder, err := audit.NewMongoRecorder(connectCtx, o.config.MongoURI, o.config.MongoDatabase)
	if err != nil {
		o.log.Warn("Failed to connect to MongoDB", "error", err)
		o.log.Warn("Audit log disabled")
		return
	}
	o.mongoAudit = recorder
	o.auditor = recorder

	o.log.Info("Connected to MongoDB audit log")
}

// initializeExecutor builds the interpreter and the method chain:
// snippet, then custom file, then direct.
func (o *Orchestrator) initializeExecutor(ctx context.Context) {
	interpreter := o.buildInterpreter(ctx)

	var snippets executor.SnippetManager
	if o.config.SnippetsAPIURL != "" {
		client := executor.NewSnippetsClient(o.config.SnippetsAPIURL, o.config.SnippetsAPIToken)
		snippets = client
		o.checker.Add(health.Check{Name: "snippets", Ping: client.Ping})
		o.log.Info("Snippet method configured", "url", o.config.SnippetsAPIURL)
	} else {
		o.log.Info("Snippets API not configured, snippet method disabled")
	}

	methods := []executor.Method{
		executor.NewSnippetMethod(snippets),
		executor.NewCustomFileMethod(o.config.CustomCodeDir, interpreter),
		executor.NewDirectMethod(interpreter),
	}

	capturer := state.NewCapturer(o.wordpress, o.wordpress)
	timeout := time.Duration(o.config.ExecutionTimeout) * time.Second

	o.executor = executor.New(security.Default(), methods, capturer, o.snapshots, timeout, o.log)
	o.log.Info("Executor initialized", "interpreter", interpreter.Name(), "timeout", timeout)
}

// buildInterpreter honours EXECUTION_SANDBOX. An unreachable Docker daemon
// falls back to the local PHP binary.
func (o *Orchestrator) buildInterpreter(ctx context.Context) executor.Interpreter {
	process := executor.NewProcessInterpreter(o.config.PHPBinary, o.config.WordPressPath, o.config.MaxOutputBytes)
	if o.config.ExecutionSandbox != config.SandboxDocker {
		return process
	}

	o.log.Info("Connecting to Docker", "image", o.config.SandboxImage)

	client, err := docker.NewClient()
	if err != nil {
		o.log.Warn("Failed to create Docker client, using local PHP", "error", err)
		return process
	}

	prepareCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := client.IsAvailable(prepareCtx); err != nil {
		o.log.Warn("Docker unavailable, using local PHP", "error", err)
		_ = client.Close()
		return process
	}

	sandbox := executor.NewDockerInterpreter(client, o.config.SandboxImage, o.config.CustomCodeDir, o.config.MaxOutputBytes)
	if err := sandbox.Prepare(prepareCtx); err != nil {
		o.log.Warn("Failed to pull sandbox image, it will be pulled on first run", "error", err)
	}

	o.dockerClient = client
	o.checker.Add(health.Check{Name: "docker", Ping: client.IsAvailable})
	return sandbox
}

func (o *Orchestrator) initializeRollback() {
	opts := []rollback.Option{
		rollback.WithCodeReverter(o.executor),
		rollback.WithAuditor(o.auditor),
	}
	if o.natsPublisher != nil {
		opts = append(opts, rollback.WithNotifier(o.natsPublisher))
	}
	o.rollbacks = rollback.NewExecutor(o.snapshots, o.wordpress, o.wordpress, o.log, opts...)
}

func (o *Orchestrator) initializeDispatcher() {
	opts := []dispatch.Option{
		dispatch.WithRegistry(o.registry),
		dispatch.WithAuditor(o.auditor),
		dispatch.WithLogSink(o.logs),
		dispatch.WithStopOnFailure(o.config.BatchStopOnFailure),
	}
	if o.natsPublisher != nil {
		opts = append(opts, dispatch.WithPublisher(o.natsPublisher))
	}
	o.dispatcher = dispatch.New(o.executor, o.log, opts...)
}

func (o *Orchestrator) startSubscriber() error {
	if o.natsPublisher == nil {
		return nil
	}

	timeout := time.Duration(o.config.ExecutionTimeout) * time.Second * 2
	subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.rollbacks, o.snapshots, o.dispatcher, timeout, o.log)
	if err != nil {
		return fmt.Errorf("failed to create NATS subscriber: %w", err)
	}
	if err := subscriber.Start(); err != nil {
		subscriber.Close()
		return fmt.Errorf("failed to start NATS subscriber: %w", err)
	}

	o.natsSubscriber = subscriber
	o.log.Info("NATS subscriber started")
	return nil
}

func (o *Orchestrator) initializeServers() error {
	o.httpServer = httpserver.NewServer(httpserver.Deps{
		Dispatcher: o.dispatcher,
		Validator:  o.executor,
		Snapshots:  o.snapshots,
		Rollbacks:  o.rollbacks,
		Actions:    o.registry,
		Logs:       o.logs,
		Health:     o.checker,
	}, o.log)
	o.healthServer = health.NewServer(o.checker)

	o.grpcServer = grpcserver.NewServer(o.checker, o.log)
	if err := o.grpcServer.Listen(o.config.GRPCPort); err != nil {
		return err
	}

	o.log.Info("Servers initialized",
		"http_port", o.config.HTTPPort,
		"grpc_port", o.config.GRPCPort,
		"health_port", o.config.HealthPort,
	)
	return nil
}

// Run starts all servers and blocks until the context is cancelled or a
// server fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("Starting servers")

	errChan := make(chan error, 3)

	go func() {
		if err := o.httpServer.Start(":" + o.config.HTTPPort); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := o.grpcServer.Serve(nil); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		if err := o.healthServer.Start(":" + o.config.HealthPort); err != nil {
			o.log.Warn("Health server stopped", "error", err)
		}
	}()

	go o.grpcServer.Watch(ctx, healthInterval)
	go o.maintain(ctx, maintenanceInterval)

	o.log.Info("Executor ready")

	select {
	case <-ctx.Done():
		o.log.Info("Shutdown signal received")
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// maintain enforces snapshot retention and the backup size cap every interval.
func (o *Orchestrator) maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runMaintenance(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runMaintenance(ctx)
		}
	}
}

func (o *Orchestrator) runMaintenance(ctx context.Context) {
	removed, err := o.snapshots.CleanupOldSnapshots(ctx, o.config.SnapshotRetentionDays)
	if err != nil {
		o.log.Error("Snapshot retention cleanup failed", "error", err)
	} else if removed > 0 {
		o.log.Info("Expired snapshots removed", "count", removed, "retention_days", o.config.SnapshotRetentionDays)
	}

	evicted, err := o.snapshots.EnforceSizeLimit(ctx, o.config.SnapshotMaxSizeMB)
	if err != nil {
		o.log.Error("Snapshot size enforcement failed", "error", err)
	} else if evicted > 0 {
		o.log.Info("Snapshots evicted for size", "count", evicted, "max_mb", o.config.SnapshotMaxSizeMB)
	}
}

// Stop gracefully closes all servers and connections.
func (o *Orchestrator) Stop() error {
	o.log.Info("Stopping orchestrator")

	if o.httpServer != nil {
		if err := o.httpServer.Stop(); err != nil {
			o.log.Error("Error stopping HTTP server", "error", err)
		}
	}

	if o.healthServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.healthServer.Shutdown(ctx); err != nil {
			o.log.Error("Error stopping health server", "error", err)
		}
		cancel()
	}

	if o.grpcServer != nil {
		o.grpcServer.GracefulStop()
	}

	if o.natsSubscriber != nil {
		o.natsSubscriber.Close()
	}

	if o.natsPublisher != nil {
		o.natsPublisher.Close()
	}

	if o.redisStore != nil {
		if err := o.redisStore.Close(); err != nil {
			o.log.Error("Error closing Redis", "error", err)
		}
	}

	if o.mongoAudit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.mongoAudit.Close(ctx); err != nil {
			o.log.Error("Error closing MongoDB", "error", err)
		}
		cancel()
	}

	if o.dockerClient != nil {
		if err := o.dockerClient.Close(); err != nil {
			o.log.Error("Error closing Docker client", "error", err)
		}
	}

	if o.wordpress != nil {
		if err := o.wordpress.Close(); err != nil {
			o.log.Error("Error closing WordPress database", "error", err)
		}
	}

	if o.snapshotRepo != nil {
		o.snapshotRepo.Close()
	}

	o.log.Info("Orchestrator stopped")
	return nil
}
