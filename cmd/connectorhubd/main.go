package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ConnectorHub/internal/api"
	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/config"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/connector/evm"
	"ConnectorHub/internal/connector/httpapi"
	"ConnectorHub/internal/connector/mysqlmeta"
	"ConnectorHub/internal/endpoint"
	"ConnectorHub/internal/observability/alerting"
	"ConnectorHub/internal/observability/metrics"
	"ConnectorHub/internal/operation"
	"ConnectorHub/internal/storage/mysqlstore"
	"ConnectorHub/internal/template"
	"ConnectorHub/internal/workflow"
	"ConnectorHub/pkg/logger"
	"ConnectorHub/pkg/plugin"
)

// main 是 ConnectorHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
		log.Fatalf("connectorhubd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CONNECTORHUB_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "connectorhub.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 存储层：端点、凭据与操作状态共用同一驱动。
	var (
		endpoints   endpoint.Repository
		credentials auth.CredentialStore
		store       workflow.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		endpoints = endpoint.NewMemoryRepository()
		credentials = auth.NewMemoryCredentialStore()
		store = workflow.NewMemoryStore()
	case "mysql":
		db, err := mysqlstore.Open(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if endpoints, err = mysqlstore.NewEndpointRepository(db); err != nil {
			return err
		}
		if credentials, err = mysqlstore.NewCredentialStore(db); err != nil {
			return err
		}
		mysqlOperations, err := workflow.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		store = mysqlOperations
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() { _ = store.Close() }()
	defer func() { _ = endpoints.Close() }()
	defer func() { _ = credentials.Close() }()

	// 队列层。
	var queue workflow.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = workflow.NewMemoryQueue(1024)
	case "redis":
		queue, err = workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:  cfg.Queue.Address,
			Password: cfg.Queue.Password,
			DB:       cfg.Queue.DB,
			Queue:    cfg.Queue.Name,
		})
		if err != nil {
			return err
		}
	case "rabbitmq":
		queue, err = workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:     cfg.Queue.Address,
			Queue:   cfg.Queue.Name,
			Durable: true,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() { _ = queue.Close() }()

	// 连接器层。
	registry, err := connector.NewRegistry(httpapi.New(httpapi.Config{}), evm.New(), mysqlmeta.New())
	if err != nil {
		return err
	}
	defer registry.Close()

	// 插件层：连接器类插件通过注册表资源向守护进程贡献实现。
	if cfg.Plugins.Enabled && cfg.Plugins.Path != "" {
		managerCfg, err := plugin.LoadManagerConfig(cfg.Plugins.Path)
		if err != nil {
			return err
		}
		plugins, err := plugin.NewManager(managerCfg,
			plugin.WithResource(plugin.ResourceConnectorRegistry, registry))
		if err != nil {
			return err
		}
		if err := plugins.StartAll(ctx); err != nil {
			return err
		}
		defer func() { _ = plugins.StopAll(context.Background()) }()
	}

	executeTimeout := time.Duration(cfg.Workflow.ExecuteTimeout) * time.Second
	probeTimeout := time.Duration(cfg.Workflow.ProbeTimeout) * time.Second
	executor := connector.NewExecutor(registry, endpoints, credentials, executeTimeout)
	prober := connector.NewProber(registry, endpoints, credentials, probeTimeout)

	// 执行后端。
	engine := workflow.NewEngine(store, queue, executor, cfg.Workflow.MaxRetries,
		workflow.WithSyncKinds(string(capability.TestConnection)))
	defer func() { _ = engine.Close() }()

	processorOpts := []workflow.ProcessorOption{
		workflow.WithWorkerCount(cfg.Workflow.WorkerCount),
		workflow.WithProcessorLogger(logger.Named("processor")),
	}
	if cfg.Alerting.Enabled && cfg.Alerting.Webhook != "" {
		dispatcher := alerting.NewFanout(&alerting.DingTalkNotifier{
			Sender: alerting.NewWebhookSender(cfg.Alerting.Webhook),
		})
		processorOpts = append(processorOpts, workflow.WithAlertDispatcher(dispatcher))
	}
	processor := workflow.NewProcessor(executor, store, queue, queue, processorOpts...)

	// 模板与控制核心。
	var templates *template.Registry
	if cfg.Templates.Path != "" {
		templates, err = template.LoadRegistry(cfg.Templates.Path)
		if err != nil {
			return err
		}
	}
	controller, err := operation.NewController(prober, engine, templates)
	if err != nil {
		return err
	}

	authService, err := buildAuthService(cfg)
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{
		api.WithDirectory(engine),
		api.WithTemplates(templates),
		api.WithCapabilityProbe(prober.Probe),
		api.WithAuth(authService),
	}
	server := api.NewServer(cfg.Server.Address, controller, endpoints, serverOpts...)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return processor.Start(groupCtx)
	})
	group.Go(func() error {
		return server.Start(groupCtx)
	})
	if cfg.Metrics.Address != "" {
		group.Go(func() error {
			return metrics.StartServer(groupCtx, cfg.Metrics.Address)
		})
	}

	logger.L().Info("connectorhubd 已启动",
		"address", cfg.Server.Address,
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Driver,
		"connectors", registry.Types())

	return group.Wait()
}

// buildAuthService 依据配置装配 API 认证服务。
func buildAuthService(cfg *config.Config) (*auth.Service, error) {
	authCfg := auth.Config{Mode: auth.Mode(cfg.Auth.Mode)}
	for _, seed := range cfg.Auth.Tokens {
		authCfg.Tokens = append(authCfg.Tokens, auth.TokenSeed{
			Token:    seed.Token,
			Name:     seed.Name,
			Scopes:   seed.Scopes,
			Disabled: seed.Disabled,
		})
	}
	authCfg.OAuth = auth.OAuthOptions{
		IntrospectionURL: cfg.Auth.OAuth.IntrospectionURL,
		ClientID:         cfg.Auth.OAuth.ClientID,
		ClientSecret:     cfg.Auth.OAuth.ClientSecret,
		TimeoutSeconds:   cfg.Auth.OAuth.TimeoutSeconds,
		UsernameClaim:    cfg.Auth.OAuth.UsernameClaim,
	}
	return auth.NewService(authCfg)
}
