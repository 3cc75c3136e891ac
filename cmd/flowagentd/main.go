package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/agent"
	"FlowAgent-Chain/internal/api"
	"FlowAgent-Chain/internal/config"
	"FlowAgent-Chain/internal/dispatch"
	"FlowAgent-Chain/internal/display"
	"FlowAgent-Chain/internal/llm"
	"FlowAgent-Chain/internal/llm/openai"
	"FlowAgent-Chain/internal/observability/alerting"
	"FlowAgent-Chain/internal/observability/metrics"
	"FlowAgent-Chain/internal/storage/mysql"
	"FlowAgent-Chain/internal/task"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/internal/web3/provider"
	"FlowAgent-Chain/pkg/logger"
)

// main 是 FlowAgent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("flowagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
			Compress:   cfg.Log.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("flowagentd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	manager, err := connectNetworks(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer manager.Close()

	pricing, err := buildPricing(cfg.Pricing)
	if err != nil {
		return err
	}
	builder := action.NewBuilder(
		action.WithNamingChain(cfg.Web3.NamingChainID),
		action.WithPricing(pricing),
	)
	interactor := dispatch.NewInteractor(
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			Delay:       cfg.Dispatch.RetryDelay(),
		}),
		dispatch.WithPricing(builder.Pricing()),
		dispatch.WithBalanceCheck(*cfg.Dispatch.BalanceCheck),
		dispatch.WithObserver(metrics.Default()),
	)

	activities, err := openActivities(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := activities.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	opts := []agent.Option{
		agent.WithBuilder(builder),
		agent.WithFormatter(display.NewFormatter()),
		agent.WithActivityRepository(activities),
		agent.WithAutoExecuteReads(*cfg.Dispatch.AutoReads),
	}
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	if llmClient != nil {
		opts = append(opts, agent.WithLLM(llmClient, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second))
	}
	conns := agent.ConnectionsFunc(func() dispatch.Connection { return manager.Snapshot() })
	ag := agent.New(interactor, conns, opts...)

	taskStore, err := openTaskStore(cfg)
	if err != nil {
		return err
	}
	defer taskStore.Close()

	var queue task.Queue
	if cfg.Dispatch.Async() {
		queue, err = openQueue(cfg.Queue)
		if err != nil {
			return err
		}
		defer func() {
			if err := queue.Close(); err != nil {
				lg.Warn("关闭任务队列失败", slog.Any("error", err))
			}
		}()
	}

	alerts := alerting.NewFanout(alerting.LogNotifier{}, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	serviceOpts := []task.ServiceOption{}
	var consumer task.Consumer
	if queue != nil {
		serviceOpts = append(serviceOpts, task.WithProducer(queue))
		consumer = queue
	}
	service := task.NewService(taskStore, serviceOpts...)
	processor := task.NewProcessor(ag, taskStore, consumer,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithAlertDispatcher(alerts),
	)
	service.SetAborter(processor)
	ag.UsePipeline(service, processor, cfg.Dispatch.Async())

	server := api.NewServer(cfg.Server.Address, ag, manager,
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
		api.WithMetrics(metrics.Default()),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
	if consumer != nil {
		group.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	}
	if cfg.Metrics.Address != "" {
		group.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Metrics.Address)) })
	}

	lg.Info("flowagentd started",
		slog.String("address", cfg.Server.Address),
		slog.String("dispatch_mode", cfg.Dispatch.Mode),
		slog.String("network", manager.Snapshot().Network().Label()))
	return group.Wait()
}

// connectNetworks 加载网络定义并尝试连接默认链。连接失败时保持未连接状态继续运行。
func connectNetworks(ctx context.Context, cfg *config.Config, lg *slog.Logger) (*provider.Manager, error) {
	networks, err := web3.LoadNetworks(cfg.Web3.NetworksFile)
	if err != nil {
		return nil, err
	}
	key, err := provider.LoadKey(os.Getenv(cfg.Web3.PrivateKeyEnv))
	if err != nil {
		return nil, err
	}
	manager, err := provider.NewManager(networks,
		provider.WithKey(key),
		provider.WithCloseGrace(time.Duration(cfg.Web3.CloseGraceSeconds)*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if key == nil {
		lg.Warn("未配置签名私钥，写操作将不可用", slog.String("env", cfg.Web3.PrivateKeyEnv))
	}

	chainID := cfg.Web3.DefaultChainID
	if chainID == 0 {
		chainID = networks[0].ChainID
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := manager.Connect(dialCtx, chainID); err != nil {
		lg.Warn("连接默认网络失败", slog.Int64("chain_id", chainID), slog.Any("error", err))
	}
	return manager, nil
}

func buildPricing(cfg config.PricingConfig) (action.Pricing, error) {
	ceiling, err := action.ParseEther(cfg.Ceiling)
	if err != nil {
		return action.Pricing{}, fmt.Errorf("pricing.ceiling 无效: %w", err)
	}
	fallback, err := action.ParseEther(cfg.Fallback)
	if err != nil {
		return action.Pricing{}, fmt.Errorf("pricing.fallback 无效: %w", err)
	}
	return action.Pricing{Ceiling: ceiling, Fallback: fallback, RejectAboveCeiling: cfg.RejectAboveCeiling}, nil
}

func openActivities(ctx context.Context, cfg *config.Config) (mysql.ActivityRepository, error) {
	switch strings.ToLower(cfg.Storage.Activities.Driver) {
	case "mysql":
		return mysql.NewSQLActivityRepository(ctx, mysql.Config{DSN: cfg.Storage.Activities.DSN})
	default:
		return mysql.NewMemoryActivityRepository(cfg.Runtime.DataDir)
	}
}

func openTaskStore(cfg *config.Config) (task.Store, error) {
	switch strings.ToLower(cfg.Storage.TaskStore.Driver) {
	case "mysql":
		return task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
	default:
		return task.NewMemoryStore(), nil
	}
}

func openQueue(cfg config.QueueConfig) (task.Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return task.NewMemoryQueue(cfg.Size), nil
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		apiKey := strings.TrimSpace(os.Getenv(cfg.LLM.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI provider 需要设置环境变量 %s", cfg.LLM.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
