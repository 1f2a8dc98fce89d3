package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"OpenHive-Swarm/internal/api"
	"OpenHive-Swarm/internal/config"
	"OpenHive-Swarm/internal/llm/openai"
	"OpenHive-Swarm/internal/observability/alerting"
	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/swarm"
	"OpenHive-Swarm/internal/task"
	"OpenHive-Swarm/pkg/logger"
)

// main 是 OpenHive 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("openhived 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPENHIVE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openhive.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 任务存储。
	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(task.MySQLConfig{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.TaskStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		_ = taskStore.Close()
	}()

	// 迭代队列。
	var taskQueue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	// 智能体名册。
	var agentRoster *roster.Roster
	if cfg.Roster.Path != "" {
		agentRoster, err = roster.Load(cfg.Roster.Path)
		if err != nil {
			return err
		}
	} else {
		agentRoster = roster.Default()
	}

	// 蜂后规划器。
	planner, err := createPlanner(cfg)
	if err != nil {
		return err
	}

	dispatcher := swarm.NewDispatcher(
		swarm.NewSimWorker(),
		swarm.WithWorkerTimeout(cfg.Orchestration.WorkerTimeout()),
	)
	controller := swarm.NewController(taskStore, planner, dispatcher, agentRoster,
		swarm.WithPlannerTimeout(cfg.Orchestration.PlannerTimeout()),
		swarm.WithCancelSetsCompletedAt(cfg.Orchestration.CancelSetsCompletedAt),
		swarm.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	)
	engine := swarm.NewEngine(taskStore, controller, agentRoster,
		swarm.WithOrchestrationDefaults(cfg.Orchestration.QualityThreshold, cfg.Orchestration.MaxIterations),
		swarm.WithMaxWorkers(cfg.Roster.MaxWorkers),
		swarm.WithIterationProducer(taskQueue),
	)

	// 自动迭代处理器。
	processor := task.NewProcessor(engine, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.L()),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	logger.L().Info("openhived 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("store", cfg.Storage.TaskStore.Driver),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.String("planner", cfg.LLM.Provider),
	)

	server := api.NewServer(cfg.Server.Address, engine)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createPlanner 根据配置选择规划器实现。
func createPlanner(cfg *config.Config) (swarm.Planner, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return swarm.NewHeuristicPlanner(), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return swarm.NewLLMPlanner(client), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
