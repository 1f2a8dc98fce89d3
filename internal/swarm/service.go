package swarm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/task"
	"OpenHive-Swarm/pkg/logger"
)

const (
	defaultQualityThreshold = 0.8
	defaultMaxIterations    = 5
)

// CreateRequest 描述创建任务所需的参数。
// QualityThreshold 与 MaxIterations 为零时使用引擎默认值。
type CreateRequest struct {
	UserID           string  `json:"user_id"`
	Instructions     string  `json:"instructions"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	MaxIterations    int     `json:"max_iterations,omitempty"`
	WorkerCount      int     `json:"worker_count,omitempty"`
}

// Engine 是编排引擎的对外门面，聚合任务存储、名册与迭代控制器。
type Engine struct {
	store      task.Store
	controller *Controller
	roster     *roster.Roster
	producer   task.Producer

	qualityThreshold float64
	maxIterations    int
	maxWorkers       int
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithOrchestrationDefaults 设置新任务的默认质量阈值与迭代上限。
func WithOrchestrationDefaults(threshold float64, maxIterations int) EngineOption {
	return func(e *Engine) {
		if threshold > 0 && threshold <= 1 {
			e.qualityThreshold = threshold
		}
		if maxIterations > 0 {
			e.maxIterations = maxIterations
		}
	}
}

// WithMaxWorkers 限制单个任务分配的工作智能体数量。
func WithMaxWorkers(max int) EngineOption {
	return func(e *Engine) {
		if max > 0 {
			e.maxWorkers = max
		}
	}
}

// WithIterationProducer 配置自动迭代模式使用的队列生产者。
func WithIterationProducer(producer task.Producer) EngineOption {
	return func(e *Engine) {
		e.producer = producer
	}
}

// NewEngine 创建编排引擎。
func NewEngine(store task.Store, controller *Controller, ros *roster.Roster, opts ...EngineOption) *Engine {
	e := &Engine{
		store:            store,
		controller:       controller,
		roster:           ros,
		qualityThreshold: defaultQualityThreshold,
		maxIterations:    defaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Create 创建一个新任务：分配蜂后与匹配指令的工作智能体，初始状态为 created。
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*task.Task, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "用户标识不能为空")
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "任务指令不能为空")
	}

	threshold := req.QualityThreshold
	if threshold == 0 {
		threshold = e.qualityThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "质量阈值必须位于 (0, 1] 区间")
	}

	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = e.maxIterations
	}
	if maxIterations < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "迭代上限必须为正数")
	}

	workerCount := req.WorkerCount
	if workerCount <= 0 || (e.maxWorkers > 0 && workerCount > e.maxWorkers) {
		workerCount = e.maxWorkers
	}
	workers := e.roster.Match(instructions, workerCount)
	workerIDs := make([]string, 0, len(workers))
	for _, worker := range workers {
		workerIDs = append(workerIDs, worker.ID)
	}

	t := &task.Task{
		ID:               uuid.NewString(),
		UserID:           userID,
		Instructions:     instructions,
		Status:           task.StatusCreated,
		QueenAgentID:     e.roster.Queen().ID,
		WorkerAgents:     workerIDs,
		Iterations:       []task.IterationRecord{},
		QualityThreshold: threshold,
		MaxIterations:    maxIterations,
		CreatedAt:        time.Now().Unix(),
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, err
	}

	logger.Audit().Info("任务已创建",
		slog.String("task_id", t.ID),
		slog.String("user_id", userID),
		slog.Float64("quality_threshold", threshold),
		slog.Int("max_iterations", maxIterations),
		slog.Int("workers", len(workerIDs)),
	)
	return t.Clone(), nil
}

// Iterate 手动触发一次迭代。
func (e *Engine) Iterate(ctx context.Context, taskID string) (*task.IterationRecord, error) {
	return e.controller.Iterate(ctx, taskID)
}

// Get 返回任务的完整状态，含全部迭代历史。
func (e *Engine) Get(ctx context.Context, taskID string) (*task.Task, error) {
	return e.store.Get(ctx, taskID)
}

// Progress 返回任务的轻量进度快照，供客户端轮询。
func (e *Engine) Progress(ctx context.Context, taskID string) (*task.Progress, error) {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	progress := BuildProgress(t)
	return &progress, nil
}

// List 返回指定用户的任务列表。
func (e *Engine) List(ctx context.Context, userID string, opts ...task.ListOption) ([]*task.Task, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "用户标识不能为空")
	}
	return e.store.List(ctx, userID, task.BuildListOptions(opts))
}

// Stats 返回指定用户的任务状态统计。
func (e *Engine) Stats(ctx context.Context, userID string) (task.Stats, error) {
	if strings.TrimSpace(userID) == "" {
		return task.Stats{}, xerrors.New(xerrors.CodeInvalidInput, "用户标识不能为空")
	}
	return e.store.Stats(ctx, userID)
}

// Cancel 取消任务。
func (e *Engine) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	return e.controller.Cancel(ctx, taskID)
}

// Run 将任务投递到迭代队列，由后台处理器自动推进直至终态。
func (e *Engine) Run(ctx context.Context, taskID string) error {
	if e.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置迭代队列")
	}
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return task.ErrTaskTerminal
	}
	if err := e.producer.Publish(ctx, taskID); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "任务入队失败")
	}
	logger.Audit().Info("任务已进入自动迭代队列", slog.String("task_id", taskID))
	return nil
}

// Close 释放底层资源。
func (e *Engine) Close() error {
	return e.store.Close()
}
