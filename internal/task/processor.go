package task

import (
	"context"
	stdErrors "errors"
	"log/slog"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/pkg/logger"
)

// Iterator 定义了处理器所需的编排引擎能力：对任务推进一次完整迭代。
type Iterator interface {
	Iterate(ctx context.Context, taskID string) (*IterationRecord, error)
}

// Processor 驱动自动迭代模式：从队列消费任务 ID，推进一次迭代，
// 任务未到终态时重新投递，直到阈值满足或迭代上限耗尽。
type Processor struct {
	engine      Iterator
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(engine Iterator, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engine:      engine,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动自动迭代处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.engine == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}

	record, err := p.engine.Iterate(ctx, taskID)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrTaskNotFound), stdErrors.Is(err, ErrTaskTerminal):
			// 任务已消失或已到终态，静默丢弃。
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		case stdErrors.Is(err, ErrTaskBusy):
			// 有手动触发的迭代在进行中，稍后再试。
			if pubErr := p.producer.Publish(ctx, taskID); pubErr != nil {
				return xerrors.Wrap(xerrors.CodeQueueFailure, pubErr, "任务重投失败")
			}
			return nil
		case xerrors.RetryableError(err):
			// 存储抖动等瞬时错误不应终结自动迭代，重新排队稍后再试。
			logger.L().Warn("自动迭代遇到瞬时错误",
				slog.Any("error", err),
				slog.String("task_id", taskID),
				slog.String("error_code", string(xerrors.CodeOf(err))),
			)
			if pubErr := p.producer.Publish(ctx, taskID); pubErr != nil {
				return xerrors.Wrap(xerrors.CodeQueueFailure, pubErr, "任务重投失败")
			}
			return nil
		default:
			// 规划失败等致命错误已把任务置为 Failed，无需重投。
			logger.L().Error("自动迭代失败",
				slog.Any("error", err),
				slog.String("task_id", taskID),
				slog.String("error_code", string(xerrors.CodeOf(err))),
			)
			return nil
		}
	}

	current, err := p.store.Get(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if current.Status.Terminal() {
		logger.Audit().Info("自动迭代完成",
			slog.String("task_id", taskID),
			slog.String("status", string(current.Status)),
			slog.Int("iterations", current.CurrentIteration()),
			slog.Float64("quality_score", current.QualityScore),
		)
		return nil
	}

	if pubErr := p.producer.Publish(ctx, taskID); pubErr != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, pubErr, "任务重投失败")
	}
	p.logDebug("任务已重新排队",
		slog.String("task_id", taskID),
		slog.Int("iteration", record.IterationNum),
		slog.Float64("quality_score", record.QualityScore),
	)
	return nil
}

func (p *Processor) logDebug(msg string, args ...any) {
	l := p.logger
	if l == nil {
		l = logger.L()
	}
	l.Debug(msg, args...)
}
