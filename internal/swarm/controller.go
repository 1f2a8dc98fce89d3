package swarm

import (
	"context"
	"log/slog"
	"time"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/observability/alerting"
	"OpenHive-Swarm/internal/observability/metrics"
	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/task"
	"OpenHive-Swarm/pkg/logger"
)

// Controller 驱动单次迭代的完整状态机：
// 规划 → 分发执行 → 汇总评分 → 终态判定。
type Controller struct {
	store      task.Store
	planner    Planner
	dispatcher *Dispatcher
	roster     *roster.Roster
	locks      *taskLocks

	plannerTimeout        time.Duration
	cancelSetsCompletedAt bool
	alerts                alerting.Dispatcher
}

// ControllerOption 定义可选配置。
type ControllerOption func(*Controller)

// WithPlannerTimeout 设置规划调用的超时时间。
func WithPlannerTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		if timeout > 0 {
			c.plannerTimeout = timeout
		}
	}
}

// WithCancelSetsCompletedAt 控制取消任务时是否写入 completed_at。
func WithCancelSetsCompletedAt(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.cancelSetsCompletedAt = enabled
	}
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(alerts alerting.Dispatcher) ControllerOption {
	return func(c *Controller) {
		c.alerts = alerts
	}
}

// NewController 创建迭代控制器。
func NewController(store task.Store, planner Planner, dispatcher *Dispatcher, ros *roster.Roster, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:          store,
		planner:        planner,
		dispatcher:     dispatcher,
		roster:         ros,
		locks:          newTaskLocks(),
		plannerTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Iterate 对任务执行一次完整迭代并返回追加的迭代记录。
// 同一任务上并发的迭代会被拒绝，终态任务不再接受迭代。
func (c *Controller) Iterate(ctx context.Context, taskID string) (*task.IterationRecord, error) {
	if !c.locks.tryAcquire(taskID) {
		return nil, task.ErrTaskBusy
	}
	defer c.locks.release(taskID)

	current, err := c.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, task.ErrTaskTerminal
	}

	workers := c.resolveWorkers(current)
	if len(workers) == 0 {
		failErr := xerrors.New(xerrors.CodePlannerFailure, "任务没有可用的工作智能体")
		c.markFailed(ctx, taskID, current.CurrentIteration()+1, failErr)
		return nil, failErr
	}

	started := time.Now()

	// 规划阶段。
	if err := c.setStatus(ctx, taskID, task.StatusPlanning); err != nil {
		return nil, err
	}
	plan, err := c.plan(ctx, current, workers)
	if err != nil {
		failErr := xerrors.Wrap(xerrors.CodePlannerFailure, err, "蜂后规划失败")
		c.markFailed(ctx, taskID, current.CurrentIteration()+1, failErr)
		metrics.ObserveIteration("failed", current.QualityScore, time.Since(started))
		return nil, failErr
	}

	// 执行阶段：单个智能体的失败与超时记录在执行结果中，不中断迭代。
	if err := c.setStatus(ctx, taskID, task.StatusExecuting); err != nil {
		return nil, err
	}
	executions, peerMessages := c.dispatcher.Dispatch(ctx, current.QueenAgentID, plan.Assignments)

	// 汇总评分阶段。
	if err := c.setStatus(ctx, taskID, task.StatusReviewing); err != nil {
		return nil, err
	}
	review, err := c.planner.Review(ctx, current, plan, executions)
	if err != nil {
		failErr := xerrors.Wrap(xerrors.CodePlannerFailure, err, "蜂后汇总失败")
		c.markFailed(ctx, taskID, current.CurrentIteration()+1, failErr)
		metrics.ObserveIteration("failed", current.QualityScore, time.Since(started))
		return nil, failErr
	}

	// 追加迭代记录并判定终态，整个修改在存储层原子完成。
	var record task.IterationRecord
	updated, err := c.store.Update(ctx, taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			return task.ErrTaskTerminal
		}
		record = task.IterationRecord{
			IterationNum:       t.CurrentIteration() + 1,
			QueenPlan:          plan.Summary,
			WorkerExecutions:   executions,
			PeerCommunications: peerMessages,
			QueenSynthesis:     review.Synthesis,
			QualityScore:       review.QualityScore,
			Timestamp:          started.Unix(),
			DurationMS:         time.Since(started).Milliseconds(),
		}
		t.Iterations = append(t.Iterations, record)
		t.QualityScore = review.QualityScore

		if review.QualityScore >= t.QualityThreshold || record.IterationNum >= t.MaxIterations {
			t.Status = task.StatusCompleted
			now := time.Now().Unix()
			t.CompletedAt = &now
		} else {
			t.Status = task.StatusExecuting
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "continued"
	if updated.Status == task.StatusCompleted {
		outcome = "completed"
	}
	metrics.ObserveIteration(outcome, record.QualityScore, time.Since(started))
	logger.Audit().Info("迭代完成",
		slog.String("task_id", taskID),
		slog.Int("iteration", record.IterationNum),
		slog.Float64("quality_score", record.QualityScore),
		slog.String("status", string(updated.Status)),
		slog.Int64("duration_ms", record.DurationMS),
	)
	return &record, nil
}

// Cancel 将任务置为取消态。正在迭代中的任务会被拒绝取消。
func (c *Controller) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	if !c.locks.tryAcquire(taskID) {
		return nil, task.ErrTaskBusy
	}
	defer c.locks.release(taskID)

	cancelled, err := c.store.Update(ctx, taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			return task.ErrTaskTerminal
		}
		t.Status = task.StatusCancelled
		if c.cancelSetsCompletedAt {
			now := time.Now().Unix()
			t.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("任务已取消",
		slog.String("task_id", taskID),
		slog.Int("iterations", cancelled.CurrentIteration()),
	)
	return cancelled, nil
}

func (c *Controller) plan(ctx context.Context, t *task.Task, workers []roster.Profile) (*Plan, error) {
	planCtx := ctx
	if c.plannerTimeout > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, c.plannerTimeout)
		defer cancel()
	}
	return c.planner.Plan(planCtx, t, workers)
}

func (c *Controller) resolveWorkers(t *task.Task) []roster.Profile {
	if len(t.WorkerAgents) == 0 {
		return c.roster.Workers()
	}
	workers := make([]roster.Profile, 0, len(t.WorkerAgents))
	for _, id := range t.WorkerAgents {
		if profile, ok := c.roster.Lookup(id); ok && profile.Role == roster.RoleWorker {
			workers = append(workers, profile)
		}
	}
	return workers
}

func (c *Controller) setStatus(ctx context.Context, taskID string, status task.Status) error {
	_, err := c.store.Update(ctx, taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			return task.ErrTaskTerminal
		}
		t.Status = status
		return nil
	})
	return err
}

// markFailed 将任务置为失败终态并触发告警。
func (c *Controller) markFailed(ctx context.Context, taskID string, iteration int, cause error) {
	_, err := c.store.Update(ctx, taskID, func(t *task.Task) error {
		if t.Status.Terminal() {
			return task.ErrTaskTerminal
		}
		t.Status = task.StatusFailed
		t.ErrorMessage = cause.Error()
		now := time.Now().Unix()
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.L().Error("标记任务失败状态出错",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}

	if c.alerts != nil && xerrors.ShouldAlert(cause) {
		if alertErr := c.alerts.Notify(ctx, alerting.FromError(taskID, iteration, cause)); alertErr != nil {
			logger.L().Warn("发送告警失败",
				slog.String("task_id", taskID),
				slog.Any("error", alertErr),
			)
		}
	}
}
