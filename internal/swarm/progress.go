package swarm

import "OpenHive-Swarm/internal/task"

// BuildProgress 从任务聚合出进度快照。
// 进度百分比按 已完成迭代数/迭代上限 计算，完成态恒为 100。
func BuildProgress(t *task.Task) task.Progress {
	progress := task.Progress{
		TaskID:           t.ID,
		Status:           t.Status,
		CurrentIteration: t.CurrentIteration(),
		MaxIterations:    t.MaxIterations,
		QualityScore:     t.QualityScore,
		QualityThreshold: t.QualityThreshold,
		QueenAgent:       t.QueenAgentID,
		TotalTokensUsed:  t.TotalTokensUsed(),
	}

	switch {
	case t.Status == task.StatusCompleted:
		progress.ProgressPercentage = 100
	case t.MaxIterations > 0:
		pct := 100 * float64(t.CurrentIteration()) / float64(t.MaxIterations)
		if pct > 100 {
			pct = 100
		}
		progress.ProgressPercentage = pct
	}

	if t.Status.Active() {
		progress.ActiveWorkers = len(t.WorkerAgents)
	}
	return progress
}
