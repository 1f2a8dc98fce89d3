package swarm

import (
	"context"
	"fmt"
	"strings"

	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/task"
)

// Plan 是蜂后针对一轮迭代给出的分工方案。
type Plan struct {
	Summary     string
	Assignments []Assignment
}

// Review 是蜂后对一轮执行结果的汇总与评分。
type Review struct {
	Synthesis    string
	QualityScore float64
}

// Planner 定义蜂后的两项职责：迭代前拆分任务、迭代后汇总评分。
type Planner interface {
	Plan(ctx context.Context, t *task.Task, workers []roster.Profile) (*Plan, error)
	Review(ctx context.Context, t *task.Task, plan *Plan, executions []task.WorkerExecution) (Review, error)
}

// HeuristicPlanner 是内置的确定性规划器：按智能体专长切分指令，
// 评分由成功比例与迭代轮次推导，保证相同输入得到相同结果。
type HeuristicPlanner struct{}

// NewHeuristicPlanner 创建内置规划器。
func NewHeuristicPlanner() *HeuristicPlanner {
	return &HeuristicPlanner{}
}

// Plan 为每个工作智能体生成一条子任务。
func (p *HeuristicPlanner) Plan(_ context.Context, t *task.Task, workers []roster.Profile) (*Plan, error) {
	iterationNum := t.CurrentIteration() + 1
	instructions := strings.TrimSpace(t.Instructions)

	assignments := make([]Assignment, 0, len(workers))
	for _, worker := range workers {
		assignments = append(assignments, Assignment{
			TaskID:       t.ID,
			IterationNum: iterationNum,
			Agent:        worker,
			Subtask:      buildSubtask(instructions, worker, iterationNum, priorSynthesis(t)),
		})
	}

	summary := fmt.Sprintf("第 %d 轮: 将任务按 %d 个智能体的专长拆分执行", iterationNum, len(workers))
	if iterationNum > 1 {
		summary += fmt.Sprintf("，在上一轮评分 %.2f 的基础上细化", t.QualityScore)
	}
	return &Plan{Summary: summary, Assignments: assignments}, nil
}

// Review 汇总执行结果并打分。
func (p *HeuristicPlanner) Review(_ context.Context, t *task.Task, plan *Plan, executions []task.WorkerExecution) (Review, error) {
	iterationNum := t.CurrentIteration() + 1

	var builder strings.Builder
	succeeded := 0
	for _, exec := range executions {
		if exec.Success {
			succeeded++
			builder.WriteString(fmt.Sprintf("- %s: %s\n", exec.AgentID, exec.Result))
			continue
		}
		builder.WriteString(fmt.Sprintf("- %s: 执行失败 (%s)\n", exec.AgentID, exec.ErrorMessage))
	}

	synthesis := fmt.Sprintf("第 %d 轮汇总 (%d/%d 成功):\n%s",
		iterationNum, succeeded, len(executions), strings.TrimRight(builder.String(), "\n"))

	return Review{
		Synthesis:    synthesis,
		QualityScore: heuristicScore(iterationNum, succeeded, len(executions)),
	}, nil
}

// heuristicScore 由成功比例与迭代轮次推导评分。
// 全部成功时分数随轮次爬升并较快越过常用阈值，全部失败时始终达不到。
func heuristicScore(iterationNum, succeeded, total int) float64 {
	if total <= 0 {
		return 0
	}
	successFraction := float64(succeeded) / float64(total)
	score := 0.35 + 0.4*successFraction + 0.08*float64(iterationNum-1)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func buildSubtask(instructions string, worker roster.Profile, iterationNum int, prior string) string {
	angle := "综合"
	if len(worker.Specialties) > 0 {
		angle = strings.Join(worker.Specialties, "/")
	}
	subtask := fmt.Sprintf("从 %s 角度处理: %s", angle, instructions)
	if iterationNum > 1 && prior != "" {
		subtask += fmt.Sprintf("；参考上一轮汇总改进: %s", firstLine(prior))
	}
	return subtask
}

func priorSynthesis(t *task.Task) string {
	if len(t.Iterations) == 0 {
		return ""
	}
	return t.Iterations[len(t.Iterations)-1].QueenSynthesis
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

var _ Planner = (*HeuristicPlanner)(nil)
