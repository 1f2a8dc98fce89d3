package swarm

import (
	"context"
	stdErrors "errors"
	"strings"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/llm"
	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/task"
)

// LLMPlanner 借助大模型生成分工方案，汇总评分仍复用确定性规则，
// 避免评分随模型输出抖动导致收敛判定不稳定。
type LLMPlanner struct {
	client   llm.Client
	fallback *HeuristicPlanner
}

// NewLLMPlanner 创建基于大模型的规划器。
func NewLLMPlanner(client llm.Client) *LLMPlanner {
	return &LLMPlanner{
		client:   client,
		fallback: NewHeuristicPlanner(),
	}
}

// Plan 调用大模型拆分任务。模型未返回某个智能体的分配时，
// 用内置规划器的子任务兜底，保证每个智能体都有事可做。
func (p *LLMPlanner) Plan(ctx context.Context, t *task.Task, workers []roster.Profile) (*Plan, error) {
	if p.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	cards := make([]llm.WorkerCard, 0, len(workers))
	for _, worker := range workers {
		cards = append(cards, llm.WorkerCard{
			ID:          worker.ID,
			Name:        worker.Name,
			Specialties: append([]string(nil), worker.Specialties...),
		})
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		Instructions:   t.Instructions,
		IterationNum:   t.CurrentIteration() + 1,
		PriorSynthesis: priorSynthesis(t),
		QualityScore:   t.QualityScore,
		Workers:        cards,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "规划调用超时")
		}
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "规划调用失败")
	}

	assigned := make(map[string]string, len(resp.Assignments))
	for _, a := range resp.Assignments {
		if subtask := strings.TrimSpace(a.Subtask); subtask != "" {
			assigned[a.AgentID] = subtask
		}
	}

	iterationNum := t.CurrentIteration() + 1
	assignments := make([]Assignment, 0, len(workers))
	for _, worker := range workers {
		subtask, ok := assigned[worker.ID]
		if !ok {
			subtask = buildSubtask(strings.TrimSpace(t.Instructions), worker, iterationNum, priorSynthesis(t))
		}
		assignments = append(assignments, Assignment{
			TaskID:       t.ID,
			IterationNum: iterationNum,
			Agent:        worker,
			Subtask:      subtask,
		})
	}

	summary := strings.TrimSpace(resp.Plan)
	if summary == "" {
		summary = strings.TrimSpace(resp.Thought)
	}
	if summary == "" {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "大模型返回了空的规划")
	}
	return &Plan{Summary: summary, Assignments: assignments}, nil
}

// Review 复用确定性汇总评分。
func (p *LLMPlanner) Review(ctx context.Context, t *task.Task, plan *Plan, executions []task.WorkerExecution) (Review, error) {
	return p.fallback.Review(ctx, t, plan, executions)
}

var _ Planner = (*LLMPlanner)(nil)
