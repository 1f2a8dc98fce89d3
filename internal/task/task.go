package task

import (
	xerrors "OpenHive-Swarm/internal/errors"
)

// Status 表示任务在编排生命周期中的状态。
type Status string

const (
	StatusCreated   Status = "created"
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusReviewing Status = "reviewing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusCreated, StatusPlanning, StatusExecuting, StatusReviewing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal 判断状态是否为终态。终态任务不再接受任何迭代。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active 判断任务是否处于迭代进行中的状态。
func (s Status) Active() bool {
	switch s {
	case StatusPlanning, StatusExecuting, StatusReviewing:
		return true
	default:
		return false
	}
}

// PeerMessageType 描述智能体之间交换消息的种类。
type PeerMessageType string

const (
	PeerMessageQuestion   PeerMessageType = "question"
	PeerMessageAnswer     PeerMessageType = "answer"
	PeerMessageSuggestion PeerMessageType = "suggestion"
	PeerMessageStatus     PeerMessageType = "status"
	PeerMessageError      PeerMessageType = "error"
)

// PeerMessage 记录一次迭代中智能体之间的通信，仅用于审计与检查。
type PeerMessage struct {
	MessageID   string          `json:"message_id"`
	FromAgent   string          `json:"from_agent"`
	ToAgent     string          `json:"to_agent"`
	MessageType PeerMessageType `json:"message_type"`
	Content     string          `json:"content"`
	Timestamp   int64           `json:"timestamp"`
}

// WorkerExecution 保存单个工作智能体在一次迭代内的执行结果。
type WorkerExecution struct {
	AgentID         string `json:"agent_id"`
	AssignedSubtask string `json:"assigned_subtask"`
	Result          string `json:"result"`
	TokensUsed      int64  `json:"tokens_used"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	Success         bool   `json:"success"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// IterationRecord 描述一次完整的 规划→分发→汇总→评分 循环，追加后不可变。
type IterationRecord struct {
	IterationNum       int               `json:"iteration_num"`
	QueenPlan          string            `json:"queen_plan"`
	WorkerExecutions   []WorkerExecution `json:"worker_executions"`
	PeerCommunications []PeerMessage     `json:"peer_communications,omitempty"`
	QueenSynthesis     string            `json:"queen_synthesis"`
	QualityScore       float64           `json:"quality_score"`
	Timestamp          int64             `json:"timestamp"`
	DurationMS         int64             `json:"duration_ms"`
}

// Task 是编排引擎的聚合根。除 Iterations 追加外，字段只由迭代控制器修改。
type Task struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	Instructions     string            `json:"instructions"`
	Status           Status            `json:"status"`
	QueenAgentID     string            `json:"queen_agent_id,omitempty"`
	WorkerAgents     []string          `json:"worker_agents,omitempty"`
	Iterations       []IterationRecord `json:"iterations"`
	QualityScore     float64           `json:"quality_score"`
	QualityThreshold float64           `json:"quality_threshold"`
	MaxIterations    int               `json:"max_iterations"`
	CreatedAt        int64             `json:"created_at"`
	CompletedAt      *int64            `json:"completed_at,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}

// Progress 是对任务进度的只读快照，供轮询接口使用。
type Progress struct {
	TaskID             string  `json:"task_id"`
	Status             Status  `json:"status"`
	CurrentIteration   int     `json:"current_iteration"`
	MaxIterations      int     `json:"max_iterations"`
	QualityScore       float64 `json:"quality_score"`
	QualityThreshold   float64 `json:"quality_threshold"`
	ProgressPercentage float64 `json:"progress_percentage"`
	QueenAgent         string  `json:"queen_agent,omitempty"`
	ActiveWorkers      int     `json:"active_workers"`
	TotalTokensUsed    int64   `json:"total_tokens_used"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(xerrors.CodeNotFound, "task not found")
	// ErrTaskConflict 表示任务 ID 已存在。
	ErrTaskConflict = xerrors.New(xerrors.CodeConflict, "task already exists")
	// ErrTaskTerminal 表示任务已进入终态，无法继续迭代或取消。
	ErrTaskTerminal = xerrors.New(xerrors.CodeInvalidState, "task is terminal")
	// ErrTaskBusy 表示同一任务上已有迭代在进行中。
	ErrTaskBusy = xerrors.New(xerrors.CodeBusy, "task iteration in progress")
)

// CurrentIteration 返回已完成的迭代次数。
func (t *Task) CurrentIteration() int {
	if t == nil {
		return 0
	}
	return len(t.Iterations)
}

// TotalTokensUsed 汇总所有迭代中工作智能体消耗的 token 数。
func (t *Task) TotalTokensUsed() int64 {
	if t == nil {
		return 0
	}
	var total int64
	for _, it := range t.Iterations {
		for _, exec := range it.WorkerExecutions {
			total += exec.TokensUsed
		}
	}
	return total
}

// Clone 返回任务的深拷贝，存储层借此保证读写隔离。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.WorkerAgents != nil {
		clone.WorkerAgents = append([]string(nil), t.WorkerAgents...)
	}
	if t.Iterations != nil {
		clone.Iterations = make([]IterationRecord, len(t.Iterations))
		for i, it := range t.Iterations {
			clone.Iterations[i] = cloneIteration(it)
		}
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

func cloneIteration(it IterationRecord) IterationRecord {
	clone := it
	if it.WorkerExecutions != nil {
		clone.WorkerExecutions = append([]WorkerExecution(nil), it.WorkerExecutions...)
	}
	if it.PeerCommunications != nil {
		clone.PeerCommunications = append([]PeerMessage(nil), it.PeerCommunications...)
	}
	return clone
}
