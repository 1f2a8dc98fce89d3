package llm

import "context"

// Request 描述一次规划调用的上下文。
type Request struct {
	Instructions   string
	IterationNum   int
	PriorSynthesis string
	QualityScore   float64
	Workers        []WorkerCard
}

// WorkerCard 描述可供分配子任务的工作智能体。
type WorkerCard struct {
	ID          string
	Name        string
	Specialties []string
}

// Assignment 表示一条 智能体→子任务 的分配。
type Assignment struct {
	AgentID string `json:"agent_id"`
	Subtask string `json:"subtask"`
}

// Response 是大模型推理得到的结构化规划输出。
type Response struct {
	Thought     string
	Plan        string
	Assignments []Assignment
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
