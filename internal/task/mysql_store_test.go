package task

import (
	"database/sql"
	"reflect"
	"testing"
)

// fakeRow 以 encodeColumns 的产物回放一行查询结果，
// 用于在无数据库的情况下验证列编解码。
type fakeRow struct {
	source     *Task
	workers    string
	iterations string
}

func (r fakeRow) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.source.ID
	*(dest[1].(*string)) = r.source.UserID
	*(dest[2].(*string)) = r.source.Instructions
	*(dest[3].(*Status)) = r.source.Status
	*(dest[4].(*string)) = r.source.QueenAgentID
	*(dest[5].(*sql.NullString)) = sql.NullString{String: r.workers, Valid: true}
	*(dest[6].(*sql.NullString)) = sql.NullString{String: r.iterations, Valid: true}
	*(dest[7].(*float64)) = r.source.QualityScore
	*(dest[8].(*float64)) = r.source.QualityThreshold
	*(dest[9].(*int)) = r.source.MaxIterations
	*(dest[10].(*int64)) = r.source.CreatedAt
	if r.source.CompletedAt != nil {
		*(dest[11].(*sql.NullInt64)) = sql.NullInt64{Int64: *r.source.CompletedAt, Valid: true}
	}
	*(dest[12].(*sql.NullString)) = sql.NullString{String: r.source.ErrorMessage, Valid: true}
	return nil
}

func roundTripColumns(t *testing.T, original *Task) *Task {
	t.Helper()
	workers, iterations, err := encodeColumns(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := scanTask(fakeRow{source: original, workers: workers, iterations: iterations})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return decoded
}

func TestTaskColumnsRoundTripFreshTask(t *testing.T) {
	original := &Task{
		ID:               "t1",
		UserID:           "alice",
		Instructions:     "整理调研结论",
		Status:           StatusCreated,
		QueenAgentID:     "queen-1",
		WorkerAgents:     []string{"w1", "w2"},
		Iterations:       []IterationRecord{},
		QualityThreshold: 0.8,
		MaxIterations:    5,
		CreatedAt:        1700000000,
	}

	decoded := roundTripColumns(t, original)
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("fresh task not equal after round trip:\noriginal: %+v\ndecoded:  %+v", original, decoded)
	}
	if decoded.Iterations == nil {
		t.Fatal("empty iteration history must decode to an empty slice, not nil")
	}
}

func TestTaskColumnsRoundTripWithHistory(t *testing.T) {
	completed := int64(1700000500)
	original := &Task{
		ID:           "t2",
		UserID:       "bob",
		Instructions: "实现解析器",
		Status:       StatusCompleted,
		QueenAgentID: "queen-1",
		WorkerAgents: []string{"w1", "w2"},
		Iterations: []IterationRecord{
			{
				IterationNum: 1,
				QueenPlan:    "拆分为两个子任务",
				WorkerExecutions: []WorkerExecution{
					{AgentID: "w1", AssignedSubtask: "调研", Result: "产出一", TokensUsed: 128, ExecutionTimeMS: 12, Success: true},
					{AgentID: "w2", AssignedSubtask: "编码", Success: false, ErrorMessage: "timeout", ExecutionTimeMS: 200},
				},
				PeerCommunications: []PeerMessage{
					{MessageID: "m1", FromAgent: "w1", ToAgent: "queen-1", MessageType: PeerMessageStatus, Content: "完成", Timestamp: 1700000100},
				},
				QueenSynthesis: "第一轮汇总",
				QualityScore:   0.55,
				Timestamp:      1700000100,
				DurationMS:     230,
			},
			{
				IterationNum:   2,
				QueenPlan:      "补充失败的子任务",
				QueenSynthesis: "第二轮汇总",
				QualityScore:   0.83,
				Timestamp:      1700000400,
				DurationMS:     180,
			},
		},
		QualityScore:     0.83,
		QualityThreshold: 0.8,
		MaxIterations:    5,
		CreatedAt:        1700000000,
		CompletedAt:      &completed,
	}

	decoded := roundTripColumns(t, original)
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("task with history not equal after round trip:\noriginal: %+v\ndecoded:  %+v", original, decoded)
	}
	if decoded.Iterations[0].IterationNum != 1 || decoded.Iterations[1].IterationNum != 2 {
		t.Fatal("iteration order must survive the round trip")
	}
}
