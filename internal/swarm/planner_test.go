package swarm

import (
	"context"
	"strings"
	"testing"

	"OpenHive-Swarm/internal/llm"
	"OpenHive-Swarm/internal/roster"
	"OpenHive-Swarm/internal/task"
)

func TestHeuristicPlannerAssignsEveryWorker(t *testing.T) {
	planner := NewHeuristicPlanner()
	workers := []roster.Profile{
		{ID: "w1", Name: "research", Role: roster.RoleWorker, Specialties: []string{"research"}},
		{ID: "w2", Name: "coding", Role: roster.RoleWorker, Specialties: []string{"code"}},
	}
	target := &task.Task{ID: "t1", Instructions: "build a crawler"}

	plan, err := planner.Plan(context.Background(), target, workers)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Assignments) != 2 {
		t.Fatalf("expected one assignment per worker, got %d", len(plan.Assignments))
	}
	for i, assignment := range plan.Assignments {
		if assignment.Agent.ID != workers[i].ID {
			t.Fatalf("assignment %d targets %s, want %s", i, assignment.Agent.ID, workers[i].ID)
		}
		if assignment.IterationNum != 1 {
			t.Fatalf("expected iteration 1, got %d", assignment.IterationNum)
		}
		if !strings.Contains(assignment.Subtask, "build a crawler") {
			t.Fatalf("subtask must carry the instructions: %q", assignment.Subtask)
		}
	}

	// 相同输入必须产出相同规划。
	again, err := planner.Plan(context.Background(), target, workers)
	if err != nil {
		t.Fatalf("plan again: %v", err)
	}
	if again.Summary != plan.Summary || again.Assignments[0].Subtask != plan.Assignments[0].Subtask {
		t.Fatal("heuristic plan must be deterministic")
	}
}

func TestHeuristicScoreDynamics(t *testing.T) {
	if full, partial := heuristicScore(1, 2, 2), heuristicScore(1, 1, 2); full <= partial {
		t.Fatalf("full success %.2f must beat partial %.2f", full, partial)
	}
	if later, earlier := heuristicScore(3, 1, 2), heuristicScore(1, 1, 2); later <= earlier {
		t.Fatalf("later iteration %.2f must beat earlier %.2f", later, earlier)
	}
	if score := heuristicScore(100, 2, 2); score > 1 {
		t.Fatalf("score must be clamped to 1, got %.2f", score)
	}
	if score := heuristicScore(1, 0, 0); score != 0 {
		t.Fatalf("no workers must score 0, got %.2f", score)
	}
}

type scriptedLLM struct {
	resp *llm.Response
	err  error
}

func (s *scriptedLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	return s.resp, s.err
}

func TestLLMPlannerFillsMissingAssignments(t *testing.T) {
	client := &scriptedLLM{resp: &llm.Response{
		Plan:        "split the work",
		Assignments: []llm.Assignment{{AgentID: "w1", Subtask: "dig into sources"}},
	}}
	planner := NewLLMPlanner(client)
	workers := []roster.Profile{
		{ID: "w1", Name: "research", Role: roster.RoleWorker},
		{ID: "w2", Name: "coding", Role: roster.RoleWorker, Specialties: []string{"code"}},
	}

	plan, err := planner.Plan(context.Background(), &task.Task{ID: "t1", Instructions: "do things"}, workers)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Summary != "split the work" {
		t.Fatalf("unexpected summary: %q", plan.Summary)
	}
	if plan.Assignments[0].Subtask != "dig into sources" {
		t.Fatalf("model assignment must be kept: %q", plan.Assignments[0].Subtask)
	}
	if plan.Assignments[1].Subtask == "" {
		t.Fatal("missing assignment must fall back to heuristic subtask")
	}
}

func TestLLMPlannerPropagatesFailure(t *testing.T) {
	planner := NewLLMPlanner(&scriptedLLM{err: context.DeadlineExceeded})
	_, err := planner.Plan(context.Background(), &task.Task{ID: "t1"}, []roster.Profile{{ID: "w1", Role: roster.RoleWorker}})
	if err == nil {
		t.Fatal("expected error")
	}
}
