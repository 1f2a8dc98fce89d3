package roster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewValidatesCatalog(t *testing.T) {
	cases := []struct {
		name   string
		agents []Profile
	}{
		{"missing queen", []Profile{{ID: "w1", Role: RoleWorker}}},
		{"missing workers", []Profile{{ID: "q1", Role: RoleQueen}}},
		{"duplicate id", []Profile{{ID: "q1", Role: RoleQueen}, {ID: "q1", Role: RoleWorker}}},
		{"two queens", []Profile{{ID: "q1", Role: RoleQueen}, {ID: "q2", Role: RoleQueen}, {ID: "w1", Role: RoleWorker}}},
		{"bad role", []Profile{{ID: "q1", Role: RoleQueen}, {ID: "w1", Role: Role("drone")}}},
		{"bad failure mode", []Profile{{ID: "q1", Role: RoleQueen}, {ID: "w1", Role: RoleWorker, FailureMode: FailureMode("flaky")}}},
		{"negative token cost", []Profile{{ID: "q1", Role: RoleQueen}, {ID: "w1", Role: RoleWorker, TokenCost: -10}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.agents); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - id: queen-1
    name: hive-queen
    role: queen
  - id: worker-data
    name: data-worker
    role: worker
    specialties: [data, analysis]
  - id: worker-code
    name: code-worker
    role: worker
    specialties: [code, debug]
    latency_ms: 20
    token_cost: 320
    failure_mode: error
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	roster, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if roster.Queen().ID != "queen-1" {
		t.Fatalf("unexpected queen: %s", roster.Queen().ID)
	}
	if len(roster.Workers()) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(roster.Workers()))
	}
	if _, ok := roster.Lookup("worker-data"); !ok {
		t.Fatal("lookup worker-data failed")
	}
	coder, ok := roster.Lookup("worker-code")
	if !ok {
		t.Fatal("lookup worker-code failed")
	}
	if coder.TokenCost != 320 || coder.LatencyMS != 20 || coder.FailureMode != FailureError {
		t.Fatalf("worker-code cost model not parsed: %+v", coder)
	}
}

func TestMatchPrefersSpecialtyOverlap(t *testing.T) {
	roster, err := New([]Profile{
		{ID: "q1", Role: RoleQueen},
		{ID: "w-research", Role: RoleWorker, Specialties: []string{"research"}},
		{ID: "w-code", Role: RoleWorker, Specialties: []string{"code", "debug"}},
		{ID: "w-write", Role: RoleWorker, Specialties: []string{"writing"}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	matched := roster.Match("please debug the code for the parser", 2)
	if len(matched) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(matched))
	}
	if matched[0].ID != "w-code" {
		t.Fatalf("expected w-code first, got %s", matched[0].ID)
	}

	// 无任何专长命中时按名册顺序回退。
	fallback := roster.Match("unrelated instructions", 2)
	if fallback[0].ID != "w-research" || fallback[1].ID != "w-code" {
		t.Fatalf("unexpected fallback order: %s, %s", fallback[0].ID, fallback[1].ID)
	}

	all := roster.Match("anything", 0)
	if len(all) != 3 {
		t.Fatalf("max<=0 must return all workers, got %d", len(all))
	}
}
