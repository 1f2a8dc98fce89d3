package roster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role 区分蜂群中的智能体角色。
type Role string

const (
	RoleQueen  Role = "queen"
	RoleWorker Role = "worker"
)

// FailureMode 控制内置模拟 worker 的故障注入行为。
type FailureMode string

const (
	// FailureNone 正常执行。
	FailureNone FailureMode = ""
	// FailureError 每次执行都返回失败。
	FailureError FailureMode = "error"
	// FailureTimeout 挂起直到调度方超时。
	FailureTimeout FailureMode = "timeout"
)

// Profile 描述一个可被调度的智能体。LatencyMS、TokenCost 与 FailureMode
// 仅作用于内置模拟 worker，接入真实执行后端时忽略。
type Profile struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Role        Role        `yaml:"role" json:"role"`
	Specialties []string    `yaml:"specialties,omitempty" json:"specialties,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	LatencyMS   int64       `yaml:"latency_ms,omitempty" json:"latency_ms,omitempty"`
	TokenCost   int64       `yaml:"token_cost,omitempty" json:"token_cost,omitempty"`
	FailureMode FailureMode `yaml:"failure_mode,omitempty" json:"failure_mode,omitempty"`
}

// Roster 维护智能体名册，负责挑选蜂后与匹配工作智能体。
type Roster struct {
	queen   Profile
	workers []Profile
}

type catalogFile struct {
	Agents []Profile `yaml:"agents"`
}

// Load 从 YAML 名册文件构造 Roster。名册必须恰好声明一个 queen。
func Load(path string) (*Roster, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("名册文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析名册路径失败: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取名册文件失败: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("解析名册文件失败: %w", err)
	}
	return New(catalog.Agents)
}

// New 基于给定的智能体列表构造 Roster。
func New(agents []Profile) (*Roster, error) {
	roster := &Roster{}
	seen := make(map[string]struct{}, len(agents))
	for _, agent := range agents {
		agent.ID = strings.TrimSpace(agent.ID)
		if agent.ID == "" {
			return nil, fmt.Errorf("智能体缺少 id")
		}
		if _, ok := seen[agent.ID]; ok {
			return nil, fmt.Errorf("智能体 id 重复: %s", agent.ID)
		}
		seen[agent.ID] = struct{}{}

		switch agent.FailureMode {
		case FailureNone, FailureError, FailureTimeout:
		default:
			return nil, fmt.Errorf("智能体 %s 的 failure_mode 不合法: %q", agent.ID, agent.FailureMode)
		}
		if agent.TokenCost < 0 {
			return nil, fmt.Errorf("智能体 %s 的 token_cost 不能为负", agent.ID)
		}

		switch agent.Role {
		case RoleQueen:
			if roster.queen.ID != "" {
				return nil, fmt.Errorf("名册中声明了多个 queen: %s 与 %s", roster.queen.ID, agent.ID)
			}
			roster.queen = agent
		case RoleWorker:
			roster.workers = append(roster.workers, agent)
		default:
			return nil, fmt.Errorf("智能体 %s 的角色不合法: %q", agent.ID, agent.Role)
		}
	}
	if roster.queen.ID == "" {
		return nil, fmt.Errorf("名册中缺少 queen")
	}
	if len(roster.workers) == 0 {
		return nil, fmt.Errorf("名册中缺少 worker")
	}
	return roster, nil
}

// Default 返回内置名册，在未配置名册文件时使用。
func Default() *Roster {
	roster, err := New([]Profile{
		{ID: "queen-1", Name: "hive-queen", Role: RoleQueen, Description: "负责任务拆分与结果汇总"},
		{ID: "worker-research", Name: "research-worker", Role: RoleWorker, Specialties: []string{"research", "analysis", "data"}},
		{ID: "worker-coding", Name: "coding-worker", Role: RoleWorker, Specialties: []string{"code", "implementation", "debug"}},
		{ID: "worker-writing", Name: "writing-worker", Role: RoleWorker, Specialties: []string{"writing", "documentation", "summary"}},
		{ID: "worker-review", Name: "review-worker", Role: RoleWorker, Specialties: []string{"review", "testing", "quality"}},
	})
	if err != nil {
		panic(err)
	}
	return roster
}

// Queen 返回名册中的蜂后。
func (r *Roster) Queen() Profile {
	return r.queen
}

// Workers 返回全部工作智能体的拷贝。
func (r *Roster) Workers() []Profile {
	out := make([]Profile, len(r.workers))
	copy(out, r.workers)
	return out
}

// Lookup 按 ID 查找智能体。
func (r *Roster) Lookup(id string) (Profile, bool) {
	if r.queen.ID == id {
		return r.queen, true
	}
	for _, worker := range r.workers {
		if worker.ID == id {
			return worker, true
		}
	}
	return Profile{}, false
}

// Match 根据指令文本挑选至多 max 个工作智能体。
// 专长与指令重合度高的排在前面；没有任何重合时回退到名册顺序。
func (r *Roster) Match(instructions string, max int) []Profile {
	if max <= 0 || max > len(r.workers) {
		max = len(r.workers)
	}

	normalized := strings.ToLower(instructions)
	type scored struct {
		profile Profile
		score   int
		order   int
	}
	candidates := make([]scored, 0, len(r.workers))
	for i, worker := range r.workers {
		candidates = append(candidates, scored{
			profile: worker,
			score:   specialtyHits(worker, normalized),
			order:   i,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	out := make([]Profile, 0, max)
	for _, c := range candidates[:max] {
		out = append(out, c.profile)
	}
	return out
}

func specialtyHits(worker Profile, normalized string) int {
	hits := 0
	for _, specialty := range worker.Specialties {
		keyword := strings.ToLower(strings.TrimSpace(specialty))
		if keyword == "" {
			continue
		}
		if strings.Contains(normalized, keyword) {
			hits++
		}
	}
	return hits
}
