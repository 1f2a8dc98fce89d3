package task

// Stats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Planning  int `json:"planning"`
	Executing int `json:"executing"`
	Reviewing int `json:"reviewing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (s *Stats) observe(status Status) {
	s.Total++
	switch status {
	case StatusCreated:
		s.Created++
	case StatusPlanning:
		s.Planning++
	case StatusExecuting:
		s.Executing++
	case StatusReviewing:
		s.Reviewing++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
}
