package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "OpenHive-Swarm/internal/errors"
)

// MySQLStore 使用 MySQL 记录任务状态，迭代历史以 JSON 形式落库。
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS hive_tasks (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        instructions TEXT NOT NULL,
        status VARCHAR(32) NOT NULL,
        queen_agent_id VARCHAR(64) DEFAULT '',
        worker_agents TEXT,
        iterations LONGTEXT,
        quality_score DOUBLE NOT NULL DEFAULT 0,
        quality_threshold DOUBLE NOT NULL DEFAULT 0.8,
        max_iterations INT NOT NULL DEFAULT 5,
        created_at BIGINT NOT NULL,
        completed_at BIGINT NULL,
        error_message TEXT,
        INDEX idx_hive_user_created (user_id, created_at),
        INDEX idx_hive_status (status)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 hive_tasks 表失败")
	}
	return nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, t *Task) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "task 不能为空")
	}
	if strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "任务 ID 不能为空")
	}

	workers, iterations, err := encodeColumns(t)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO hive_tasks
        (id, user_id, instructions, status, queen_agent_id, worker_agents, iterations,
         quality_score, quality_threshold, max_iterations, created_at, completed_at, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		t.ID,
		t.UserID,
		t.Instructions,
		t.Status,
		t.QueenAgentID,
		workers,
		iterations,
		t.QualityScore,
		t.QualityThreshold,
		t.MaxIterations,
		t.CreatedAt,
		nullableInt64(t.CompletedAt),
		t.ErrorMessage,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	return nil
}

// Get 返回任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	const stmt = selectColumns + ` WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanTask(row)
}

// Update 在事务内以行锁保证单任务的原子修改。
func (s *MySQLStore) Update(ctx context.Context, id string, mutate Mutator) (*Task, error) {
	if mutate == nil {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "mutator 不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` WHERE id = ? FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if err := mutate(t); err != nil {
		return nil, err
	}

	workers, iterations, err := encodeColumns(t)
	if err != nil {
		return nil, err
	}

	const stmt = `UPDATE hive_tasks SET
        status = ?, queen_agent_id = ?, worker_agents = ?, iterations = ?,
        quality_score = ?, completed_at = ?, error_message = ?
        WHERE id = ?`
	if _, err := tx.ExecContext(ctx, stmt,
		t.Status,
		t.QueenAgentID,
		workers,
		iterations,
		t.QualityScore,
		nullableInt64(t.CompletedAt),
		t.ErrorMessage,
		t.ID,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return t, nil
}

// List 返回指定用户的任务，默认按创建时间倒序。
func (s *MySQLStore) List(ctx context.Context, userID string, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	var builder strings.Builder
	builder.WriteString(selectColumns)
	args := make([]any, 0, 4)

	conditions := make([]string, 0, 2)
	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	if opts.Order == SortByCreatedAsc {
		builder.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		builder.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	builder.WriteString(" LIMIT ?")
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	results := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务列表失败")
	}
	return results, nil
}

// Stats 统计指定用户任务的状态分布。
func (s *MySQLStore) Stats(ctx context.Context, userID string) (Stats, error) {
	query := `SELECT status, COUNT(*) FROM hive_tasks`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	defer rows.Close()

	stats := Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取统计结果失败")
		}
		for i := 0; i < count; i++ {
			stats.observe(status)
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `SELECT id, user_id, instructions, status, queen_agent_id,
        worker_agents, iterations, quality_score, quality_threshold, max_iterations,
        created_at, completed_at, error_message FROM hive_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var workers, iterations sql.NullString
	var completedAt sql.NullInt64
	var errorMessage sql.NullString

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Instructions,
		&t.Status,
		&t.QueenAgentID,
		&workers,
		&iterations,
		&t.QualityScore,
		&t.QualityThreshold,
		&t.MaxIterations,
		&t.CreatedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}

	if workers.Valid && workers.String != "" {
		if err := json.Unmarshal([]byte(workers.String), &t.WorkerAgents); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 worker_agents 失败")
		}
	}
	if iterations.Valid && iterations.String != "" {
		if err := json.Unmarshal([]byte(iterations.String), &t.Iterations); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析迭代历史失败")
		}
	}
	// 空历史落库为空字符串，读回时还原成空切片，保证 JSON 视图始终是 []。
	if t.Iterations == nil {
		t.Iterations = []IterationRecord{}
	}
	if completedAt.Valid {
		value := completedAt.Int64
		t.CompletedAt = &value
	}
	if errorMessage.Valid {
		t.ErrorMessage = errorMessage.String
	}
	return &t, nil
}

func encodeColumns(t *Task) (string, string, error) {
	workers := ""
	if len(t.WorkerAgents) > 0 {
		encoded, err := json.Marshal(t.WorkerAgents)
		if err != nil {
			return "", "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码 worker_agents 失败")
		}
		workers = string(encoded)
	}
	iterations := ""
	if len(t.Iterations) > 0 {
		encoded, err := json.Marshal(t.Iterations)
		if err != nil {
			return "", "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码迭代历史失败")
		}
		iterations = string(encoded)
	}
	return workers, iterations, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ Store = (*MySQLStore)(nil)
