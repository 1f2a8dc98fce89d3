package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/observability/metrics"
	"OpenHive-Swarm/internal/swarm"
	"OpenHive-Swarm/internal/task"
)

// userHeader 携带调用方身份，网关层负责认证并注入该头。
const userHeader = "X-User-ID"

// Server 负责暴露 REST 接口，供外部驱动编排引擎。
type Server struct {
	addr   string
	engine *swarm.Engine
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine *swarm.Engine) *Server {
	return &Server{addr: addr, engine: engine}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", s.instrument("tasks", s.handleTasks))
	mux.HandleFunc("/api/v1/tasks/", s.instrument("task_detail", s.handleTaskSubroutes))
	mux.HandleFunc("/api/v1/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, xerrors.New(xerrors.CodeInvalidInput, "仅支持 GET/POST"))
	}
}

// handleTaskSubroutes 解析 /api/v1/tasks/{id}[/{action}] 并分发。
func (s *Server) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	parts := strings.SplitN(rest, "/", 2)
	taskID := parts[0]
	if taskID == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidInput, "缺少任务 ID"))
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetTask(w, r, taskID)
	case action == "progress" && r.Method == http.MethodGet:
		s.handleProgress(w, r, taskID)
	case action == "iterate" && r.Method == http.MethodPost:
		s.handleIterate(w, r, taskID)
	case action == "run" && r.Method == http.MethodPost:
		s.handleRun(w, r, taskID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancel(w, r, taskID)
	default:
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未知的任务操作"))
	}
}

// handleCreateTask 处理创建任务的请求。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req swarm.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidInput, err, "请求体解析失败"))
		return
	}
	if header := strings.TrimSpace(r.Header.Get(userHeader)); header != "" {
		req.UserID = header
	}

	created, err := s.engine.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(userHeader))

	var opts []task.ListOption
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidInput, "limit 参数不合法"))
			return
		}
		opts = append(opts, task.WithLimit(parsed))
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, value := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(value))
			if !task.IsValidStatus(status) {
				writeError(w, xerrors.New(xerrors.CodeInvalidInput, "status 参数不合法"))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := r.URL.Query().Get("order"); raw == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByCreatedAsc))
	}

	results, err := s.engine.List(r.Context(), userID, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, results)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	t, err := s.engine.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, taskID string) {
	progress, err := s.engine.Progress(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, progress)
}

func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request, taskID string) {
	record, err := s.engine.Iterate(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, record)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, taskID string) {
	if err := s.engine.Run(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]string{"task_id": taskID, "mode": "auto"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, taskID string) {
	cancelled, err := s.engine.Cancel(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cancelled)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, xerrors.New(xerrors.CodeInvalidInput, "仅支持 GET"))
		return
	}
	stats, err := s.engine.Stats(r.Context(), strings.TrimSpace(r.Header.Get(userHeader)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument 为处理器附加请求指标采集。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
