package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenHive-Swarm/sdk/go/openhive"
)

func envelope(data any) map[string]any {
	return map[string]any{"ok": true, "data": data}
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(envelope(openhive.Task{
				ID:               "task-demo",
				Status:           "created",
				Instructions:     "demo instructions",
				QualityThreshold: 0.8,
				MaxIterations:    5,
				CreatedAt:        time.Now().Unix(),
			}))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo/progress", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope(openhive.Progress{
			TaskID:             "task-demo",
			Status:             "completed",
			CurrentIteration:   2,
			MaxIterations:      5,
			QualityScore:       0.85,
			ProgressPercentage: 100,
		}))
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope(openhive.Task{
			ID:           "task-demo",
			Status:       "completed",
			QualityScore: 0.85,
		}))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := openhive.NewClient(srv.URL, "demo-user", srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreateTask(ctx, openhive.TaskSubmission{
		Instructions:     "research the topic and draft a summary",
		QualityThreshold: 0.8,
		MaxIterations:    5,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created task %s (%s)\n", created.ID, created.Status)

	final, err := client.WaitUntilTerminal(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished with status %s, score %.2f\n", final.ID, final.Status, final.QualityScore)
}
