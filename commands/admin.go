package commands

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	sqslistener "github.com/our-edu/go-sqs-listener"
)

type healthResponse struct {
	State string `json:"state"`
}

type listenerResponse struct {
	Queue             string            `json:"queue"`
	Name              string            `json:"name,omitempty"`
	URL               string            `json:"url,omitempty"`
	VisibilityTimeout string            `json:"visibility_timeout,omitempty"`
	InFlight          int               `json:"in_flight"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

// NewAdminRouter returns the admin HTTP handler of a container:
//
//	GET /healthz            200 while the container is started, 503 otherwise
//	GET /listeners          the registered listeners
//	GET /listeners/{queue}  a single listener
//	GET /metrics            Prometheus metrics, when enabled
func NewAdminRouter(container *sqslistener.Container) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		if !container.IsRunning() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, healthResponse{State: container.State().String()})
	})

	r.Get("/listeners", func(w http.ResponseWriter, _ *http.Request) {
		queues := container.Listeners()
		out := make([]listenerResponse, 0, len(queues))
		for _, queue := range queues {
			out = append(out, describe(container, queue))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/listeners/{queue}", func(w http.ResponseWriter, req *http.Request) {
		queue := chi.URLParam(req, "queue")
		for _, registered := range container.Listeners() {
			if registered == queue {
				writeJSON(w, http.StatusOK, describe(container, queue))
				return
			}
		}
		http.Error(w, sqslistener.ErrListenerNotFound.Error(), http.StatusNotFound)
	})

	if handler := container.PrometheusHandler(); handler != nil {
		r.Method(http.MethodGet, "/metrics", handler)
	}

	return r
}

func describe(container *sqslistener.Container, queue string) listenerResponse {
	resp := listenerResponse{Queue: queue, InFlight: container.InFlight(queue)}
	if q, ok := container.Queue(queue); ok {
		resp.Name = q.Name
		resp.URL = q.URL
		resp.VisibilityTimeout = q.VisibilityTimeout.String()
		resp.Attributes = q.Attributes
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
