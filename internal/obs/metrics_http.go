package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthCheck is one named check reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

func BootstrapMetricsServer(addr string, l *zap.Logger, checks ...HealthCheck) *http.Server {
	ms := &http.Server{
		Addr:         addr,
		Handler:      MetricsMux(checks...),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()

	return ms
}

// MetricsMux serves /metrics and a /healthz that runs every check in
// parallel and reports each one by name.
func MetricsMux(checks ...HealthCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			healthy = true
			report  = make(map[string]string, len(checks))
		)
		for _, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := "ok"
				if err := c.Check(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				report[c.Name] = status
				healthy = healthy && status == "ok"
			}()
		}
		wg.Wait()

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}
