package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vault-factory-lab/internal/observability"
)

// serveStatus is the JSON body of /status.
type serveStatus struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Running      bool      `json:"running"`
	Deployments  int       `json:"deployments"`
	Harvests     int       `json:"harvests"`
	TotalProfit  string    `json:"total_profit_wei"`
	Verification string    `json:"verification,omitempty"`
}

type server struct {
	app     *app
	metrics *observability.Metrics
	started time.Time

	mu     sync.Mutex
	status serveStatus
}

func newServeCmd(a *app) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scenario on a schedule and serve /metrics, /health and /status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.serve(ctx, listen, interval)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides metrics.listen)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "rerun the scenario this often; zero runs it once")
	return cmd
}

func (a *app) serve(ctx context.Context, listen string, interval time.Duration) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &server{
		app:     a,
		metrics: observability.NewMetrics(a.cfg.Metrics.Namespace, reg),
		started: time.Now(),
		status:  serveStatus{Status: "starting"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.HandlerFor(reg))
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.runOnce(ctx)
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.log.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-tick:
			s.runOnce(ctx)
		}
	}
}

// runOnce runs a scenario and records the outcome in the status.
func (s *server) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.status.Running = true
	s.mu.Unlock()

	result, err := s.app.simulate(ctx, s.metrics, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.Runs++
	s.status.LastRun = time.Now().UTC()
	if err != nil {
		s.status.Failures++
		s.status.Status = "degraded"
		s.status.LastError = err.Error()
		s.app.log.Error("scenario run failed", zap.Error(err))
		return
	}
	s.status.Status = "ok"
	s.status.LastError = ""
	s.status.Deployments = len(result.Deployments)
	s.status.Harvests = len(result.Outcomes)
	s.status.TotalProfit = result.TotalProfit().Dec()
	if v := result.Verification; v != nil {
		s.status.Verification = fmtRatio(v.MatchedDeployments, v.TotalDeployments)
	}
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Uptime = time.Since(s.started).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func fmtRatio(a, b int) string {
	return strconv.Itoa(a) + "/" + strconv.Itoa(b)
}
