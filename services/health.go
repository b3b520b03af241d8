package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"ftp-http-proxy/component"
	"ftp-http-proxy/proxy"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

type ComponentHealth struct {
	Status      HealthStatus `json:"status"`
	LastChecked time.Time    `json:"last_checked"`
	Message     string       `json:"message,omitempty"`
	Stats       *proxy.Stats `json:"stats,omitempty"`
}

type HealthCheck struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// statsReporter is implemented by proxies.
type statsReporter interface {
	Stats() proxy.Stats
}

type HealthMonitor struct {
	runtime  *Runtime
	addr     string
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewHealthMonitor(runtime *Runtime, addr string) *HealthMonitor {
	return &HealthMonitor{
		runtime: runtime,
		addr:    addr,
	}
}

// Handler serves /health, /health/live and /health/ready.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.healthHandler)
	mux.HandleFunc("/health/live", hm.livenessHandler)
	mux.HandleFunc("/health/ready", hm.readinessHandler)
	return mux
}

func (hm *HealthMonitor) Start() error {
	listener, err := net.Listen("tcp", hm.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", hm.addr, err)
	}

	hm.mu.Lock()
	hm.listener = listener
	hm.server = &http.Server{
		Handler:           hm.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := hm.server
	hm.mu.Unlock()

	go func() {
		slog.Info("Health-Check server started", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health-Check server error", "error", err)
		}
	}()
	return nil
}

// Addr is the address the server listens on, empty before Start.
func (hm *HealthMonitor) Addr() string {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.listener == nil {
		return ""
	}
	return hm.listener.Addr().String()
}

func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	server := hm.server
	hm.mu.Unlock()

	if server != nil {
		server.Close()
	}
	slog.Info("Health-Check server stopped")
}

func (hm *HealthMonitor) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthCheck := hm.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	if healthCheck.Status != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(healthCheck)
}

func (hm *HealthMonitor) livenessHandler(w http.ResponseWriter, r *http.Request) {
	// If we can respond here, the process is running
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}

func (hm *HealthMonitor) readinessHandler(w http.ResponseWriter, r *http.Request) {
	// Ready as long as at least one proxy is serving
	healthCheck := hm.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	if healthCheck.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(healthCheck)
}

func (hm *HealthMonitor) getHealthStatus() HealthCheck {
	components := make(map[string]ComponentHealth)
	now := time.Now()

	running := hm.runtime.Components()
	failed := 0
	for _, c := range running {
		components[c.ID()] = hm.componentHealth(c, now)
		if components[c.ID()].Status == HealthStatusUnhealthy {
			failed++
		}
	}

	overallStatus := HealthStatusHealthy
	switch {
	case len(running) == 0:
		overallStatus = HealthStatusUnhealthy
		components["runtime"] = ComponentHealth{
			Status:      HealthStatusUnhealthy,
			LastChecked: now,
			Message:     "no proxies running",
		}
	case failed == len(running):
		overallStatus = HealthStatusUnhealthy
	case failed > 0:
		overallStatus = HealthStatusDegraded
	}

	// S3 Client Manager Status
	if hm.runtime.S3ClientManager != nil {
		activeClients := hm.runtime.S3ClientManager.GetActiveClientCount()
		components["s3_clients"] = ComponentHealth{
			Status:      HealthStatusHealthy,
			LastChecked: now,
			Message:     fmt.Sprintf("%d active S3 clients", activeClients),
		}
	}

	return HealthCheck{
		Status:     overallStatus,
		Timestamp:  now,
		Components: components,
	}
}

func (hm *HealthMonitor) componentHealth(c component.Component, now time.Time) ComponentHealth {
	health := ComponentHealth{
		Status:      HealthStatusHealthy,
		LastChecked: now,
		Message:     "proxy is serving",
	}
	if reporter, ok := c.(statsReporter); ok {
		stats := reporter.Stats()
		health.Stats = &stats
	}
	if err := hm.runtime.Failure(c.ID()); err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = err.Error()
	}
	return health
}
