package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"copier-core/internal/discovery"
	"copier-core/pkg/config"
	"copier-core/pkg/db"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

var requiredTables = []string{"accounts", "copier_settings", "copier_flags", "deleted_accounts", "discovered_paths"}

func main() {
	fmt.Println("🏥 Copier Core Health Check")
	fmt.Println("===========================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{
		Overall:  "HEALTHY",
		Services: make([]HealthStatus, 0),
	}

	cfg, err := config.Load()
	if err != nil {
		report.Services = append(report.Services, HealthStatus{
			Service: "Configuration", Status: "UNHEALTHY",
			Message: fmt.Sprintf("Failed to load: %v", err), Timestamp: time.Now(),
		})
	} else {
		report.Services = append(report.Services,
			checkConfig(cfg),
			checkDatabase(ctx, cfg),
			checkDiscovery(cfg),
			checkAPIServer(ctx, cfg),
		)
	}

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" && report.Overall != "UNHEALTHY" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		statusIcon := "✓"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "✗"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}

	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := HealthStatus{
		Service:   "Configuration",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}
	status.Message = fmt.Sprintf("Port=%s Lang=%s", cfg.Port, cfg.Language)
	if cfg.JWTSecret == "dev-secret" {
		status.Status = "DEGRADED"
		status.Message += " (JWT_SECRET is the development default)"
	}
	return status
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{
		Service:   "Database",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}

	for _, table := range requiredTables {
		var name string
		err := database.DB.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			status.Status = "DEGRADED"
			status.Message = fmt.Sprintf("Table %s missing (start the service once to migrate)", table)
			return status
		}
	}

	status.Message = fmt.Sprintf("Connected (%s)", cfg.DBPath)
	return status
}

func checkDiscovery(cfg *config.Config) HealthStatus {
	status := HealthStatus{
		Service:   "Discovery",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	dc := discovery.DefaultConfig()
	source := "defaults"
	if cfg.DiscoveryConfig != "" {
		loaded, err := discovery.LoadConfig(cfg.DiscoveryConfig)
		if err != nil {
			status.Status = "UNHEALTHY"
			status.Message = fmt.Sprintf("Config invalid: %v", err)
			return status
		}
		dc, source = loaded, cfg.DiscoveryConfig
	}
	if _, err := discovery.NewScanner(dc, discovery.NewMemoryStore(), nil); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Patterns invalid: %v", err)
		return status
	}

	status.Message = fmt.Sprintf("%d roots, %d patterns from %s", len(dc.Roots), len(dc.Patterns), source)
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{
		Service:   "API Server",
		Status:    "HEALTHY",
		Timestamp: time.Now(),
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://localhost:%s/api/system/status", cfg.Port), nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	var sys struct {
		Accounts     int  `json:"accounts"`
		TrackedFiles int  `json:"tracked_files"`
		Global       bool `json:"global_enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sys); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Unexpected status payload: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Running (%d accounts, %d files, global=%t)", sys.Accounts, sys.TrackedFiles, sys.Global)
	return status
}
