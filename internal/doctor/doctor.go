// Package doctor runs preflight diagnostics for the taskhive daemon:
// config validity, data directory permissions, database health, schema
// compilation and gateway reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/taskhive/internal/config"
	"github.com/basket/taskhive/internal/persistence"
	"github.com/basket/taskhive/internal/schema"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkDatabase,
		checkSchemas,
		checkGateway,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Persistence.Backend == "memory" {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Memory backend configured (no database)"}
	}

	dbPath := cfg.Persistence.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.HomeDir, "taskhive.db")
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	if _, err := store.LoadTasks(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "Connection and schema valid", Detail: dbPath}
}

func checkSchemas(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Schemas", Status: "SKIP", Message: "Config missing"}
	}
	if len(cfg.Schemas) == 0 {
		return CheckResult{Name: "Schemas", Status: "PASS", Message: "No task schemas configured"}
	}

	reg := schema.NewRegistry()
	var bad []string
	for _, sc := range cfg.Schemas {
		path := sc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.HomeDir, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", sc.TaskType, err))
			continue
		}
		if err := reg.Register(sc.TaskType, raw); err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", sc.TaskType, err))
		}
	}
	if len(bad) > 0 {
		return CheckResult{
			Name:    "Schemas",
			Status:  "FAIL",
			Message: fmt.Sprintf("%d of %d schemas failed to compile", len(bad), len(cfg.Schemas)),
			Detail:  strings.Join(bad, "; "),
		}
	}
	return CheckResult{Name: "Schemas", Status: "PASS", Message: fmt.Sprintf("%d schemas compiled", len(cfg.Schemas))}
}

func checkGateway(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Gateway", Status: "SKIP", Message: "Config missing"}
	}

	addr := strings.TrimSpace(cfg.Gateway.BindAddr)
	if addr == "" {
		return CheckResult{Name: "Gateway", Status: "SKIP", Message: "No bind address configured"}
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return CheckResult{Name: "Gateway", Status: "FAIL", Message: fmt.Sprintf("Bad bind address: %v", err)}
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		// A daemon that isn't running is a normal state for doctor runs.
		return CheckResult{
			Name:    "Gateway",
			Status:  "WARN",
			Message: "Daemon not reachable (is it running?)",
			Detail:  err.Error(),
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{Name: "Gateway", Status: "FAIL", Message: fmt.Sprintf("/healthz returned %d", resp.StatusCode)}
	}
	return CheckResult{
		Name:    "Gateway",
		Status:  "PASS",
		Message: fmt.Sprintf("Healthy at %s (%dms)", addr, time.Since(start).Milliseconds()),
	}
}
