package command

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/psastore-go/internal/cli/connection"
	"github.com/yndnr/psastore-go/internal/cli/output"
	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server status and maintenance over the admin API",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the server status summary",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: systemHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check that every storage engine has recovered",
				Action: systemReady,
			},
			{
				Name:   "stats",
				Usage:  "Show storage engine statistics",
				Action: systemStats,
			},
			{
				Name:      "snapshot",
				Usage:     "Write a snapshot of a service's store",
				ArgsUsage: "SERVICE",
				Action:    systemSnapshot,
			},
		},
	}
}

// StatusSummary mirrors GET /admin/v1/status/summary.
type StatusSummary struct {
	Status        string           `json:"status" yaml:"status"`
	Build         buildinfo.Info   `json:"build" yaml:"build"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	UptimeSeconds int64            `json:"uptime_seconds" yaml:"uptime_seconds"`
	Services      []ServiceSummary `json:"services" yaml:"services"`
}

// ServiceSummary is one service of StatusSummary.
type ServiceSummary struct {
	Name      string `json:"name" yaml:"name"`
	Ready     bool   `json:"ready" yaml:"ready"`
	Backend   string `json:"backend" yaml:"backend"`
	Assets    int    `json:"assets" yaml:"assets"`
	UsedBytes uint64 `json:"used_bytes" yaml:"used_bytes"`
	Support   uint32 `json:"support" yaml:"support" table:"wide"`
}

func systemStatus(c *cli.Context) error {
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := mgr.HTTP().Get(ctx, "/admin/v1/status/summary")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result StatusSummary
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	s := GetSettings(c)
	if s.Output != output.FormatTable {
		return render(c, result)
	}

	w := writer(c)
	fmt.Fprintf(w, "Status:   %s\n", result.Status)
	fmt.Fprintf(w, "Version:  %s (%s)\n", result.Build.Version, result.Build.Commit)
	fmt.Fprintf(w, "Uptime:   %s\n\n", time.Duration(result.UptimeSeconds)*time.Second)
	return (&output.TableFormatter{Wide: s.Wide}).Format(w, result.Services)
}

func systemHealth(c *cli.Context) error {
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	client := mgr.HTTP()
	resp, err := client.Get(ctx, "/health")
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", client.BaseURL(), err)
	}
	var result HealthResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	if GetSettings(c).Output != output.FormatTable {
		return render(c, result)
	}
	fmt.Fprintf(writer(c), "Server is %s\n  Target: %s\n", result.Status, client.BaseURL())
	return nil
}

func systemReady(c *cli.Context) error {
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := mgr.HTTP().Get(ctx, "/ready")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result ReadyResult
	parseErr := connection.ParseResponse(resp, &result)

	var apiErr *connection.APIError
	if parseErr != nil && !(errors.As(parseErr, &apiErr) && result.Status != "") {
		return parseErr
	}
	if err := render(c, result); err != nil {
		return err
	}
	if result.Status != "ready" {
		return fmt.Errorf("server is %s", result.Status)
	}
	return nil
}

func systemStats(c *cli.Context) error {
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := mgr.HTTP().Get(ctx, "/admin/v1/storage/stats")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result struct {
		Services map[string]any `json:"services" yaml:"services"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	return render(c, result.Services)
}

func systemSnapshot(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("SERVICE argument required (ps or its)")
	}
	mgr, err := manager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := mgr.HTTP().Post(ctx, "/admin/v1/storage/"+url.PathEscape(name)+"/snapshot", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var result map[string]any
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}
	return render(c, result)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
