package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync-go/internal/fetch"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/tools"
)

func newDoctorCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, the output folder and the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hs, closeDB, err := a.openHistory()
			if err != nil {
				return err
			}
			defer closeDB()

			deps := []monitoring.Dependency{
				toolCheck(tools.Locator{}, tools.FetcherName, a.cfg.Tools.FetcherPath),
				toolCheck(tools.Locator{}, tools.MuxerName, a.cfg.Tools.MuxerPath),
				writableCheck(a.cfg.OutputDir),
			}
			checker := monitoring.NewHealthChecker(version, nil, deps...)
			if hs != nil {
				checker = monitoring.NewHealthChecker(version, hs.DB(), deps...)
			}

			health := checker.Check(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(health); err != nil {
					return err
				}
			} else {
				renderHealth(a.stdout, health)
			}

			if health.Status == monitoring.HealthStatusUnhealthy {
				return fmt.Errorf("%s", health.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

// toolCheck locates a binary and asks it for its version
func toolCheck(l tools.Locator, name, configured string) monitoring.Dependency {
	return monitoring.Dependency{
		Name:     name,
		Required: true,
		Run: func(ctx context.Context) (string, error) {
			path, err := l.Find(name, configured)
			if err != nil {
				return "", err
			}

			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			version, err := toolVersion(ctx, name, path)
			if err != nil {
				return "", fmt.Errorf("%s: %w", path, err)
			}
			return fmt.Sprintf("%s (%s)", path, version), nil
		},
	}
}

func toolVersion(ctx context.Context, name, path string) (string, error) {
	if name == tools.FetcherName {
		return fetch.Version(ctx, path)
	}

	res, err := tools.ExecRunner{}.Run(ctx, path, "-version")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("exited with status %d", res.ExitCode)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(res.Stdout)), "\n")
	return first, nil
}

// writableCheck checks that files can be created under dir
func writableCheck(dir string) monitoring.Dependency {
	return monitoring.Dependency{
		Name: "output_dir",
		Run: func(context.Context) (string, error) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", err
			}
			f, err := os.CreateTemp(dir, ".doctor-*")
			if err != nil {
				return "", err
			}
			f.Close()
			os.Remove(f.Name())
			return filepath.Clean(dir), nil
		},
	}
}

func renderHealth(w io.Writer, h *monitoring.HealthCheck) {
	fmt.Fprintf(w, "tracksync %s: %s\n", h.Version, healthText(string(h.Status)))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Check", "Status", "Detail"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	names := lo.Keys(h.Checks)
	slices.Sort(names)
	for _, name := range names {
		c := h.Checks[name]
		table.Append([]string{name, healthText(c.Status), c.Message})
	}
	table.Render()
}

func healthText(s string) string {
	switch s {
	case string(monitoring.HealthStatusHealthy):
		return color.GreenString(s)
	case string(monitoring.HealthStatusDegraded):
		return color.YellowString(s)
	}
	return color.RedString(s)
}
