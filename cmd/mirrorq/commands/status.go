package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mirrorq/mirrorq/pkg/config"
)

var (
	statusHost    string
	statusAPIPort int
	statusOutput  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service and bucket status",
	Long: `Display the current status of the mirrorq service and its buckets.

This command queries the REST API of a running service and shows each
bucket's scheduler state, worker usage, and queue statistics.

Examples:
  # Check status (uses default settings)
  mirrorq status

  # Check status with custom API port
  mirrorq status --api-port 9000

  # Output as JSON
  mirrorq status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "127.0.0.1", "API server host")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", config.DefaultAPIPort, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json)")
}

// bucketStatus mirrors the API bucket response fields the status view shows.
type bucketStatus struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	SourceFolders     []string `json:"source_folders"`
	DestinationFolder string   `json:"destination_folder"`
	WorkerCount       int      `json:"worker_count"`
	Status            string   `json:"status"`
	ActiveWorkers     int      `json:"active_workers"`
}

// queueStats mirrors the API stats response.
type queueStats struct {
	Statuses map[string]struct {
		Count     int64 `json:"count"`
		TotalSize int64 `json:"total_size"`
	} `json:"statuses"`
	Total int64 `json:"total"`
}

// statusReport is the combined view the status command renders.
type statusReport struct {
	Healthy bool           `json:"healthy"`
	Buckets []bucketStatus `json:"buckets"`
	Stats   queueStats     `json:"stats"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := fmt.Sprintf("http://%s:%d", statusHost, statusAPIPort)
	client := &http.Client{Timeout: 2 * time.Second}

	report := statusReport{}

	resp, err := client.Get(base + "/health")
	if err != nil {
		return fmt.Errorf("service is not reachable at %s: %w", base, err)
	}
	resp.Body.Close()
	report.Healthy = resp.StatusCode == http.StatusOK

	if err := getJSON(client, base+"/api/v1/buckets", &report.Buckets); err != nil {
		return err
	}
	if err := getJSON(client, base+"/api/v1/stats", &report.Stats); err != nil {
		return err
	}

	if statusOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatusTables(report)
	return nil
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printStatusTables(report statusReport) {
	fmt.Println()
	if report.Healthy {
		fmt.Println("mirrorq is running and healthy")
	} else {
		fmt.Println("mirrorq is running but unhealthy")
	}
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Status", "Workers", "Sources", "Destination"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, b := range report.Buckets {
		table.Append([]string{
			fmt.Sprint(b.ID),
			b.Name,
			b.Status,
			fmt.Sprintf("%d/%d", b.ActiveWorkers, b.WorkerCount),
			fmt.Sprint(len(b.SourceFolders)),
			b.DestinationFolder,
		})
	}
	table.Render()

	fmt.Println()
	stats := tablewriter.NewWriter(os.Stdout)
	stats.SetHeader([]string{"Status", "Files", "Bytes"})
	stats.SetAutoWrapText(false)
	stats.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	stats.SetAlignment(tablewriter.ALIGN_LEFT)
	stats.SetCenterSeparator("")
	stats.SetColumnSeparator("")
	stats.SetRowSeparator("")
	stats.SetHeaderLine(false)
	stats.SetBorder(false)
	stats.SetTablePadding("  ")
	stats.SetNoWhiteSpace(true)

	for _, status := range []string{"pending", "in_progress", "completed", "error", "conflict"} {
		agg := report.Stats.Statuses[status]
		stats.Append([]string{status, fmt.Sprint(agg.Count), fmt.Sprint(agg.TotalSize)})
	}
	stats.Render()
	fmt.Println()
}
