package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the fields of the server's job status response that the
// command prints.
type jobStatus struct {
	ID                 string  `json:"id"`
	State              string  `json:"state"`
	TrainState         string  `json:"trainState"`
	Loss               float64 `json:"loss"`
	InitialLoss        float64 `json:"initialLoss"`
	Iterations         int     `json:"iterations"`
	LineSearchFailures int     `json:"lineSearchFailures"`
	Elapsed            float64 `json:"elapsed"`
	ItersPerSecond     float64 `json:"itersPerSecond"`
	Error              string  `json:"error"`
	Config             struct {
		Optimizer string `json:"optimizer"`
		Widths    []int  `json:"widths"`
		Steps     int    `json:"steps"`
		BatchSize int    `json:"batchSize"`
		Seed      int64  `json:"seed"`
	} `json:"config"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s", serverURL, jobID), jobID)
}

func fetchJSON(url string, v interface{}) (int, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(url string) error {
	var jobs []jobStatus
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Optimizer: %s\n", job.Config.Optimizer)
		fmt.Printf("  Iterations: %d/%d\n", job.Iterations, job.Config.Steps)
		if job.Iterations > 0 {
			fmt.Printf("  Loss: %.6g -> %.6g\n", job.InitialLoss, job.Loss)
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	var status jobStatus
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	if status.TrainState != "" {
		fmt.Printf("Training: %s\n", status.TrainState)
	}
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Optimizer: %s\n", status.Config.Optimizer)
	fmt.Printf("  Widths: %v\n", status.Config.Widths)
	fmt.Printf("  Steps: %d\n", status.Config.Steps)
	fmt.Printf("  Batch size: %d\n", status.Config.BatchSize)
	fmt.Printf("  Seed: %d\n", status.Config.Seed)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %d\n", status.Iterations)
	if status.Iterations > 0 {
		fmt.Printf("  Initial Loss: %.6g\n", status.InitialLoss)
		fmt.Printf("  Loss: %.6g\n", status.Loss)
		if status.InitialLoss > 0 {
			improvement := status.InitialLoss - status.Loss
			fmt.Printf("  Improvement: %.6g (%.1f%%)\n", improvement, 100*improvement/status.InitialLoss)
		}
	}
	if status.LineSearchFailures > 0 {
		fmt.Printf("  Line search failures: %d\n", status.LineSearchFailures)
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.ItersPerSecond > 0 {
		fmt.Printf("  Throughput: %.0f iterations/sec\n", status.ItersPerSecond)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}

	return nil
}
