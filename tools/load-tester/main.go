package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// terminal backfill statuses, mirrored from the API.
var terminalStatuses = map[string]bool{
	"complete":        true,
	"partial_success": true,
	"error":           true,
	"cancelled":       true,
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the snapshot API")
	apiKey := flag.String("api-key", "supersecretkey", "API Key for admin routes")
	concurrency := flag.Int("c", 10, "Number of concurrent read workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 500, "Requests per second limit across readers")
	backfillDistricts := flag.String("backfill-districts", "", "Comma-separated district ids; launches a backfill job alongside the read load")
	backfillStart := flag.String("backfill-start", "", "Backfill start date (YYYY-MM-DD)")
	backfillEnd := flag.String("backfill-end", "", "Backfill end date (YYYY-MM-DD)")
	flag.Parse()

	log.Printf("Starting load test on %s", *baseURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	readPaths := []string{
		"/api/snapshots",
		"/api/snapshots/latest",
		"/api/snapshots/latest?successful=true",
	}

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				default:
					limiter.Wait(ctx) // Wait for token from rate limiter

					path := readPaths[(workerID+n)%len(readPaths)]
					req, err := http.NewRequestWithContext(ctx, http.MethodGet, *baseURL+path, nil)
					if err != nil {
						continue // Should not happen
					}

					resp, err := client.Do(req)
					if err != nil {
						errorCount.Add(1)
						continue
					}

					// 404 is a valid answer on an empty store.
					if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
						successCount.Add(1)
					} else {
						errorCount.Add(1)
					}
					resp.Body.Close()
				}
			}
		}(i)
	}

	if *backfillDistricts != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBackfill(ctx, *baseURL, *apiKey, strings.Split(*backfillDistricts, ","), *backfillStart, *backfillEnd)
		}()
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

// runBackfill submits one backfill job and polls it to completion, exercising
// the write path while the readers hammer the query endpoints.
func runBackfill(ctx context.Context, baseURL, apiKey string, districts []string, startDate, endDate string) {
	client := &http.Client{Timeout: 10 * time.Second}

	body := map[string]any{
		"scope": map[string]any{
			"type":       "targeted",
			"districts":  districts,
			"start_date": startDate,
			"end_date":   endDate,
		},
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/backfill", bytes.NewReader(payload))
	if err != nil {
		log.Printf("Backfill request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("Backfill submit failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		log.Printf("Backfill rejected: HTTP %d", resp.StatusCode)
		return
	}

	var job struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		log.Printf("Backfill response decode failed: %v", err)
		return
	}
	log.Printf("Backfill job %s accepted", job.JobID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Backfill job %s still %s at test end", job.JobID, job.Status)
			return
		case <-ticker.C:
			status, err := pollJob(ctx, client, fmt.Sprintf("%s/api/backfill/%s", baseURL, job.JobID))
			if err != nil {
				log.Printf("Backfill poll failed: %v", err)
				continue
			}
			job.Status = status
			if terminalStatuses[status] {
				log.Printf("Backfill job %s finished with status %s", job.JobID, status)
				return
			}
		}
	}
}

func pollJob(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var job struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", err
	}
	return job.Status, nil
}
