// Benchmark tool for load-testing Merlin with fleet vehicle data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/fleet.csv -url http://localhost:8080
//
// This tool:
//   1. Reads fleet vehicle data (make, model, registration, engine, power)
//   2. Requests a quote from Merlin for each vehicle
//   3. Tracks quoted vs rejected outcomes and premium distribution
//   4. Reports latency and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FleetVehicle represents a row from the fleet dataset.
type FleetVehicle struct {
	Make                  string
	Model                 string
	YearOfManufacture     int
	FirstRegistrationDate string
	EngineCapacity        int
	Power                 int
	InsuranceType         string
}

// QuoteRequest is the Merlin API request format.
type QuoteRequest struct {
	InsuranceType string      `json:"insuranceType"`
	Vehicle       VehicleInfo `json:"vehicle"`
	PolicyDate    string      `json:"policyDate,omitempty"`
}

type VehicleInfo struct {
	Make                  string `json:"make"`
	Model                 string `json:"model"`
	YearOfManufacture     int    `json:"yearOfManufacture"`
	FirstRegistrationDate string `json:"firstRegistrationDate"`
	EngineCapacity        int    `json:"engineCapacity"`
	Power                 int    `json:"power"`
}

// QuoteResponse is the Merlin API response format.
type QuoteResponse struct {
	QuoteID   string `json:"quoteId"`
	Status    string `json:"status"` // "QUOTED" or "REJECTED"
	Breakdown *struct {
		BasePremium  float64 `json:"basePremium"`
		FinalPremium float64 `json:"finalPremium"`
	} `json:"breakdown"`
	Warnings []string `json:"warnings"`
	Reasons  []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Quoted        int64
	Rejected      int64
	WithWarnings  int64
	TotalRequests int64
	TotalErrors   int64

	ProcessingTimeMs int64

	mu         sync.Mutex
	premiumSum float64
	premiumMin float64
	premiumMax float64
}

func (m *Metrics) recordPremium(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.premiumMin == 0 || p < m.premiumMin {
		m.premiumMin = p
	}
	if p > m.premiumMax {
		m.premiumMax = p
	}
	m.premiumSum += p
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to fleet CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Merlin base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum vehicles to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	insuranceType := flag.String("type", "", "Override insurance type for all rows (OC, AC, NNW)")
	policyDate := flag.String("date", "", "Policy date (YYYY-MM-DD, default today)")
	verbose := flag.Bool("verbose", false, "Print each quote result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/fleet.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            MERLIN BENCHMARK - Fleet Quote Replay               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Merlin URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	if *insuranceType != "" {
		fmt.Printf("Type:        %s (override)\n", *insuranceType)
	}
	fmt.Println()

	// Check Merlin is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Merlin not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Merlin is running:")
		fmt.Println("  go run cmd/merlin/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Merlin is healthy")

	// Read fleet data
	fmt.Printf("\nReading fleet data from %s...\n", *csvPath)
	vehicles, err := readFleetCSV(*csvPath, *limit, *insuranceType)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d vehicles\n", len(vehicles))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(vehicles, *baseURL, *tenantID, *policyDate, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readFleetCSV expects columns make, model, year_of_manufacture,
// first_registration_date, engine_capacity, power and optionally
// insurance_type (defaults to OC).
func readFleetCSV(path string, limit int, typeOverride string) ([]FleetVehicle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var vehicles []FleetVehicle

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		year, _ := strconv.Atoi(record[colIndex["year_of_manufacture"]])
		capacity, _ := strconv.Atoi(record[colIndex["engine_capacity"]])
		power, _ := strconv.Atoi(record[colIndex["power"]])

		v := FleetVehicle{
			Make:                  record[colIndex["make"]],
			Model:                 record[colIndex["model"]],
			YearOfManufacture:     year,
			FirstRegistrationDate: record[colIndex["first_registration_date"]],
			EngineCapacity:        capacity,
			Power:                 power,
			InsuranceType:         "OC",
		}
		if idx, ok := colIndex["insurance_type"]; ok && record[idx] != "" {
			v.InsuranceType = strings.ToUpper(record[idx])
		}
		if typeOverride != "" {
			v.InsuranceType = strings.ToUpper(typeOverride)
		}

		vehicles = append(vehicles, v)

		if limit > 0 && len(vehicles) >= limit {
			break
		}
	}

	return vehicles, nil
}

func runBenchmark(vehicles []FleetVehicle, baseURL, tenantID, policyDate string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan FleetVehicle, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for v := range work {
				start := time.Now()
				result, err := requestQuote(client, baseURL, tenantID, policyDate, v)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalRequests, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s %s -> %v\n", v.Make, v.Model, err)
					}
					continue
				}

				switch result.Status {
				case "QUOTED":
					atomic.AddInt64(&metrics.Quoted, 1)
					if result.Breakdown != nil {
						metrics.recordPremium(result.Breakdown.FinalPremium)
					}
				case "REJECTED":
					atomic.AddInt64(&metrics.Rejected, 1)
				}
				if len(result.Warnings) > 0 {
					atomic.AddInt64(&metrics.WithWarnings, 1)
				}

				if verbose {
					premium := "-"
					if result.Breakdown != nil {
						premium = fmt.Sprintf("%.2f", result.Breakdown.FinalPremium)
					}
					fmt.Printf("%-4s | %-10s %-12s | %4dcc %3dhp | %-8s | Premium: %10s | Warnings: %d\n",
						v.InsuranceType,
						v.Make,
						v.Model,
						v.EngineCapacity,
						v.Power,
						result.Status,
						premium,
						len(result.Warnings),
					)
				}
			}
		}()
	}

	// Send work
	for _, v := range vehicles {
		work <- v
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func requestQuote(client *http.Client, baseURL, tenantID, policyDate string, v FleetVehicle) (*QuoteResponse, error) {
	req := QuoteRequest{
		InsuranceType: v.InsuranceType,
		Vehicle: VehicleInfo{
			Make:                  v.Make,
			Model:                 v.Model,
			YearOfManufacture:     v.YearOfManufacture,
			FirstRegistrationDate: v.FirstRegistrationDate,
			EngineCapacity:        v.EngineCapacity,
			Power:                 v.Power,
		},
		PolicyDate: policyDate,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result QuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 QUOTE OUTCOMES\n")
	fmt.Printf("   Total Requests:   %d\n", m.TotalRequests)
	fmt.Printf("   Quoted:           %d\n", m.Quoted)
	fmt.Printf("   Rejected:         %d\n", m.Rejected)
	fmt.Printf("   With Warnings:    %d\n", m.WithWarnings)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	if m.Quoted > 0 {
		fmt.Printf("\n💰 PREMIUM DISTRIBUTION\n")
		fmt.Printf("   Min Premium:      %.2f\n", m.premiumMin)
		fmt.Printf("   Avg Premium:      %.2f\n", m.premiumSum/float64(m.Quoted))
		fmt.Printf("   Max Premium:      %.2f\n", m.premiumMax)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalRequests > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalRequests)
		qps := float64(m.TotalRequests) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f quotes/sec\n", qps)
	}

	if m.Rejected > 0 && m.TotalRequests > 0 {
		fmt.Printf("\n🔍 REJECTION ANALYSIS\n")
		rejectRate := float64(m.Rejected) / float64(m.TotalRequests) * 100
		fmt.Printf("   Rejection Rate:   %.2f%%\n", rejectRate)
		if rejectRate > 50 {
			fmt.Println("   ⚠️  High rejection rate - check the rating table covers the fleet's buckets")
		}
	}

	fmt.Println()
}
