// Load generator for testing Kestrel decisioning under synthetic traffic.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic card transactions, injecting anomalies
//      (bursts, duplicate amounts, oversized amounts) at a known rate
//   2. Sends each transaction to Kestrel for decisioning
//   3. Compares Kestrel's action with the injected anomaly labels
//   4. Calculates precision, recall, F1-score, and latency stats
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticTransaction is one generated transaction with its label.
type SyntheticTransaction struct {
	Request   TransactionRequest
	IsAnomaly bool
	Pattern   string // burst, duplicate, oversized, clean
}

// TransactionRequest is the Kestrel API request format.
type TransactionRequest struct {
	Amount    float64        `json:"amount"`
	Currency  string         `json:"currency"`
	CardBIN   string         `json:"cardBin"`
	SessionID string         `json:"sessionId"`
	PlayerID  string         `json:"playerId,omitempty"`
	Country   string         `json:"country"`
	IP        string         `json:"ip,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DecisionResponse is the subset of the Kestrel decision we score against.
type DecisionResponse struct {
	ID     string  `json:"id"`
	TxID   string  `json:"txId"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
	Action string  `json:"action"`
}

// Metrics tracks load test results.
type Metrics struct {
	TruePositives  int64 // anomaly held (review/block/flag)
	FalsePositives int64 // clean held
	TrueNegatives  int64 // clean approved
	FalseNegatives int64 // anomaly approved

	TotalProcessed int64
	TotalAnomalies int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "loadgen", "Tenant ID for requests")
	count := flag.Int("count", 10000, "Number of transactions to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	anomalyRate := flag.Float64("anomaly", 0.05, "Fraction of anomalous transactions (0.0-1.0)")
	players := flag.Int("players", 200, "Number of distinct players")
	seed := flag.Int64("seed", 42, "Random seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL LOADGEN - Synthetic Decisioning            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Count:        %d\n", *count)
	fmt.Printf("Anomaly Rate: %.2f\n", *anomalyRate)
	fmt.Printf("Players:      %d\n", *players)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nGenerating %d synthetic transactions...\n", *count)
	transactions := generate(*count, *players, *anomalyRate, *seed)

	anomalies := 0
	for _, tx := range transactions {
		if tx.IsAnomaly {
			anomalies++
		}
	}
	fmt.Printf("✓ Generated %d transactions (%d anomalous)\n", len(transactions), anomalies)

	fmt.Printf("\nRunning load test with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := run(transactions, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

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

var countries = []string{"US", "US", "US", "CA", "GB", "DE", "BR"}

// generate builds the synthetic workload. Anomalous transactions follow
// one of three patterns the engine is expected to catch: velocity bursts
// on one player, repeated identical amounts, and amounts above the hard
// cap.
func generate(count, players int, anomalyRate float64, seed int64) []SyntheticTransaction {
	rng := rand.New(rand.NewSource(seed))
	out := make([]SyntheticTransaction, 0, count)

	for i := 0; i < count; i++ {
		playerID := fmt.Sprintf("player-%04d", rng.Intn(players))
		base := TransactionRequest{
			Amount:    10 + rng.Float64()*490,
			Currency:  "USD",
			CardBIN:   fmt.Sprintf("4%05d", rng.Intn(100000)),
			SessionID: fmt.Sprintf("session-%s", playerID),
			PlayerID:  playerID,
			Country:   countries[rng.Intn(len(countries))],
			IP:        fmt.Sprintf("10.0.%d.%d", rng.Intn(256), rng.Intn(256)),
		}

		if rng.Float64() >= anomalyRate {
			out = append(out, SyntheticTransaction{Request: base, Pattern: "clean"})
			continue
		}

		switch rng.Intn(3) {
		case 0:
			// Burst: 15 rapid transactions from one player, enough to
			// trip the minute velocity limit.
			for j := 0; j < 15 && len(out) < count; j++ {
				tx := base
				tx.Amount = 10 + rng.Float64()*90
				out = append(out, SyntheticTransaction{Request: tx, IsAnomaly: true, Pattern: "burst"})
			}
		case 1:
			// Duplicate: same amount twice in quick succession.
			tx := base
			tx.Amount = float64(100 * (1 + rng.Intn(9)))
			out = append(out, SyntheticTransaction{Request: tx, IsAnomaly: true, Pattern: "duplicate"})
			if len(out) < count {
				out = append(out, SyntheticTransaction{Request: tx, IsAnomaly: true, Pattern: "duplicate"})
			}
		default:
			// Oversized: amount above the hard cap.
			tx := base
			tx.Amount = 100001 + rng.Float64()*400000
			out = append(out, SyntheticTransaction{Request: tx, IsAnomaly: true, Pattern: "oversized"})
		}
	}

	return out
}

func run(transactions []SyntheticTransaction, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan SyntheticTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := submit(client, baseURL, tenantID, tx.Request)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.Request.PlayerID, err)
					}
					continue
				}

				if tx.IsAnomaly {
					atomic.AddInt64(&metrics.TotalAnomalies, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// A held transaction means the engine flagged it in
				// some way (flag keeps the approved status but is
				// counted as caught via the score threshold).
				predicted := result.Action != "approve" && result.Action != "log"
				actual := tx.IsAnomaly

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Pattern: %-9s | Amount: $%10.2f | Kestrel: %-7s (%.2f)\n",
						status,
						tx.Request.PlayerID,
						tx.Pattern,
						tx.Request.Amount,
						result.Action,
						result.Score,
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func submit(client *http.Client, baseURL, tenantID string, req TransactionRequest) (*DecisionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transactions", bytes.NewReader(body))
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

	var result DecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      LOAD TEST RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 WORKLOAD STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Anomalies:  %d\n", m.TotalAnomalies)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HELD        PASSED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of held transactions, how many were anomalous)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of anomalies, how many were held)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
