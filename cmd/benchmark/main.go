package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/merchantops/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL string
	racers    int
	txCount   int
	accountID int64
	amount    int64
	cancel    bool
	login     string
	key       string
)

// Metrics, keyed by "method:code"
var (
	mu       sync.Mutex
	outcomes = map[string]uint64{}
	failures uint64
	requests uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "Server base URL")
	flag.IntVar(&racers, "racers", 8, "Concurrent callers per transaction id")
	flag.IntVar(&txCount, "transactions", 200, "Distinct transaction ids to drive")
	flag.Int64Var(&accountID, "account", 1, "Owner account id")
	flag.Int64Var(&amount, "amount", 5000, "Amount per transaction in minor units")
	flag.BoolVar(&cancel, "cancel", false, "Cancel every transaction after performing it")
	flag.StringVar(&login, "login", "Paycom", "Basic auth login")
	flag.StringVar(&key, "key", "", "Basic auth key (empty disables auth)")
}

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 5 * time.Second}

	before, err := balance(client)
	if err != nil {
		log.Fatalf("Unable to read starting balance: %v", err)
	}
	log.Printf("Starting benchmark: %d transactions x %d racers, account %d", txCount, racers, accountID)

	run := time.Now().UnixNano()
	start := time.Now()
	for i := 0; i < txCount; i++ {
		id := fmt.Sprintf("bench-%d-%d", run, i)
		var wg sync.WaitGroup
		wg.Add(racers)
		for r := 0; r < racers; r++ {
			go func() {
				defer wg.Done()
				drive(client, id)
			}()
		}
		wg.Wait()
	}
	elapsed := time.Since(start)

	after, err := balance(client)
	if err != nil {
		log.Fatalf("Unable to read final balance: %v", err)
	}

	expected := int64(txCount) * amount
	if cancel {
		expected = 0
	}
	printResults(elapsed, after-before, expected)
}

// drive plays the provider's happy path for one id.
func drive(client *http.Client, id string) {
	now := time.Now().UnixMilli()
	call(client, "CreateTransaction", map[string]interface{}{
		"id":      id,
		"time":    now,
		"amount":  amount,
		"account": map[string]interface{}{"id": accountID},
	})
	call(client, "PerformTransaction", map[string]interface{}{"id": id})
	if cancel {
		call(client, "CancelTransaction", map[string]interface{}{"id": id, "reason": 5})
	}
}

func call(client *http.Client, method string, params map[string]interface{}) {
	rawParams, _ := json.Marshal(params)
	body, _ := json.Marshal(models.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", atomic.AddUint64(&requests, 1))),
		Method:  method,
		Params:  rawParams,
	})

	req, _ := http.NewRequest("POST", targetURL+"/payme", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.SetBasicAuth(login, key)
	}

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failures, 1)
		return
	}
	defer resp.Body.Close()

	var out struct {
		Error *models.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		atomic.AddUint64(&failures, 1)
		return
	}
	code := 0
	if out.Error != nil {
		code = out.Error.Code
	}
	mu.Lock()
	outcomes[fmt.Sprintf("%s:%d", method, code)]++
	mu.Unlock()
}

func balance(client *http.Client) (int64, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/v1/accounts/%d", targetURL, accountID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var acc struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func printResults(d time.Duration, delta, expected int64) {
	mu.Lock()
	defer mu.Unlock()

	total := atomic.LoadUint64(&requests)
	results := map[string]interface{}{
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_rps": float64(total) / d.Seconds(),
		"outcomes":       outcomes,
		"errors":         atomic.LoadUint64(&failures),
		"balance_delta":  delta,
		"expected_delta": expected,
		"consistent":     delta == expected,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	if delta != expected {
		os.Exit(1)
	}
}
