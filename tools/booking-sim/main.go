package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// booking-sim races many guests for the same slot and prints how the
// service answered. With capacity N exactly N reservations should succeed.
func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		business = flag.String("business-id", getenv("BUSINESS_ID", ""), "business id")
		service  = flag.String("service-id", getenv("SERVICE_ID", ""), "service id")
		start    = flag.String("start", getenv("SLOT_START", ""), "slot start, RFC 3339")
		minutes  = flag.Int("duration", 30, "slot length in minutes")
		guests   = flag.Int("guests", 20, "concurrent reservation attempts")
		commit   = flag.Bool("commit", false, "commit every successful reservation")
	)
	flag.Parse()

	if strings.TrimSpace(*business) == "" || strings.TrimSpace(*service) == "" {
		fatal("BUSINESS_ID and SERVICE_ID are required")
	}
	slotStart, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		fatal("SLOT_START must be an RFC 3339 timestamp")
	}
	slotEnd := slotStart.Add(time.Duration(*minutes) * time.Minute)
	base := strings.TrimRight(*baseURL, "/")
	client := &http.Client{Timeout: 10 * time.Second}

	var (
		mu       sync.Mutex
		statuses = map[string]int{}
		held     []string
		wg       sync.WaitGroup
	)
	for i := 0; i < *guests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]any{
				"business_id": *business,
				"service_id":  *service,
				"slot_start":  slotStart,
				"slot_end":    slotEnd,
			})
			var out struct {
				ID string `json:"id"`
			}
			code, err := post(client, base+"/api/v1/public/reservations", body, uuid.NewString(), &out)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses["error"]++
				return
			}
			statuses[fmt.Sprintf("reserve %d", code)]++
			if code == http.StatusCreated {
				held = append(held, out.ID)
			}
		}()
	}
	wg.Wait()

	if *commit {
		for i, id := range held {
			body, _ := json.Marshal(map[string]any{
				"customer_name":  fmt.Sprintf("guest %d", i+1),
				"customer_email": fmt.Sprintf("guest%d@example.com", i+1),
			})
			code, err := post(client, base+"/api/v1/public/reservations/"+id+"/commit", body, "", nil)
			if err != nil {
				statuses["error"]++
				continue
			}
			statuses[fmt.Sprintf("commit %d", code)]++
		}
	}

	keys := make([]string, 0, len(statuses))
	for k := range statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s=%d\n", k, statuses[k])
	}
}

func post(client *http.Client, url string, body []byte, idempotencyKey string, out any) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
