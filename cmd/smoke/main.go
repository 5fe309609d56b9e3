// Command smoke drives a running geargraph server through one unit and the
// review queue. It exits non-zero on the first failed step.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var baseURL = "http://localhost:8080"

func main() {
	if v := os.Getenv("GEARGRAPH_URL"); v != "" {
		baseURL = v
	}
	client := &http.Client{Timeout: 15 * time.Second}

	fmt.Println("Starting smoke test against", baseURL)
	ref := fmt.Sprintf("smoke-%d", time.Now().Unix())

	fmt.Println("1. Health...")
	if _, ok := sendRequest(client, http.MethodGet, "/healthz", nil, http.StatusOK); !ok {
		fail("health")
	}

	fmt.Println("2. Enqueue unit...")
	unit := map[string]any{
		"source_ref":  ref,
		"source_kind": "smoke",
		"candidates": []map[string]any{
			{"name": "Exos 58", "brand": "Osprey", "category": "backpack", "fields": map[string]any{"weight": "1.2 kg"}},
			{"name": "Exos 48", "brand": "Osprey", "category": "backpack", "fields": map[string]any{"weight": "1.1 kg"}},
			{"name": "Exso 58", "brand": "Osprey", "category": "backpack"},
		},
	}
	body, ok := sendRequest(client, http.MethodPost, "/units", unit, http.StatusAccepted)
	if !ok {
		fail("enqueue")
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		fail("enqueue response")
	}

	fmt.Println("3. Poll unit", created.ID, "...")
	deadline := time.Now().Add(time.Minute)
	for {
		body, ok := sendRequest(client, http.MethodGet, "/units/"+created.ID, nil, http.StatusOK)
		if !ok {
			fail("poll")
		}
		var snap struct {
			State  string         `json:"state"`
			Error  string         `json:"error"`
			Counts map[string]int `json:"counts"`
		}
		if err := json.Unmarshal(body, &snap); err != nil {
			fail("poll response")
		}
		if snap.State == "completed" {
			fmt.Printf("PASSED: unit completed %v\n", snap.Counts)
			break
		}
		if snap.State == "failed" || snap.State == "cancelled" {
			fmt.Printf("unit ended %s: %s\n", snap.State, snap.Error)
			fail("unit")
		}
		if time.Now().After(deadline) {
			fail("unit timeout")
		}
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("4. Pending reviews...")
	if _, ok := sendRequest(client, http.MethodGet, "/reviews?status=pending", nil, http.StatusOK); !ok {
		fail("reviews")
	}
	fmt.Println("PASSED: smoke test")
}

func fail(step string) {
	fmt.Println("FAILED:", step)
	os.Exit(1)
}

func sendRequest(client *http.Client, method, endpoint string, payload any, want int) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("Error encoding request: %v\n", err)
			return nil, false
		}
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	fmt.Printf("Response: %s\n", string(respBody))
	return respBody, true
}
