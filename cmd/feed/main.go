// Command feed is a standalone load generator for a running exchange: it
// registers agents over the REST API and fires random orders at a fixed rate.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	addr      = flag.String("addr", "http://localhost:8080", "exchange base URL")
	agents    = flag.Int("agents", 4, "number of agents to register")
	rate      = flag.Int("rate", 20, "orders per second across all agents")
	duration  = flag.Duration("duration", 30*time.Second, "how long to run")
	companies = flag.String("companies", "Acme,Globex", "comma-separated companies")
)

type registerResponse struct {
	AgentID string `json:"agent_id"`
}

type orderRequest struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Company string `json:"company"`
	Shares  int64  `json:"shares"`
	Price   string `json:"price"`
}

func main() {
	flag.Parse()
	names := strings.Split(*companies, ",")
	client := &http.Client{Timeout: 5 * time.Second}

	ids := make([]string, 0, *agents)
	for i := 0; i < *agents; i++ {
		id, err := register(client)
		if err != nil {
			log.Fatalf("register agent: %v", err)
		}
		ids = append(ids, id)
	}
	log.Printf("[feed] registered %d agents, firing %d orders/sec for %v", len(ids), *rate, *duration)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	deadline := time.After(*duration)

	sent, failed := 0, 0
	for {
		select {
		case <-deadline:
			log.Printf("[feed] done: %d sent, %d failed", sent, failed)
			return
		case <-ticker.C:
			if err := placeOrder(client, ids, names); err != nil {
				failed++
				log.Printf("[feed] order failed: %v", err)
			} else {
				sent++
			}
		}
	}
}

func register(client *http.Client) (string, error) {
	resp, err := client.Post(*addr+"/api/v1/agents", "application/json", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AgentID, nil
}

func placeOrder(client *http.Client, ids, names []string) error {
	kind := "offer"
	if rand.Intn(2) == 1 {
		kind = "demand"
	}
	req := orderRequest{
		AgentID: ids[rand.Intn(len(ids))],
		Kind:    kind,
		Company: names[rand.Intn(len(names))],
		Shares:  int64(1 + rand.Intn(100)),
		Price:   fmt.Sprintf("%d", 10+rand.Intn(40)),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := client.Post(*addr+"/api/v1/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
