package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8081", "API base URL")
	sources := flag.String("sources", "", "Comma-separated source IDs (default: all)")
	category := flag.String("category", "", "Only sources in this category")
	flag.Parse()

	body := map[string]any{"category": *category}
	if *sources != "" {
		body["source_ids"] = strings.Split(*sources, ",")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("Error encoding request: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(*server, "/")+"/api/v1/discover", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, out)
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
