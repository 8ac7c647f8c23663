// Package main provides a minimal container probe for the compat server.
// It GETs a URL (default http://localhost:8080/readyz) and exits 0 on a 2xx
// response, 1 otherwise. When the body carries a readiness report, the
// failing components are printed to stderr.
//
// Usage: healthcheck [--timeout 5s] [url]
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

const defaultURL = "http://localhost:8080/readyz"

// readiness mirrors the /readyz body.
type readiness struct {
	Status     string                       `json:"status"`
	Components map[string]map[string]string `json:"components"`
}

func main() {
	timeout := pflag.Duration("timeout", 5*time.Second, "Request timeout")
	pflag.Parse()

	url := defaultURL
	if pflag.NArg() > 0 {
		url = pflag.Arg(0)
	} else if env := os.Getenv("COMPAT_HEALTHCHECK_URL"); env != "" {
		url = env
	}

	os.Exit(probe(&http.Client{Timeout: *timeout}, url, os.Stderr))
}

func probe(client *http.Client, url string, stderr io.Writer) int {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0
	}

	fmt.Fprintf(stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	var r readiness
	if err := json.NewDecoder(resp.Body).Decode(&r); err == nil {
		for name, c := range r.Components {
			if c["error"] != "" {
				fmt.Fprintf(stderr, "  %s: %s (%s)\n", name, c["status"], c["error"])
			}
		}
	}
	return 1
}
