package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type compatClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *compatClient {
	return &compatClient{
		baseURL: serverURL,
		http: &http.Client{
			// Full audits can take a while on a large catalog.
			Timeout: 60 * time.Second,
		},
	}
}

// apiError is the error body the server writes on non-2xx responses.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// getJSON performs a GET request and decodes the response.
func (c *compatClient) getJSON(path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.http.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Kind != "" {
			msg := fmt.Sprintf("server returned %d (%s): %s", resp.StatusCode, apiErr.Kind, apiErr.Error)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				msg += fmt.Sprintf(" (retry after %ss)", ra)
			}
			return errors.New(msg)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
