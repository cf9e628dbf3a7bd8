// Command healthcheck checks the studiopanel health endpoint and exits 0 when
// the server answers "ok". It is the HEALTHCHECK of scratch container images,
// which have no shell or curl.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultAddr    = "127.0.0.1:8080"
	requestTimeout = 2 * time.Second
	healthPath     = "/api/v1/health"
)

func main() {
	if err := checkHealth(os.Getenv("STUDIOPANEL_LISTEN_ADDR")); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		os.Exit(1)
	}
}

func checkHealth(listenAddr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	url := "http://" + loopbackAddr(listenAddr) + healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("server reports status %q", body.Status)
	}
	return nil
}

// loopbackAddr maps the server's listen address to one the check can dial
// from inside the same container: a wildcard host becomes loopback.
func loopbackAddr(listenAddr string) string {
	if listenAddr == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return defaultAddr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
