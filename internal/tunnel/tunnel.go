// Package tunnel exposes the embedded web UI on a public URL through ngrok.
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Local ngrok agent API, available once the agent is up
	defaultAPIURL = "http://127.0.0.1:4040/api/tunnels"

	pollInterval = 500 * time.Millisecond
	pollTimeout  = 15 * time.Second
)

// Provider establishes a public URL for a local port
type Provider interface {
	Start(ctx context.Context, port string) (string, error)
	Stop()
}

// Ngrok runs the ngrok binary and reads the public URL from its local API
type Ngrok struct {
	binary string
	apiURL string
	cancel context.CancelFunc
}

// NewNgrok creates an ngrok provider using the given binary path
func NewNgrok(binary string) *Ngrok {
	if binary == "" {
		binary = "ngrok"
	}
	return &Ngrok{binary: binary, apiURL: defaultAPIURL}
}

// Start launches `ngrok http <port>` and polls the agent API until a public
// URL appears, preferring https.
func (n *Ngrok) Start(ctx context.Context, port string) (string, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	cmd := exec.CommandContext(procCtx, n.binary, "http", port)
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("failed to start ngrok: %w", err)
	}
	go func() {
		// Reap the process when the tunnel is stopped.
		_ = cmd.Wait()
	}()

	url, err := n.waitForURL(ctx)
	if err != nil {
		n.Stop()
		return "", err
	}

	log.Infof("ngrok tunnel established: %s", url)
	return url, nil
}

// Stop tears the tunnel down
func (n *Ngrok) Stop() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

func (n *Ngrok) waitForURL(ctx context.Context) (string, error) {
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		if url := fetchPublicURL(ctx, n.apiURL); url != "" {
			return url, nil
		}
	}
	return "", fmt.Errorf("timed out waiting for ngrok tunnel URL")
}

// fetchPublicURL queries the agent API once. It returns "" while the agent
// is not up yet or has no tunnel.
func fetchPublicURL(ctx context.Context, apiURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var payload struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
		} `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}

	var fallback string
	for _, t := range payload.Tunnels {
		if t.PublicURL == "" {
			continue
		}
		if t.Proto == "https" || strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL
		}
		if fallback == "" {
			fallback = t.PublicURL
		}
	}
	return fallback
}

// Disabled returns a Provider that reports tunneling as switched off
func Disabled() Provider {
	return disabledProvider{}
}

type disabledProvider struct{}

func (disabledProvider) Start(context.Context, string) (string, error) {
	return "", fmt.Errorf("tunneling is disabled, enable [tunnel] in config.toml")
}

func (disabledProvider) Stop() {}
