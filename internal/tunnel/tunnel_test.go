package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAgentFake(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPublicURL_PrefersHTTPS(t *testing.T) {
	srv := newAgentFake(t, `{"tunnels":[
		{"public_url":"http://abc.ngrok.io","proto":"http"},
		{"public_url":"https://abc.ngrok.io","proto":"https"}
	]}`)

	url := fetchPublicURL(context.Background(), srv.URL)
	if url != "https://abc.ngrok.io" {
		t.Errorf("url = %q, want the https tunnel", url)
	}
}

func TestFetchPublicURL_FallsBackToHTTP(t *testing.T) {
	srv := newAgentFake(t, `{"tunnels":[{"public_url":"http://abc.ngrok.io","proto":"http"}]}`)

	url := fetchPublicURL(context.Background(), srv.URL)
	if url != "http://abc.ngrok.io" {
		t.Errorf("url = %q, want the http tunnel", url)
	}
}

func TestFetchPublicURL_NoTunnels(t *testing.T) {
	srv := newAgentFake(t, `{"tunnels":[]}`)

	if url := fetchPublicURL(context.Background(), srv.URL); url != "" {
		t.Errorf("url = %q, want empty while no tunnel exists", url)
	}
}

func TestFetchPublicURL_AgentDown(t *testing.T) {
	if url := fetchPublicURL(context.Background(), "http://127.0.0.1:1/api/tunnels"); url != "" {
		t.Errorf("url = %q, want empty when the agent is unreachable", url)
	}
}

func TestWaitForURL_PicksUpLateTunnel(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			_, _ = w.Write([]byte(`{"tunnels":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"tunnels":[{"public_url":"https://late.ngrok.io","proto":"https"}]}`))
	}))
	defer srv.Close()

	n := &Ngrok{binary: "ngrok", apiURL: srv.URL}
	url, err := n.waitForURL(context.Background())
	if err != nil {
		t.Fatalf("waitForURL failed: %v", err)
	}
	if url != "https://late.ngrok.io" {
		t.Errorf("url = %q", url)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	n := NewNgrok("/nonexistent/ngrok-binary")
	if _, err := n.Start(context.Background(), "8899"); err == nil {
		t.Error("Start should fail when the ngrok binary is missing")
	}
}

func TestDisabledProvider(t *testing.T) {
	p := Disabled()
	_, err := p.Start(context.Background(), "8899")
	if err == nil {
		t.Fatal("disabled provider must reject Start")
	}
	if !strings.Contains(err.Error(), "disabled") {
		t.Errorf("err = %v, should mention the feature is disabled", err)
	}
	p.Stop()
}
