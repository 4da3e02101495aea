package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"testing"
	"time"

	logx "campaignd/pkg/logx"
)

func get(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// Not parallel: profiling rates are process-wide.
func TestServerApplyEnableDisable(t *testing.T) {
	srv := New(logx.Nop(), func() any { return map[string]string{"state": "sleeping"} })
	t.Cleanup(func() { srv.Stop(context.Background()) })
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	cfg := Config{Enabled: true, Address: "127.0.0.1:0", BlockProfileRate: 1, MutexProfileFraction: 7}
	srv.Apply(cfg)
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected the listener to expose its address")
	}

	resp := get(t, "http://"+addr+"/debug/pprof/", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index status = %d", resp.StatusCode)
	}

	resp = get(t, "http://"+addr+"/healthz", "")
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	_ = resp.Body.Close()
	if health["state"] != "sleeping" {
		t.Fatalf("health = %v", health)
	}

	if got := runtime.SetMutexProfileFraction(-1); got != cfg.MutexProfileFraction {
		t.Fatalf("mutex profile fraction = %d, want %d", got, cfg.MutexProfileFraction)
	}

	// Re-applying the same config keeps the listener.
	srv.Apply(cfg)
	if srv.Addr() != addr {
		t.Fatalf("listener rebound from %s to %s", addr, srv.Addr())
	}

	srv.Apply(Config{Enabled: false})
	if a := srv.Addr(); a != "" {
		t.Fatalf("expected the listener to stop, still at %s", a)
	}
}

func TestServerRequiresToken(t *testing.T) {
	t.Parallel()
	srv := New(logx.Nop(), nil)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	srv.Apply(Config{Enabled: true, Address: "127.0.0.1:0", Token: "s3cret", MutexProfileFraction: runtime.SetMutexProfileFraction(-1)})
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("listener did not start")
	}

	for _, tc := range []struct {
		url, bearer string
		want        int
	}{
		{"http://" + addr + "/healthz", "", http.StatusUnauthorized},
		{"http://" + addr + "/healthz", "wrong", http.StatusUnauthorized},
		{"http://" + addr + "/healthz?token=nope", "", http.StatusUnauthorized},
		{"http://" + addr + "/healthz", "s3cret", http.StatusOK},
		{"http://" + addr + "/healthz?token=s3cret", "", http.StatusOK},
	} {
		resp := get(t, tc.url, tc.bearer)
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s (bearer %q): status %d, want %d", tc.url, tc.bearer, resp.StatusCode, tc.want)
		}
	}
}

func TestServerRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	srv := New(logx.Nop(), nil)
	srv.Apply(Config{Enabled: true, Address: "0.0.0.0:0", MutexProfileFraction: runtime.SetMutexProfileFraction(-1)})
	if a := srv.Addr(); a != "" {
		srv.Stop(context.Background())
		t.Fatalf("public bind without token should be refused, got %s", a)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"[::1]:6060":     true,
		"localhost:6060": true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
