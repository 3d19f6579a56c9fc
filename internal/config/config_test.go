package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Listener.URL != "http://host.docker.internal:9999/notify" {
		t.Errorf("Listener.URL = %q", cfg.Listener.URL)
	}
	if cfg.Listener.ConnectTimeout != 2*time.Second || cfg.Listener.ReadTimeout != 5*time.Second {
		t.Errorf("listener timeouts = %v/%v, want 2s/5s", cfg.Listener.ConnectTimeout, cfg.Listener.ReadTimeout)
	}
	if cfg.Transcribe.Model != "whisper-large-v3" || cfg.Transcribe.Language != "en" {
		t.Errorf("transcribe = %+v", cfg.Transcribe)
	}
	if cfg.Jobs.Workers != 2 || cfg.Jobs.MaxAttempts != 3 || cfg.Jobs.Backoff != 2*time.Second {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
	if len(cfg.InternalCIDRs) != 3 {
		t.Errorf("InternalCIDRs = %v, want 3 entries", cfg.InternalCIDRs)
	}
	if len(cfg.TrustedProxies) != 3 {
		t.Errorf("TrustedProxies = %v, want 3 entries", cfg.TrustedProxies)
	}
	if cfg.Push.Enabled() {
		t.Error("expected push disabled without keys")
	}
	if cfg.Storage.UseS3() {
		t.Error("expected local storage by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DEBRIEF_PORT":              "9000",
		"DEBRIEF_LISTENER_URL":      "http://127.0.0.1:7777/hook",
		"DEBRIEF_GROQ_API_KEY":      "gsk_test",
		"DEBRIEF_JOB_WORKERS":       "4",
		"DEBRIEF_INTERNAL_CIDRS":    "10.0.0.0/8",
		"DEBRIEF_TRUSTED_PROXIES":   "172.20.0.0/16",
		"DEBRIEF_S3_BUCKET":         "debriefs",
		"DEBRIEF_VAPID_PUBLIC_KEY":  "pub",
		"DEBRIEF_VAPID_PRIVATE_KEY": "priv",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr())
	}
	if cfg.Listener.URL != "http://127.0.0.1:7777/hook" {
		t.Errorf("Listener.URL = %q", cfg.Listener.URL)
	}
	if cfg.Transcribe.APIKey != "gsk_test" {
		t.Errorf("APIKey = %q", cfg.Transcribe.APIKey)
	}
	if cfg.Jobs.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Jobs.Workers)
	}
	if !cfg.Storage.UseS3() {
		t.Error("expected S3 storage when bucket set")
	}
	if !cfg.Push.Enabled() {
		t.Error("expected push enabled with both keys")
	}
	nets, err := cfg.Networks()
	if err != nil {
		t.Fatalf("networks: %v", err)
	}
	if len(nets) != 1 || nets[0].String() != "10.0.0.0/8" {
		t.Errorf("networks = %v", nets)
	}
	proxies, err := cfg.ProxyNetworks()
	if err != nil {
		t.Fatalf("proxy networks: %v", err)
	}
	if len(proxies) != 1 || proxies[0].String() != "172.20.0.0/16" {
		t.Errorf("proxies = %v", proxies)
	}
}

func TestValidateErrors(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"DEBRIEF_LISTENER_URL":     "not a url",
		"DEBRIEF_JOB_WORKERS":      "0",
		"DEBRIEF_INTERNAL_CIDRS":   "bogus",
		"DEBRIEF_TRUSTED_PROXIES":  "also-bogus",
		"DEBRIEF_LOG_FORMAT":       "xml",
		"DEBRIEF_VAPID_PUBLIC_KEY": "only-public",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"LISTENER_URL", "JOB_WORKERS", "INTERNAL_CIDRS", "TRUSTED_PROXIES", "LOG_FORMAT", "VAPID"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateShortSecret(t *testing.T) {
	_, err := LoadFrom(map[string]string{"DEBRIEF_SESSION_SECRET": "short"})
	if err == nil {
		t.Error("expected error for short session secret")
	}
}
