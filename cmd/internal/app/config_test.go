package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("COURIER_HTTP_ADDR", "")
	t.Setenv("COURIER_WS_ORIGIN_REQUIRED", "")
	t.Setenv("COURIER_WS_ALLOWED_ORIGINS", "")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:4000" {
		t.Fatalf("HTTPAddr=%q want default port 4000", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults=%q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if !cfg.WSOriginRequired {
		t.Fatalf("origin must be required by default")
	}
	if len(cfg.WSAllowedOrigins) != 2 {
		t.Fatalf("default allowed origins=%v want localhost pair", cfg.WSAllowedOrigins)
	}
	if cfg.WSRateEvents != 120 || cfg.WSRateWindow != 10*time.Second {
		t.Fatalf("rate defaults=%d/%v", cfg.WSRateEvents, cfg.WSRateWindow)
	}
}

func TestLoadConfigHonorsBarePort(t *testing.T) {
	t.Setenv("COURIER_HTTP_ADDR", "")
	t.Setenv("PORT", "8081")

	if got := LoadConfig().HTTPAddr; got != "0.0.0.0:8081" {
		t.Fatalf("HTTPAddr=%q want PORT-derived 0.0.0.0:8081", got)
	}
}

func TestLoadConfigExplicitAddrWinsOverPort(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("COURIER_HTTP_ADDR", "127.0.0.1:9000")

	if got := LoadConfig().HTTPAddr; got != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr=%q want explicit address", got)
	}
}
