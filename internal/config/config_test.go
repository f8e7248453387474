package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.IdleTimeout)
	}
	if cfg.MaxBodyLength != 4000 {
		t.Fatalf("unexpected max body length: %d", cfg.MaxBodyLength)
	}
}

func TestAddrAcceptsFullForm(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
}

func TestWidgetOverrides(t *testing.T) {
	t.Setenv("WIDGET_PRIMARY_COLOR", "#ff0000")
	t.Setenv("WIDGET_POSITION", "bottom-left")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Widget.PrimaryColor != "#ff0000" {
		t.Fatalf("unexpected widget color: %s", cfg.Widget.PrimaryColor)
	}
	if cfg.Widget.Position != "bottom-left" {
		t.Fatalf("unexpected widget position: %s", cfg.Widget.Position)
	}
}
