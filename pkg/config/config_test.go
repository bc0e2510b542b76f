package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RPC.ListenAddr != ":8899" {
		t.Fatalf("unexpected rpc listen addr: %s", cfg.RPC.ListenAddr)
	}
	if cfg.Engine.ServiceCap != 5 {
		t.Fatalf("unexpected service cap: %d", cfg.Engine.ServiceCap)
	}
	if !cfg.Engine.AdvanceOnEmptyLeaders {
		t.Fatal("expected advance_on_empty_leaders default true")
	}
	if cfg.Engine.RemoveOnConfirmation {
		t.Fatal("expected remove_on_confirmation default false")
	}
}

func TestLoadOverlayFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	dir := t.TempDir()
	data := []byte("rpc:\n  listen_addr: \":9000\"\nleaders:\n  mode: dynamic\n")
	if err := os.WriteFile(filepath.Join(dir, "staging.yaml"), data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RPC.ListenAddr != ":9000" {
		t.Fatalf("expected overlay rpc listen addr, got %s", cfg.RPC.ListenAddr)
	}
	if cfg.Leaders.Mode != "dynamic" {
		t.Fatalf("expected overlay leaders mode, got %s", cfg.Leaders.Mode)
	}
}

func TestLoadFromEnvReadsTXSenderEnv(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	t.Setenv("TXSENDER_ENV", "")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging level: %s", cfg.Logging.Level)
	}
}
