package aptos

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewRegistryBuiltins(t *testing.T) {
	registry, err := NewRegistry(RegistryConfig{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.DefaultNetwork() != "testnet" {
		t.Fatalf("unexpected default network %s", registry.DefaultNetwork())
	}
	if got := registry.Default().BaseURL(); got != "https://api.testnet.aptoslabs.com/v1" {
		t.Fatalf("unexpected default base url %s", got)
	}
	if !reflect.DeepEqual(registry.Networks(), []string{"devnet", "mainnet", "testnet"}) {
		t.Fatalf("unexpected networks %v", registry.Networks())
	}
	if client, ok := registry.Client("MAINNET"); !ok || client.Network() != "mainnet" {
		t.Fatalf("expected case-insensitive lookup")
	}
}

func TestNewRegistryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	content := []byte(`networks:
  local:
    base_url: http://127.0.0.1:8080/v1
    description: localnet
  testnet:
    base_url: https://api.testnet.aptoslabs.com/v1
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	registry, err := NewRegistry(RegistryConfig{NetworkConfig: path, DefaultNetwork: "local"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.Default().BaseURL() != "http://127.0.0.1:8080/v1" {
		t.Fatalf("unexpected base url %s", registry.Default().BaseURL())
	}
	if _, ok := registry.Client("mainnet"); ok {
		t.Fatal("mainnet should not be registered")
	}
}

func TestNewRegistryOverrideAndMissingDefault(t *testing.T) {
	registry, err := NewRegistry(RegistryConfig{BaseURL: "http://localhost:9000/v1"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.Default().BaseURL() != "http://localhost:9000/v1" {
		t.Fatalf("override not applied: %s", registry.Default().BaseURL())
	}

	if _, err := NewRegistry(RegistryConfig{DefaultNetwork: "nowhere"}); err == nil {
		t.Fatal("expected error for unknown default network")
	}
}
