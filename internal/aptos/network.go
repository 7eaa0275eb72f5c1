package aptos

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes a single fullnode REST endpoint.
type NetworkDefinition struct {
	BaseURL     string `yaml:"base_url"`
	Description string `yaml:"description"`
}

// DefaultNetwork is used when the configuration names none.
const DefaultNetwork = "testnet"

// BuiltinNetworks returns the public Aptos Labs endpoints.
func BuiltinNetworks() map[string]NetworkDefinition {
	return map[string]NetworkDefinition{
		"mainnet": {BaseURL: "https://api.mainnet.aptoslabs.com/v1", Description: "Aptos mainnet"},
		"testnet": {BaseURL: "https://api.testnet.aptoslabs.com/v1", Description: "Aptos testnet"},
		"devnet":  {BaseURL: "https://api.devnet.aptoslabs.com/v1", Description: "Aptos devnet"},
	}
}

// LoadNetworkDefinitions parses the YAML file containing network endpoints.
// An empty path yields the built-in networks.
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: BuiltinNetworks()}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("read network definitions: %w", err)
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("parse network definitions: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	return defs, nil
}

// RegistryConfig selects which networks get a client.
type RegistryConfig struct {
	NetworkConfig  string
	DefaultNetwork string
	// BaseURL overrides the endpoint of the default network.
	BaseURL  string
	CoinType string
	Timeout  time.Duration
}

// Registry holds one client per configured network.
type Registry struct {
	defaultNetwork string
	clients        map[string]*Client
}

// NewRegistry loads network definitions and instantiates clients.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	defs, err := LoadNetworkDefinitions(cfg.NetworkConfig)
	if err != nil {
		return nil, err
	}

	defaultNetwork := strings.ToLower(strings.TrimSpace(cfg.DefaultNetwork))
	if defaultNetwork == "" {
		defaultNetwork = DefaultNetwork
	}
	if override := strings.TrimSpace(cfg.BaseURL); override != "" {
		def := defs.Networks[defaultNetwork]
		def.BaseURL = override
		defs.Networks[defaultNetwork] = def
	}

	clients := make(map[string]*Client, len(defs.Networks))
	for rawName, def := range defs.Networks {
		name := strings.ToLower(strings.TrimSpace(rawName))
		client, err := NewClient(Config{
			Network:  name,
			BaseURL:  def.BaseURL,
			CoinType: cfg.CoinType,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		clients[name] = client
	}
	if len(clients) == 0 {
		return nil, errors.New("no aptos networks configured")
	}
	if _, ok := clients[defaultNetwork]; !ok {
		return nil, fmt.Errorf("default network %s is not configured", defaultNetwork)
	}
	return &Registry{defaultNetwork: defaultNetwork, clients: clients}, nil
}

// Default returns the client of the default network.
func (r *Registry) Default() *Client {
	if r == nil {
		return nil
	}
	return r.clients[r.defaultNetwork]
}

// DefaultNetwork returns the name of the default network.
func (r *Registry) DefaultNetwork() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
}

// Client returns the client for the named network. An empty name selects the
// default network.
func (r *Registry) Client(name string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultNetwork
	}
	client, ok := r.clients[name]
	return client, ok
}

// Networks returns the registered network names in sorted order.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
