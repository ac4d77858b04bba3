// Package config handles b1agent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./b1agent.yaml, ~/.config/b1agent/config.yaml, /etc/b1agent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"b1agent.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "b1agent", "config.yaml"))
	}

	paths = append(paths, "/etc/b1agent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all b1agent configuration.
type Config struct {
	Listen       ListenConfig            `yaml:"listen"`
	ServiceLayer ServiceLayerConfig      `yaml:"service_layer"`
	Gemini       GeminiConfig            `yaml:"gemini"`
	Entities     map[string]EntityConfig `yaml:"entities"`
	DataDir      string                  `yaml:"data_dir"`
	LogLevel     string                  `yaml:"log_level"`
	LogFormat    string                  `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ServiceLayerConfig defines the remote service-layer connection.
// Username may carry the tenant database as a "user@tenant" compound;
// the client splits it at login time.
type ServiceLayerConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// VerifyTLS enables certificate verification. Off by default because
	// most on-prem service-layer installs run self-signed certificates;
	// the HTTP layer logs a warning when verification is disabled.
	VerifyTLS bool `yaml:"verify_tls"`
}

// GeminiConfig defines the reasoning-model settings.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // override for tests/proxies
	// Models are tried in order until one accepts the request.
	Models []string `yaml:"models"`
}

// EntityConfig maps a logical entity name to its physical endpoint.
type EntityConfig struct {
	Path         string   `yaml:"path"`
	Description  string   `yaml:"description"`
	CommonFields []string `yaml:"common_fields"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file (e.g. ${SL_PASSWORD}) are expanded before parsing so secrets
// can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration, including the stock entity
// catalog for a Business One style service layer. A config file can
// replace the catalog wholesale.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "data",
		Gemini: GeminiConfig{
			Models: []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"},
		},
		Entities: map[string]EntityConfig{
			"Items": {
				Path:         "/Items",
				Description:  "Item/product master data",
				CommonFields: []string{"ItemCode", "ItemName", "ItemsGroupCode", "QuantityOnStock", "AvgPrice"},
			},
			"BusinessPartners": {
				Path:         "/BusinessPartners",
				Description:  "Customers and vendors",
				CommonFields: []string{"CardCode", "CardName", "CardType", "Balance", "Phone1"},
			},
			"Orders": {
				Path:         "/Orders",
				Description:  "Sales orders",
				CommonFields: []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocDate", "DocTotal", "DocumentStatus", "SalesPersonCode"},
			},
			"Invoices": {
				Path:         "/Invoices",
				Description:  "Sales invoices (charge documents)",
				CommonFields: []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocDate", "DocTotal", "DocumentLines", "SalesPersonCode"},
			},
			"CreditNotes": {
				Path:         "/CreditNotes",
				Description:  "Credit notes (reversal documents, i.e. returns)",
				CommonFields: []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocDate", "DocTotal", "DocumentLines", "SalesPersonCode"},
			},
			"PurchaseOrders": {
				Path:         "/PurchaseOrders",
				Description:  "Purchase orders",
				CommonFields: []string{"DocEntry", "DocNum", "CardCode", "CardName", "DocDate", "DocTotal"},
			},
			"InventoryGenEntries": {
				Path:         "/InventoryGenEntries",
				Description:  "Goods receipts",
				CommonFields: []string{"DocEntry", "DocNum", "DocDate", "DocumentLines"},
			},
			"InventoryGenExits": {
				Path:         "/InventoryGenExits",
				Description:  "Goods issues",
				CommonFields: []string{"DocEntry", "DocNum", "DocDate", "DocumentLines"},
			},
			"ItemGroups": {
				Path:         "/ItemGroups",
				Description:  "Item groups",
				CommonFields: []string{"Number", "GroupName"},
			},
			"Warehouses": {
				Path:         "/Warehouses",
				Description:  "Warehouses",
				CommonFields: []string{"WarehouseCode", "WarehouseName"},
			},
			"PriceLists": {
				Path:         "/PriceLists",
				Description:  "Price lists",
				CommonFields: []string{"PriceListNo", "PriceListName", "BasePriceList", "Factor"},
			},
		},
	}
}

// Validate checks that the fields required to construct clients are set.
func (c *Config) Validate() error {
	if c.ServiceLayer.BaseURL == "" {
		return fmt.Errorf("service_layer.base_url is required")
	}
	if c.ServiceLayer.Username == "" || c.ServiceLayer.Password == "" {
		return fmt.Errorf("service_layer credentials are required")
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini.api_key is required")
	}
	if len(c.Gemini.Models) == 0 {
		return fmt.Errorf("gemini.models must list at least one model")
	}
	return nil
}
