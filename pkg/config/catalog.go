package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Catalog describes the sellable inventory: VPN servers and subscription plans.
// It is loaded from a YAML file so operators can edit it without a rebuild.
type Catalog struct {
	DefaultServer string   `yaml:"default_server"`
	Servers       []Server `yaml:"servers"`
	Plans         []Plan   `yaml:"plans"`
}

// Server describes a single VPN endpoint and its Reality parameters. A server
// with a ws_path also offers a WebSocket+TLS inbound for networks that block
// raw TCP.
type Server struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	SNI         string `yaml:"sni"`
	PublicKey   string `yaml:"public_key"`
	ShortID     string `yaml:"short_id"`
	Fingerprint string `yaml:"fingerprint"`
	Flow        string `yaml:"flow"`
	WSPort      int    `yaml:"ws_port"`
	WSPath      string `yaml:"ws_path"`
}

// Plan describes a purchasable subscription plan.
type Plan struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Days  int    `yaml:"days"`
	Price Price  `yaml:"price"`
	Stars int    `yaml:"stars"`
}

// Price is an amount in minor currency units.
type Price struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	return &catalog, nil
}

// Validate checks the catalog for missing or inconsistent entries.
func (c *Catalog) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("catalog has no servers")
	}

	serverIDs := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server with empty id")
		}
		if serverIDs[s.ID] {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		serverIDs[s.ID] = true
		if s.Address == "" {
			return fmt.Errorf("server %q has no address", s.ID)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("server %q has invalid port %d", s.ID, s.Port)
		}
		if s.WSPath != "" && (s.WSPort <= 0 || s.WSPort > 65535) {
			return fmt.Errorf("server %q has ws_path but invalid ws_port %d", s.ID, s.WSPort)
		}
	}

	if c.DefaultServer == "" {
		c.DefaultServer = c.Servers[0].ID
	}
	if !serverIDs[c.DefaultServer] {
		return fmt.Errorf("default server %q not in catalog", c.DefaultServer)
	}

	planIDs := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		if p.ID == "" {
			return fmt.Errorf("plan with empty id")
		}
		if planIDs[p.ID] {
			return fmt.Errorf("duplicate plan id %q", p.ID)
		}
		planIDs[p.ID] = true
		if p.Days <= 0 {
			return fmt.Errorf("plan %q has non-positive days", p.ID)
		}
		if p.Title == "" {
			return fmt.Errorf("plan %q has no title", p.ID)
		}
	}

	return nil
}

// ServerByID looks up a server by its identifier.
func (c *Catalog) ServerByID(id string) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// PlanByID looks up a plan by its identifier.
func (c *Catalog) PlanByID(id string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanDays returns the duration in days for a plan.
func (c *Catalog) PlanDays(id string) (int, bool) {
	plan, ok := c.PlanByID(id)
	if !ok {
		return 0, false
	}
	return plan.Days, true
}
