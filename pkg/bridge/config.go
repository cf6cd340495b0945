package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crossbus/crossbus/pkg/types"
)

// SystemConfig declares one middleware system: its adapter kind and the
// middleware-specific fragment passed verbatim to Configure.
type SystemConfig struct {
	Type   string    `yaml:"type"`
	Config yaml.Node `yaml:"config"`
}

// TypesConfig points at the .proto schema files compiled into the type
// registry before any adapter is configured.
type TypesConfig struct {
	Paths []string `yaml:"paths"`
	Files []string `yaml:"files"`
}

// TopicRoute forwards messages published on one system to one or more
// others. Name is the topic, Type the qualified message type.
type TopicRoute struct {
	Name string   `yaml:"name"`
	Type string   `yaml:"type"`
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// ServiceRoute exposes a service hosted on the Server system to callers on
// each of the Clients systems.
type ServiceRoute struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Server  string   `yaml:"server"`
	Clients []string `yaml:"clients"`
}

// Routes is the routing table.
type Routes struct {
	Topics   []TopicRoute   `yaml:"topics"`
	Services []ServiceRoute `yaml:"services"`
}

// Config is the full bridge configuration.
type Config struct {
	Systems map[string]SystemConfig `yaml:"systems"`
	Types   TypesConfig             `yaml:"types"`
	Routes  Routes                  `yaml:"routes"`
}

// LoadConfig reads and parses a bridge configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses and validates a bridge configuration document.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency: every route
// endpoint must reference a declared system, and every route must carry a
// name and a type. It does not check that types exist — that is the
// registry's job once schemas are compiled and adapters have contributed
// their native types.
func (c *Config) Validate() error {
	if len(c.Systems) == 0 {
		return fmt.Errorf("config declares no systems")
	}
	for name, sc := range c.Systems {
		if sc.Type == "" {
			return fmt.Errorf("system %q has no type", name)
		}
	}

	seenTopics := make(map[string]struct{})
	for _, r := range c.Routes.Topics {
		if r.Name == "" || r.Type == "" {
			return fmt.Errorf("topic route needs both name and type: %+v", r)
		}
		key := r.From + "\x00" + r.Name
		if _, dup := seenTopics[key]; dup {
			return fmt.Errorf("duplicate topic route %q from system %q", r.Name, r.From)
		}
		seenTopics[key] = struct{}{}
		if _, ok := c.Systems[r.From]; !ok {
			return fmt.Errorf("topic route %q: unknown source system %q", r.Name, r.From)
		}
		if len(r.To) == 0 {
			return fmt.Errorf("topic route %q has no destinations", r.Name)
		}
		for _, to := range r.To {
			if _, ok := c.Systems[to]; !ok {
				return fmt.Errorf("topic route %q: unknown destination system %q", r.Name, to)
			}
			if to == r.From {
				return fmt.Errorf("topic route %q routes system %q to itself", r.Name, to)
			}
		}
	}

	seenServices := make(map[string]struct{})
	for _, r := range c.Routes.Services {
		if r.Name == "" || r.Type == "" {
			return fmt.Errorf("service route needs both name and type: %+v", r)
		}
		if _, dup := seenServices[r.Name]; dup {
			return fmt.Errorf("duplicate service route %q", r.Name)
		}
		seenServices[r.Name] = struct{}{}
		if _, ok := c.Systems[r.Server]; !ok {
			return fmt.Errorf("service route %q: unknown server system %q", r.Name, r.Server)
		}
		if len(r.Clients) == 0 {
			return fmt.Errorf("service route %q has no client systems", r.Name)
		}
		for _, cl := range r.Clients {
			if _, ok := c.Systems[cl]; !ok {
				return fmt.Errorf("service route %q: unknown client system %q", r.Name, cl)
			}
			if cl == r.Server {
				return fmt.Errorf("service route %q uses system %q as both server and client", r.Name, cl)
			}
		}
	}
	return nil
}

// RequiredFor computes the set of type names the named system must be able
// to handle, from every route that touches it. The bridge passes this to
// the adapter's Configure.
func (c *Config) RequiredFor(systemName string) types.Required {
	req := types.NewRequired()
	for _, r := range c.Routes.Topics {
		if r.From == systemName {
			req.AddMessage(r.Type)
		}
		for _, to := range r.To {
			if to == systemName {
				req.AddMessage(r.Type)
			}
		}
	}
	for _, r := range c.Routes.Services {
		if r.Server == systemName {
			req.AddService(r.Type)
		}
		for _, cl := range r.Clients {
			if cl == systemName {
				req.AddService(r.Type)
			}
		}
	}
	return req
}
