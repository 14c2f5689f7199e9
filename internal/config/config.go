package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gossimon/internal/vector"
)

// EnvLocalIP overrides local_ip when set.
const EnvLocalIP = "GOSSIMON_LOCAL_IP"

var (
	ErrNoMembership    = errors.New("either map_file or nodes must be set")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidInterval = errors.New("tick_interval and max_age must be positive, with max_age above tick_interval")
	ErrInvalidNode     = errors.New("invalid node entry")
)

// WindowConfig selects the gossip window.
type WindowConfig struct {
	Mode  string `yaml:"mode"`
	Param int    `yaml:"param"`
}

// Config holds the daemon configuration.
type Config struct {
	LocalIP          string        `yaml:"local_ip"`
	Port             int           `yaml:"port"`
	MapFile          string        `yaml:"map_file"`
	Nodes            string        `yaml:"nodes"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	MaxAge           time.Duration `yaml:"max_age"`
	Window           WindowConfig  `yaml:"window"`
	Step             string        `yaml:"step"`
	Schema           string        `yaml:"schema"`
	UDPPush          bool          `yaml:"udp_push"`
	ResolveNames     bool          `yaml:"resolve_names"`
	DeathLogCapacity int           `yaml:"death_log_capacity"`
	LoadThreshold    float64       `yaml:"load_threshold"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Port:             50051,
		TickInterval:     time.Second,
		MaxAge:           60 * time.Second,
		Window:           WindowConfig{Mode: "fixed"},
		Step:             "push-random",
		DeathLogCapacity: vector.DefaultDeathLogCapacity,
		LoadThreshold:    0.5,
	}
}

// Load reads a YAML configuration file over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if ip := os.Getenv(EnvLocalIP); ip != "" {
		c.LocalIP = ip
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MapFile == "" && c.Nodes == "" {
		return ErrNoMembership
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.TickInterval <= 0 || c.MaxAge <= c.TickInterval {
		return fmt.Errorf("%w: tick_interval=%s max_age=%s", ErrInvalidInterval, c.TickInterval, c.MaxAge)
	}
	if _, err := vector.ParseWindowMode(c.Window.Mode); err != nil {
		return err
	}
	if c.Window.Param < 0 {
		return fmt.Errorf("%w: negative window param %d", vector.ErrInvalidWindow, c.Window.Param)
	}
	if c.LocalIP != "" {
		if _, err := parseIPv4(c.LocalIP); err != nil {
			return fmt.Errorf("local_ip: %w", err)
		}
	}
	if c.Nodes != "" {
		if _, err := ParseNodes(c.Nodes); err != nil {
			return err
		}
	}
	return nil
}

// WindowMode returns the parsed window mode.
func (c *Config) WindowMode() vector.WindowMode {
	m, err := vector.ParseWindowMode(c.Window.Mode)
	if err != nil {
		return vector.WindowFixed
	}
	return m
}

// ParseNodes parses a comma-separated list of nodes in the format:
// "id1=ip1,id2=ip2,id3=ip3"
func ParseNodes(s string) ([]vector.Node, error) {
	if s == "" {
		return []vector.Node{}, nil
	}

	parts := strings.Split(s, ",")
	nodes := make([]vector.Node, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: %s (expected id=ip)", ErrInvalidNode, part)
		}

		idStr := strings.TrimSpace(kv[0])
		ipStr := strings.TrimSpace(kv[1])
		if idStr == "" || ipStr == "" {
			return nil, fmt.Errorf("%w: node ID and IP cannot be empty: %s", ErrInvalidNode, part)
		}

		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: node ID %q: %v", ErrInvalidNode, idStr, err)
		}
		ip, err := parseIPv4(ipStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNode, err)
		}

		nodes = append(nodes, vector.Node{ID: uint32(id), IP: ip})
	}

	return nodes, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %w", s, vector.ErrNotIPv4)
	}
	return ip, nil
}
