// Copyright 2024-2026 Aiku AI

package relay

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the relay host configuration.
type Config struct {
	Matrix           MatrixConfig         `yaml:"matrix"`
	Meshtastic       MeshtasticConfig     `yaml:"meshtastic"`
	Database         DatabaseConfig       `yaml:"database"`
	AdminAPIAddr     string               `yaml:"admin_api_addr"`
	Logging          LoggingConfig        `yaml:"logging"`
	CommunityPlugins map[string]yaml.Node `yaml:"community-plugins"`

	relayNode mesh.NodeNum
}

type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	BotUserID   string `yaml:"bot_user_id"`
	AccessToken string `yaml:"access_token"`
}

type MeshtasticConfig struct {
	RelayNode   string `yaml:"relay_node"`
	MeshnetName string `yaml:"meshnet_name"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// pluginSection is the host-owned part of a community-plugins entry.
type pluginSection struct {
	Active bool `yaml:"active"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies environment overrides and validates the config.
func (c *Config) PostProcess() error {
	if token := os.Getenv("MMRELAY_MATRIX_ACCESS_TOKEN"); token != "" {
		c.Matrix.AccessToken = token
	}
	if addr, ok := os.LookupEnv("MMRELAY_ADMIN_API_ADDR"); ok {
		c.AdminAPIAddr = addr
	}
	if c.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	if c.Matrix.AccessToken == "" {
		return errors.New("matrix.access_token is required")
	}
	if strings.TrimSpace(c.Meshtastic.RelayNode) == "" {
		return errors.New("meshtastic.relay_node is required")
	}
	var err error
	c.relayNode, err = mesh.ParseNodeID(c.Meshtastic.RelayNode)
	if err != nil {
		return fmt.Errorf("meshtastic.relay_node: %w", err)
	}
	if c.relayNode == 0 || c.relayNode == mesh.BroadcastNum {
		return fmt.Errorf("meshtastic.relay_node: %s is not a node address", c.relayNode)
	}
	return nil
}

// RelayNode returns the parsed relay node number. Valid after PostProcess.
func (c *Config) RelayNode() mesh.NodeNum {
	return c.relayNode
}

// LogLevel parses logging.level, defaulting to info.
func (c *Config) LogLevel() zerolog.Level {
	if c.Logging.Level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// PluginActive reports whether a plugin section exists and is enabled.
func (c *Config) PluginActive(name string) bool {
	node, ok := c.CommunityPlugins[name]
	if !ok {
		return false
	}
	var section pluginSection
	if err := node.Decode(&section); err != nil {
		return false
	}
	return section.Active
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "matrix", "homeserver")
	helper.Copy(up.Str, "matrix", "bot_user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.Str|up.Int, "meshtastic", "relay_node")
	helper.Copy(up.Str, "meshtastic", "meshnet_name")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "logging", "level")
}

// ConfigUpgrader builds the upgrader for a config file containing the
// given plugins. The example config is extended with each plugin's example
// section so that plugin keys survive the upgrade.
func ConfigUpgrader(regs ...plugin.Registration) (up.BaseUpgrader, error) {
	base, err := exampleWithPlugins(regs)
	if err != nil {
		return nil, err
	}
	upgraders := []up.Upgrader{up.SimpleUpgrader(upgradeConfig)}
	for _, reg := range regs {
		name := reg.Name
		upgraders = append(upgraders, up.SimpleUpgrader(func(helper up.Helper) {
			helper.Copy(up.Bool, "community-plugins", name, "active")
		}))
		if reg.Upgrader != nil {
			upgraders = append(upgraders, &up.ProxyUpgrader{
				Prefix: []string{"community-plugins", name},
				Target: reg.Upgrader,
			})
		}
	}
	return up.MergeUpgraders(base, upgraders...), nil
}

// exampleWithPlugins returns ExampleConfig with an inactive section for
// every registered plugin under community-plugins.
func exampleWithPlugins(regs []plugin.Registration) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &doc); err != nil {
		return "", fmt.Errorf("failed to parse example config: %w", err)
	}
	plugins := mappingValue(doc.Content[0], "community-plugins")
	if plugins == nil {
		return "", errors.New("example config has no community-plugins block")
	}
	plugins.Style = 0
	for _, reg := range regs {
		section := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if reg.ExampleConfig != "" {
			var pluginDoc yaml.Node
			if err := yaml.Unmarshal([]byte(reg.ExampleConfig), &pluginDoc); err != nil {
				return "", fmt.Errorf("failed to parse example config of %s: %w", reg.Name, err)
			}
			if len(pluginDoc.Content) > 0 && pluginDoc.Content[0].Kind == yaml.MappingNode {
				section = pluginDoc.Content[0]
			}
		}
		section.Content = append([]*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "active"},
			{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"},
		}, section.Content...)
		plugins.Content = append(plugins.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: reg.Name},
			section,
		)
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal example config: %w", err)
	}
	return string(out), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// LoadConfig reads the config file at path, upgrades it onto the example
// config (writing it back when save is set) and post-processes it. A .env
// file in the working directory is loaded first for environment overrides.
func LoadConfig(path string, save bool, regs ...plugin.Registration) (*Config, error) {
	_ = godotenv.Load()

	upgrader, err := ConfigUpgrader(regs...)
	if err != nil {
		return nil, err
	}
	data, _, err := up.Do(path, save, upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
