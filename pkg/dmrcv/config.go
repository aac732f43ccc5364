// Copyright 2024-2026 Aiku AI

package dmrcv

import (
	_ "embed"
	"errors"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// ErrMissingDMRoom is returned when the plugin is configured without a
// destination room.
var ErrMissingDMRoom = errors.New("missing required 'dm_room' configuration")

// Config holds the dm-rcv-basic plugin configuration.
type Config struct {
	DMRoom string `yaml:"dm_room"`
	// DMPrefix toggles the "[DM] " prefix. Nil means enabled.
	DMPrefix *bool `yaml:"dm_prefix"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ShowPrefix reports whether forwarded messages get the "[DM] " prefix.
func (c *Config) ShowPrefix() bool {
	return c.DMPrefix == nil || *c.DMPrefix
}

// Validate checks the fields the plugin cannot run without.
func (c *Config) Validate() error {
	if c.DMRoom == "" {
		return ErrMissingDMRoom
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "dm_room")
	helper.Copy(up.Bool, "dm_prefix")
}

// ConfigUpgrader copies user values for known keys onto ExampleConfig.
var ConfigUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks:         nil,
	Base:           ExampleConfig,
}
