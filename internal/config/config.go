// Package config loads the Fabric tenant settings the portal needs to
// trigger and track pipeline runs. Values come from an optional YAML
// file overlaid with PORTAL_FABRIC_* environment variables, so local
// setups can keep a checked-in file while deployments inject secrets
// through the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fewa2000/fabric-data-portal/internal/platform/env"
)

const (
	ArtifactModeOneLake = "onelake"
	ArtifactModeMinio   = "minio"
)

type Fabric struct {
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	WorkspaceID    string `yaml:"workspace_id"`
	PipelineItemID string `yaml:"pipeline_item_id"`
	LakehouseID    string `yaml:"lakehouse_id"`
	OwnerUPN       string `yaml:"owner_upn"`
}

type Config struct {
	Fabric       Fabric `yaml:"fabric"`
	AppVersion   string `yaml:"app_version"`
	ArtifactMode string `yaml:"artifact_mode"`
}

// Load reads the YAML file at path when it exists, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from the environment alone, using
// PORTAL_CONFIG_FILE as the optional file path.
func FromEnv() (Config, error) {
	return Load(env.String("PORTAL_CONFIG_FILE", ""))
}

func (c *Config) applyEnv() {
	c.Fabric.TenantID = env.String("PORTAL_FABRIC_TENANT_ID", c.Fabric.TenantID)
	c.Fabric.ClientID = env.String("PORTAL_FABRIC_CLIENT_ID", c.Fabric.ClientID)
	c.Fabric.ClientSecret = env.String("PORTAL_FABRIC_CLIENT_SECRET", c.Fabric.ClientSecret)
	c.Fabric.WorkspaceID = env.String("PORTAL_FABRIC_WORKSPACE_ID", c.Fabric.WorkspaceID)
	c.Fabric.PipelineItemID = env.String("PORTAL_FABRIC_PIPELINE_ITEM_ID", c.Fabric.PipelineItemID)
	c.Fabric.LakehouseID = env.String("PORTAL_FABRIC_LAKEHOUSE_ID", c.Fabric.LakehouseID)
	c.Fabric.OwnerUPN = env.String("PORTAL_FABRIC_OWNER_UPN", c.Fabric.OwnerUPN)
	c.AppVersion = env.String("PORTAL_APP_VERSION", c.AppVersion)
	c.ArtifactMode = env.String("PORTAL_ARTIFACT_MODE", c.ArtifactMode)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Fabric.TenantID) == "" {
		return errors.New("fabric.tenant_id is required")
	}
	if strings.TrimSpace(c.Fabric.ClientID) == "" {
		return errors.New("fabric.client_id is required")
	}
	if strings.TrimSpace(c.Fabric.ClientSecret) == "" {
		return errors.New("fabric.client_secret is required")
	}
	if strings.TrimSpace(c.Fabric.WorkspaceID) == "" {
		return errors.New("fabric.workspace_id is required")
	}
	if strings.TrimSpace(c.Fabric.PipelineItemID) == "" {
		return errors.New("fabric.pipeline_item_id is required")
	}
	if strings.TrimSpace(c.Fabric.LakehouseID) == "" {
		return errors.New("fabric.lakehouse_id is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.ArtifactMode)) {
	case "", ArtifactModeOneLake, ArtifactModeMinio:
	default:
		return fmt.Errorf("artifact_mode unsupported: %q", c.ArtifactMode)
	}
	return nil
}

// Mode reports the normalized artifact mode, defaulting to OneLake.
func (c Config) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(c.ArtifactMode))
	if mode == "" {
		return ArtifactModeOneLake
	}
	return mode
}
