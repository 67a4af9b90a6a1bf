package config

import (
	"os"
	"path/filepath"
	"testing"
)

const fileYAML = `fabric:
  tenant_id: tenant-from-file
  client_id: client-from-file
  client_secret: secret-from-file
  workspace_id: ws-from-file
  pipeline_item_id: pipe-from-file
  lakehouse_id: lake-from-file
  owner_upn: owner@example.com
app_version: 1.2.3
artifact_mode: minio
`

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portal.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, fileYAML))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Fabric.TenantID != "tenant-from-file" {
		t.Fatalf("TenantID=%q", cfg.Fabric.TenantID)
	}
	if cfg.Mode() != ArtifactModeMinio {
		t.Fatalf("Mode()=%q, want minio", cfg.Mode())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORTAL_FABRIC_TENANT_ID", "tenant-from-env")
	t.Setenv("PORTAL_ARTIFACT_MODE", "onelake")

	cfg, err := Load(writeConfigFile(t, fileYAML))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Fabric.TenantID != "tenant-from-env" {
		t.Fatalf("TenantID=%q, want env override", cfg.Fabric.TenantID)
	}
	if cfg.Fabric.ClientID != "client-from-file" {
		t.Fatalf("ClientID=%q, want file value preserved", cfg.Fabric.ClientID)
	}
	if cfg.Mode() != ArtifactModeOneLake {
		t.Fatalf("Mode()=%q, want onelake", cfg.Mode())
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("PORTAL_FABRIC_TENANT_ID", "t")
	t.Setenv("PORTAL_FABRIC_CLIENT_ID", "c")
	t.Setenv("PORTAL_FABRIC_CLIENT_SECRET", "s")
	t.Setenv("PORTAL_FABRIC_WORKSPACE_ID", "w")
	t.Setenv("PORTAL_FABRIC_PIPELINE_ITEM_ID", "p")
	t.Setenv("PORTAL_FABRIC_LAKEHOUSE_ID", "l")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Mode() != ArtifactModeOneLake {
		t.Fatalf("Mode()=%q, want default onelake", cfg.Mode())
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Config{
		Fabric: Fabric{
			TenantID:       "t",
			ClientID:       "c",
			ClientSecret:   "s",
			WorkspaceID:    "w",
			PipelineItemID: "p",
			LakehouseID:    "l",
		},
		ArtifactMode: "s3",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for unknown artifact mode")
	}
}

func TestValidateRequiresTenant(t *testing.T) {
	cfg := Config{Fabric: Fabric{ClientID: "c"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing tenant")
	}
}
