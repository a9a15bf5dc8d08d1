package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	gruntime "runtime"

	"gopkg.in/yaml.v3"
)

// ToolManifestFile is the manifest shipped at the root of a packaged tool.
const ToolManifestFile = "msrun.tool.yaml"

// ToolManifest represents the msrun.tool.yaml structure
type ToolManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`

	Metadata struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`

	Entrypoint struct {
		Executable  string `yaml:"executable"`
		DefaultArgs string `yaml:"defaultArgs"`
	} `yaml:"entrypoint"`

	// Platforms optionally maps os/arch pairs to a platform-specific
	// executable relative to the tool directory.
	Platforms []struct {
		OS     string `yaml:"os"`
		Arch   string `yaml:"arch"`
		Binary string `yaml:"binary"`
	} `yaml:"platforms"`
}

// ReadToolManifest reads and validates the manifest in toolDir.
func ReadToolManifest(toolDir string) (*ToolManifest, error) {
	data, err := os.ReadFile(filepath.Join(toolDir, ToolManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read tool manifest: %w", err)
	}

	var manifest ToolManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// Validate checks that all required fields are present and valid
func (m *ToolManifest) Validate() error {
	if m.APIVersion == "" {
		return fmt.Errorf("manifest missing required field: apiVersion")
	}
	if m.APIVersion != "msrun.io/v1" {
		return fmt.Errorf("unsupported apiVersion: %s (expected: msrun.io/v1)", m.APIVersion)
	}
	if m.Kind != "Tool" {
		return fmt.Errorf("manifest kind must be 'Tool', got: %s", m.Kind)
	}
	if m.Metadata.Name == "" {
		return fmt.Errorf("manifest missing required field: metadata.name")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("manifest missing required field: metadata.version")
	}
	if m.Entrypoint.Executable == "" {
		return fmt.Errorf("manifest missing required field: entrypoint.executable")
	}
	return nil
}

// ExecutablePath returns the tool executable inside toolDir, preferring a
// platform entry for goos/goarch over the generic entrypoint.
func (m *ToolManifest) ExecutablePath(toolDir, goos, goarch string) string {
	for _, p := range m.Platforms {
		if p.OS == goos && p.Arch == goarch && p.Binary != "" {
			return filepath.Join(toolDir, filepath.FromSlash(p.Binary))
		}
	}
	return filepath.Join(toolDir, "bin", m.Entrypoint.Executable)
}

// Installation turns the manifest into a registry entry named name.
func (m *ToolManifest) Installation(name, toolDir string) ToolInstallation {
	return NewToolInstallation(name, m.ExecutablePath(toolDir, gruntime.GOOS, gruntime.GOARCH), m.Entrypoint.DefaultArgs)
}
