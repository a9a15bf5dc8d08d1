package runtime

import (
	"os"
	"path/filepath"
)

// MsrunHome returns the directory holding the installation registry and
// downloaded tools: $MSRUN_HOME, ./.msrun if present, else ~/.msrun.
func MsrunHome() string {
	if v := os.Getenv("MSRUN_HOME"); v != "" {
		return v
	}
	if _, err := os.Stat(".msrun"); err == nil {
		wd, _ := os.Getwd()
		return filepath.Join(wd, ".msrun")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".msrun")
}

// RegistryPath is the default location of the installation registry.
func RegistryPath() string {
	return filepath.Join(MsrunHome(), "installations.yaml")
}

// ToolsDir is where downloaded tools are unpacked.
func ToolsDir() string {
	return filepath.Join(MsrunHome(), "tools")
}
