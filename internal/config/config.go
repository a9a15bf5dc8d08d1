// Package config loads msrun.yaml: the configured nodes and the defaults
// for the run command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/sourceplane/msrun/internal/mstest"
	"github.com/sourceplane/msrun/internal/node"
	"github.com/sourceplane/msrun/internal/runtime"
)

const (
	// AppName is the application name, also used as the env prefix.
	AppName = "msrun"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "msrun"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "yaml"
)

// ErrNodeNotFound is returned for a node name missing from the config.
var ErrNodeNotFound = errors.New("node not found")

// Config is the decoded configuration.
type Config struct {
	// Home overrides MSRUN_HOME.
	Home string `mapstructure:"home"`
	// Registry overrides the installation registry location.
	Registry string `mapstructure:"registry"`
	// Nodes are the machines steps can run on besides the local one.
	Nodes []node.Config `mapstructure:"nodes"`
	// Run holds defaults for the run command's step flags.
	Run mstest.Config `mapstructure:"run"`
}

// New returns a viper instance with msrun's defaults and environment
// binding. MSRUN_RUN_RESULTFILE sets run.resultFile, and so on.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("home", "")
	v.SetDefault("registry", "")
	v.SetDefault("run.tool", "")
	v.SetDefault("run.testFiles", "")
	v.SetDefault("run.categories", "")
	v.SetDefault("run.resultFile", "")
	v.SetDefault("run.args", "")
	return v
}

// Read locates and reads the config file into v. An explicit path must
// exist; otherwise $MSRUN_HOME and the working directory are searched and
// a missing file is not an error. It returns the file used, if any.
func Read(v *viper.Viper, path string) (string, error) {
	v.SetConfigType(ConfigFileExt)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file not found: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return path, nil
	}

	v.SetConfigName(ConfigFileName)
	if home := os.Getenv("MSRUN_HOME"); home != "" {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i, n := range cfg.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("nodes[%d]: name is required", i)
		}
	}
	return &cfg, nil
}

// Node returns the configuration of the named node. The empty name and
// "local" select the local machine unless the config defines them.
func (c *Config) Node(name string) (node.Config, error) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	if name == "" || name == node.TypeLocal {
		return node.Config{Name: node.TypeLocal, Type: node.TypeLocal}, nil
	}
	return node.Config{}, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
}

// RegistryPath returns the configured registry path, or the default one
// under MSRUN_HOME.
func (c *Config) RegistryPath() string {
	if c.Registry != "" {
		return c.Registry
	}
	return runtime.RegistryPath()
}
