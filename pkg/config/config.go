package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir    string = ".armbt"
	configDirXdg string = "armbt"
	configFile   string = "config.yml"
)

const (
	defaultMaxDepth        = 64
	defaultStackSize       = 8192
	defaultSymbolCacheSize = 1024
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// MaxDepth is the maximum number of frames printed by backtrace.
	MaxDepth *int `yaml:"max-depth,omitempty"`
	// StackSize is the size and alignment of the stack of the target, a
	// power of two. Frames are never unwound past the end of the stack
	// region the backtrace started in.
	StackSize *uint32 `yaml:"stack-size,omitempty"`
	// Disassemble prints the call instruction below every frame.
	Disassemble bool `yaml:"disassemble"`
	// Color enables colored output when standard output is a terminal.
	Color *bool `yaml:"color,omitempty"`
	// SymbolCacheSize is the number of symbolized addresses kept in memory.
	SymbolCacheSize int `yaml:"symbol-cache-size,omitempty"`
}

// GetMaxDepth returns the configured maximum backtrace depth.
func (c *Config) GetMaxDepth() int {
	if c.MaxDepth == nil || *c.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return *c.MaxDepth
}

// GetStackSize returns the configured stack size.
func (c *Config) GetStackSize() uint32 {
	if c.StackSize == nil || *c.StackSize == 0 {
		return defaultStackSize
	}
	return *c.StackSize
}

// GetColor returns true unless color was disabled.
func (c *Config) GetColor() bool {
	return c.Color == nil || *c.Color
}

// GetSymbolCacheSize returns the configured symbol cache size.
func (c *Config) GetSymbolCacheSize() int {
	if c.SymbolCacheSize <= 0 {
		return defaultSymbolCacheSize
	}
	return c.SymbolCacheSize
}

// Validate returns an error if the configuration is not usable.
func (c *Config) Validate() error {
	if ss := c.GetStackSize(); ss&(ss-1) != 0 {
		return fmt.Errorf("stack-size %#x is not a power of two", ss)
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration file at path, creating it with the
// default contents if it does not exist.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		f, err = createDefaultConfig(path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %v", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigTo(conf, fullConfigFile)
}

// SaveConfigTo marshals conf to the file at path.
func SaveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0600)
}

func createDefaultConfig(path string) (*os.File, error) {
	if err := ioutil.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	return os.Open(path)
}

const defaultConfig = `# Configuration file for armbt.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Maximum number of frames printed by backtrace.
# max-depth: 64

# Size and alignment of the stack of the target (THREAD_SIZE), a power of two.
# stack-size: 8192

# Print the call instruction of every frame.
# disassemble: true

# Uncomment the following line to disable colored output.
# color: false

# Number of symbolized addresses kept in memory.
# symbol-cache-size: 1024
`

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return filepath.Join(configPath, configDirXdg, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
