package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cuemby/lanlink/pkg/types"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. LANLINK_EDGE_GROUP
const EnvPrefix = "LANLINK"

// Config is the complete lanlink configuration
type Config struct {
	DataDir    string           `mapstructure:"data_dir" yaml:"data_dir"`
	Edge       EdgeConfig       `mapstructure:"edge" yaml:"edge"`
	NAT        NATConfig        `mapstructure:"nat" yaml:"nat"`
	FileServer FileServerConfig `mapstructure:"fileserver" yaml:"fileserver"`
	Binaries   BinariesConfig   `mapstructure:"binaries" yaml:"binaries"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
}

// EdgeConfig describes how to join the overlay network
type EdgeConfig struct {
	Identification string `mapstructure:"identification" yaml:"identification"`
	Group          string `mapstructure:"group" yaml:"group"`
	Server         string `mapstructure:"server" yaml:"server"`
	Port           int    `mapstructure:"port" yaml:"port"`
	MemberServer   string `mapstructure:"member_server" yaml:"member_server"`
	ControlPort    int    `mapstructure:"control_port" yaml:"control_port"`
	AuthKey        string `mapstructure:"auth_key" yaml:"auth_key"`
}

// NATConfig lists the two STUN servers used for classification
type NATConfig struct {
	Servers []string      `mapstructure:"servers" yaml:"servers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
}

type FileServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// BinariesConfig locates the worker executables
type BinariesConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Edge       string `mapstructure:"edge" yaml:"edge"`
	Broadcast  string `mapstructure:"broadcast" yaml:"broadcast"`
	FileServer string `mapstructure:"fileserver" yaml:"fileserver"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Edge: EdgeConfig{
			Identification: types.DefaultName,
			Group:          "lers10",
			Port:           49898,
			ControlPort:    5644,
		},
		NAT: NATConfig{
			Servers: []string{"stun.nextcloud.com:3478", "stun.miwifi.com:3478"},
			Timeout: 2 * time.Second,
			Retries: 3,
		},
		FileServer: FileServerConfig{
			Port: 8090,
		},
		Binaries: BinariesConfig{
			Dir:        "bin",
			Edge:       executable("edge"),
			Broadcast:  executable("WinIPBroadcast"),
			FileServer: executable("miniserve"),
		},
		Log: LogConfig{
			Level: "info",
		},
		API: APIConfig{
			Addr: "127.0.0.1:5645",
		},
	}
}

func executable(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".lanlink"
	}
	return filepath.Join(dir, "lanlink")
}

func parseConfigPath(configPath string) (string, string, string) {
	configFolder, configName := filepath.Split(configPath)
	configName = strings.TrimSuffix(configName, filepath.Ext(configName))
	configType := strings.ReplaceAll(filepath.Ext(configPath), ".", "")

	if configFolder == "" {
		configFolder = "./"
	}

	return configFolder, configName, configType
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("edge.identification", cfg.Edge.Identification)
	v.SetDefault("edge.group", cfg.Edge.Group)
	v.SetDefault("edge.server", cfg.Edge.Server)
	v.SetDefault("edge.port", cfg.Edge.Port)
	v.SetDefault("edge.member_server", cfg.Edge.MemberServer)
	v.SetDefault("edge.control_port", cfg.Edge.ControlPort)
	v.SetDefault("edge.auth_key", cfg.Edge.AuthKey)

	v.SetDefault("nat.servers", cfg.NAT.Servers)
	v.SetDefault("nat.timeout", cfg.NAT.Timeout)
	v.SetDefault("nat.retries", cfg.NAT.Retries)

	v.SetDefault("fileserver.port", cfg.FileServer.Port)

	v.SetDefault("binaries.dir", cfg.Binaries.Dir)
	v.SetDefault("binaries.edge", cfg.Binaries.Edge)
	v.SetDefault("binaries.broadcast", cfg.Binaries.Broadcast)
	v.SetDefault("binaries.fileserver", cfg.Binaries.FileServer)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)

	v.SetDefault("api.addr", cfg.API.Addr)
}

// Load reads the configuration at configPath over the defaults. The file
// type follows the extension. A missing file, or an empty path, yields the
// defaults. LANLINK_* environment variables override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		configFolder, configName, configType := parseConfigPath(configPath)
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configFolder)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs error

	if len(c.NAT.Servers) < 2 {
		errs = multierr.Append(errs, errors.New("nat.servers needs two STUN servers"))
	}
	for i, s := range c.NAT.Servers {
		if strings.TrimSpace(s) == "" {
			errs = multierr.Append(errs, fmt.Errorf("nat.servers[%d] is empty", i))
		}
	}
	if c.Edge.Group == "" {
		errs = multierr.Append(errs, errors.New("edge.group is empty"))
	}
	if !validPort(c.Edge.Port) {
		errs = multierr.Append(errs, fmt.Errorf("edge.port %d is out of range", c.Edge.Port))
	}
	if !validPort(c.Edge.ControlPort) {
		errs = multierr.Append(errs, fmt.Errorf("edge.control_port %d is out of range", c.Edge.ControlPort))
	}
	if !validPort(c.FileServer.Port) {
		errs = multierr.Append(errs, fmt.Errorf("fileserver.port %d is out of range", c.FileServer.Port))
	}

	return errs
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

// BinaryPath returns the executable for a worker
func (c *Config) BinaryPath(worker types.WorkerName) (string, error) {
	var file string
	switch worker {
	case types.WorkerEdge:
		file = c.Binaries.Edge
	case types.WorkerBroadcast:
		file = c.Binaries.Broadcast
	case types.WorkerFileServer:
		file = c.Binaries.FileServer
	default:
		return "", fmt.Errorf("unknown worker %q", worker)
	}

	if filepath.IsAbs(file) || c.Binaries.Dir == "" {
		return file, nil
	}
	return filepath.Join(c.Binaries.Dir, file), nil
}

// YAML renders the effective configuration. The auth key is masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Edge.AuthKey != "" {
		out.Edge.AuthKey = "********"
	}
	return yaml.Marshal(&out)
}
