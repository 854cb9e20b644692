package core

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the server
// and its supporting components.
type Config struct {
	Server struct {
		// Hostname or IP address on which the server will listen. Blank listens on all
		// interfaces (dual-stack).
		Hostname string `mapstructure:"hostname"`
		// Port for control connections. Normally supplied on the command line.
		Port int `mapstructure:"port"`
		// Directory each new session starts in.
		RootDir string `mapstructure:"root_dir"`
		// Maximum number of concurrent control connections. 0 means unbounded.
		MaxConnections int `mapstructure:"max_connections"`
		// Resolve a display hostname for each client via reverse DNS.
		ReverseLookup bool `mapstructure:"reverse_lookup"`
		// How long a reverse lookup result is cached.
		LookupCacheTTL time.Duration `mapstructure:"lookup_cache_ttl"`
	} `mapstructure:"server"`

	Protocol struct {
		// Longest control line accepted before the connection is dropped.
		MaxLineLength int `mapstructure:"max_line_length"`
	} `mapstructure:"protocol"`

	Transfer struct {
		// Size of each write on the data channel.
		ChunkSize int `mapstructure:"chunk_size"`
	} `mapstructure:"transfer"`

	// Timeouts default to 0, which waits forever, except shutdown_grace.
	Timeouts struct {
		Command   time.Duration `mapstructure:"command"`
		Ack       time.Duration `mapstructure:"ack"`
		DataDial  time.Duration `mapstructure:"data_dial"`
		DataWrite time.Duration `mapstructure:"data_write"`
		// How long a command already in progress may keep running after shutdown
		// begins. 0 lets it finish no matter how long it takes.
		ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	} `mapstructure:"timeouts"`

	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	History struct {
		Enabled bool `mapstructure:"enabled"`
		// Options: sqlite, postgres
		Engine string `mapstructure:"engine"`
		// Database file when using the sqlite engine.
		Filename string `mapstructure:"filename"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"history"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`

	v *viper.Viper
}

const (
	envVarPrefix   = "FTSERVE"
	configFileName = "ftserve"
)

var defaults = map[string]interface{}{
	"server.hostname":                    "",
	"server.port":                        0,
	"server.root_dir":                    ".",
	"server.max_connections":             0,
	"server.reverse_lookup":              true,
	"server.lookup_cache_ttl":            "10m",
	"protocol.max_line_length":           4096,
	"transfer.chunk_size":                500,
	"timeouts.command":                   "0s",
	"timeouts.ack":                       "0s",
	"timeouts.data_dial":                 "0s",
	"timeouts.data_write":                "0s",
	"timeouts.shutdown_grace":            "10s",
	"log_file_path":                      "",
	"log_level":                          "info",
	"history.enabled":                    false,
	"history.engine":                     "sqlite",
	"history.filename":                   "ftserve.db",
	"history.host":                       "localhost",
	"history.port":                       5432,
	"history.name":                       "ftserve",
	"history.username":                   "",
	"history.password":                   "",
	"history.sslmode":                    "disable",
	"debugging.enabled":                  false,
	"debugging.pprof_port":               4000,
	"debugging.database_logging_enabled": false,
}

// flagKeys maps command line flag names to the config keys they override.
var flagKeys = map[string]string{
	"root-dir":        "server.root_dir",
	"max-connections": "server.max_connections",
	"log-level":       "log_level",
	"history":         "history.enabled",
}

// LoadConfig builds a Config from defaults, the optional ftserve.yaml file under
// configPath, FTSERVE_* environment variables, and any flags in flags that were
// set (in increasing precedence). A missing config file is not an error.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, transfer.chunk_size can be set using: <envVarPrefix>_TRANSFER_CHUNK_SIZE
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("error binding flags: %w", bindErr)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	config.v = v
	return config, nil
}

// ConfigFileUsed returns the path of the config file that was read, if any.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Validate checks the values that would otherwise fail deep inside the server.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", c.Server.Port)
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("invalid transfer.chunk_size %d: must be positive", c.Transfer.ChunkSize)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("invalid server.max_connections %d: must not be negative", c.Server.MaxConnections)
	}
	if c.History.Enabled {
		switch c.History.Engine {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unsupported history.engine %q (options: sqlite, postgres)", c.History.Engine)
		}
	}
	return nil
}

// ListenAddress returns the host:port the acceptor binds to.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Hostname, strconv.Itoa(c.Server.Port))
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.History.Host,
		c.History.Port,
		c.History.Name,
		c.History.Username,
		c.History.Password,
		c.History.SSLMode,
	)
}

// WatchLogLevel invokes fn with the new log_level whenever the config file
// changes on disk. It does nothing if no config file was loaded.
func (c *Config) WatchLogLevel(fn func(level string, e fsnotify.Event)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		fn(c.v.GetString("log_level"), e)
	})
	c.v.WatchConfig()
}

// HistoryDataSource returns what data.Open expects for the configured engine:
// a file path for sqlite, a DSN otherwise.
func (c *Config) HistoryDataSource() string {
	if c.History.Engine == "sqlite" {
		return c.History.Filename
	}
	return c.DatabaseURL()
}
