package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// PantsMUD server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Include the caller's file and line number in log entries.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	TelnetServer struct {
		// Port on which the line-oriented MUD server will listen.
		Port int `mapstructure:"port"`
	} `mapstructure:"telnet_server"`

	WebSocketServer struct {
		// Port on which the legacy framed WebSocket server will listen.
		Port int `mapstructure:"port"`
	} `mapstructure:"websocket_server"`

	FlashPolicyServer struct {
		// Port on which the Flash policy server will listen. 0 disables it.
		Port int `mapstructure:"port"`
		// Optional path to a policy XML file to serve instead of the built-in default.
		PolicyFile string `mapstructure:"policy_file"`
	} `mapstructure:"flash_policy_server"`

	Session struct {
		// Name of the registered state pushed onto each new connection's stack.
		// Blank leaves the stack empty until a collaborator pushes one.
		InitialState string `mapstructure:"initial_state"`
	} `mapstructure:"session"`

	Limits struct {
		// Sustained inbound read events allowed per second per connection.
		// 0 disables flood protection.
		MessagesPerSecond float64 `mapstructure:"messages_per_second"`
		// Burst allowance for the inbound rate limiter.
		MessageBurst int `mapstructure:"message_burst"`
	} `mapstructure:"limits"`

	Database struct {
		// Storage engine for the key/value store. Options: sqlite, postgres.
		Engine string `mapstructure:"engine"`
		// Path to the sqlite database file (sqlite engine only).
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for the server.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log decoded frames and handshake requests to stdout.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "PANTSMUD"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, viper.ConfigFileNotFoundError{}) {
			fmt.Printf("error reading config file: no config file in path %s", configPath)
		} else {
			fmt.Printf("error reading config file: %v", err)
		}
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v", err)
		os.Exit(1)
	}
	return config
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// TelnetAddress returns the full listen address of the line protocol server.
func (c *Config) TelnetAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.TelnetServer.Port)
}

// WebSocketAddress returns the full listen address of the framed protocol server.
func (c *Config) WebSocketAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.WebSocketServer.Port)
}

// FlashPolicyAddress returns the full listen address of the Flash policy server.
func (c *Config) FlashPolicyAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.FlashPolicyServer.Port)
}
