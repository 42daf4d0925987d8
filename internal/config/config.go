package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nkeys"
	"gopkg.in/yaml.v3"
)

const credsTempl = `-----BEGIN NATS USER JWT-----
{{.Jwt}}
------END NATS USER JWT------

************************* IMPORTANT *************************
NKEY Seed printed below can be used to sign and prove identity.
NKEYs are sensitive and should be treated as secrets.

-----BEGIN USER NKEY SEED-----
{{.Nkey}}
------END USER NKEY SEED------

*************************************************************`

const (
	DefaultServiceName = "ccpm-web"
	DefaultPort        = "8080"
	DefaultPrefix      = "/pm:"
	DefaultWorkDir     = "/app"
	DefaultPathPrefix  = "/app/ccpm"
	DefaultShell       = "bash"
	DefaultTimeout     = 60 * time.Second
)

type WorkloadsConfig struct {
	NatsUrl  string `yaml:"nats_url"`
	NatsNkey string `yaml:"nats_nkey"`
	NatsJwt  string `yaml:"nats_jwt"`
}

// Enabled reports whether a NATS connection should be made.
func (w WorkloadsConfig) Enabled() bool {
	return w.NatsUrl != ""
}

type HttpConfig struct {
	Port string `yaml:"port"`
}

// GatewayConfig controls how commands are admitted and executed.
type GatewayConfig struct {
	// Prefix every command must start with.
	Prefix string `yaml:"prefix"`
	// WorkDir is the working directory of the spawned shell.
	WorkDir string `yaml:"work_dir"`
	// PathPrefix is prepended to PATH for the spawned shell.
	PathPrefix string        `yaml:"path_prefix"`
	Shell      string        `yaml:"shell"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Http        HttpConfig      `yaml:"http"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Log         LogConfig       `yaml:"log"`
	Workloads   WorkloadsConfig `yaml:"workloads"`
}

func Default() *Config {
	return &Config{
		ServiceName: DefaultServiceName,
		Http: HttpConfig{
			Port: DefaultPort,
		},
		Gateway: GatewayConfig{
			Prefix:     DefaultPrefix,
			WorkDir:    DefaultWorkDir,
			PathPrefix: DefaultPathPrefix,
			Shell:      DefaultShell,
			Timeout:    DefaultTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. An empty path means ".env",
// which may be absent.
func LoadEnvFile(path string) error {
	optional := path == ""
	if optional {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// at path and finally the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	err := cfg.applyEnv()
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setFromEnv(&c.ServiceName, "CCPM_SERVICE_NAME")
	setFromEnv(&c.Http.Port, "PORT")
	setFromEnv(&c.Gateway.Prefix, "CCPM_COMMAND_PREFIX")
	setFromEnv(&c.Gateway.WorkDir, "CCPM_WORK_DIR")
	setFromEnv(&c.Gateway.PathPrefix, "CCPM_PATH_PREFIX")
	setFromEnv(&c.Gateway.Shell, "CCPM_SHELL")
	setFromEnv(&c.Log.Level, "CCPM_LOG_LEVEL")
	setFromEnv(&c.Log.Format, "CCPM_LOG_FORMAT")

	if timeout := os.Getenv("CCPM_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("CCPM_TIMEOUT is invalid: %w", err)
		}
		c.Gateway.Timeout = d
	}

	// Workloads config
	setFromEnv(&c.Workloads.NatsUrl, "NEX_WORKLOAD_NATS_URL")
	if nkey := strings.TrimSpace(os.Getenv("NEX_WORKLOAD_NATS_NKEY")); nkey != "" {
		c.Workloads.NatsNkey = nkey
	}
	if natsJwtB64 := os.Getenv("NEX_WORKLOAD_NATS_B64_JWT"); natsJwtB64 != "" {
		natsJwtBytes, err := base64.StdEncoding.DecodeString(natsJwtB64)
		if err != nil {
			return fmt.Errorf("NEX_WORKLOAD_NATS_B64_JWT is invalid base64: %w", err)
		}
		c.Workloads.NatsJwt = strings.TrimSpace(string(natsJwtBytes))
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.Http.Port == "" {
		return fmt.Errorf("missing http port")
	}
	if c.Gateway.Prefix == "" {
		return fmt.Errorf("missing command prefix")
	}
	if c.Gateway.Shell == "" {
		return fmt.Errorf("missing shell")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Gateway.Timeout)
	}

	w := c.Workloads
	if (w.NatsNkey == "") != (w.NatsJwt == "") {
		return fmt.Errorf("nats nkey and jwt must be set together")
	}
	if w.NatsNkey != "" {
		prefix, _, err := nkeys.DecodeSeed([]byte(w.NatsNkey))
		if err != nil {
			return fmt.Errorf("NEX_WORKLOAD_NATS_NKEY is not a valid seed: %w", err)
		}
		if prefix != nkeys.PrefixByteUser {
			return fmt.Errorf("NEX_WORKLOAD_NATS_NKEY must be a user seed")
		}
	}
	return nil
}

// SaveCreds writes a NATS creds file to the user's home directory so tools
// inside the container can reuse the workload identity.
func (c *Config) SaveCreds(logger *slog.Logger) error {
	tmpl, err := template.New("creds").Parse(credsTempl)
	if err != nil {
		return fmt.Errorf("error parsing creds template: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("error getting user home directory: %w", err)
	}

	file, err := os.Create(filepath.Join(home, "creds.txt"))
	if err != nil {
		return fmt.Errorf("error creating nats creds file: %w", err)
	}
	defer file.Close()

	err = tmpl.Execute(file, map[string]string{
		"Jwt":  c.Workloads.NatsJwt,
		"Nkey": c.Workloads.NatsNkey,
	})
	if err != nil {
		return fmt.Errorf("error writing nats creds file: %w", err)
	}
	logger.Info("nats creds file written", "path", file.Name())
	return nil
}
