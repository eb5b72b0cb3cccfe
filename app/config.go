package app

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/putto11262002/chatline/pkg/validate"
	"github.com/spf13/viper"
)

const (
	CredentialStoreMemory = "memory"
	CredentialStoreSQLite = "sqlite"
)

type Config struct {
	Server struct {
		// URL is the base URL of the request API, e.g. http://localhost:4000.
		URL string `mapstructure:"url" validate:"required,url"`
		// WSURL is the push channel endpoint. It defaults to URL with a ws
		// scheme and the /ws path.
		WSURL string `mapstructure:"ws_url" validate:"omitempty,url"`
	} `mapstructure:"server"`
	Credential struct {
		// Store is memory | sqlite. The default is sqlite.
		Store string `mapstructure:"store" validate:"required,oneof=memory sqlite"`
		// File is the SQLite database holding the credential.
		File string `mapstructure:"file" validate:"required_if=Store sqlite"`
	} `mapstructure:"credential"`
	Log struct {
		Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	} `mapstructure:"log"`
	Request struct {
		Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"request"`
	// Serve configures the development server started by the serve command.
	Serve struct {
		Port     int    `mapstructure:"port" validate:"required,port"`
		Hostname string `mapstructure:"hostname"`
		// Secret signs the tokens issued by the server. It must be base64
		// encoded. A random secret is used when empty.
		Secret         Base64Encoded `mapstructure:"secret"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		TLS            struct {
			Cert string `mapstructure:"cert"`
			Key  string `mapstructure:"key" validate:"required_with=Cert"`
		} `mapstructure:"tls"`
	} `mapstructure:"serve"`
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// SetDefaults registers the default of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:4000")
	v.SetDefault("server.ws_url", "")
	v.SetDefault("credential.store", CredentialStoreSQLite)
	v.SetDefault("credential.file", defaultCredentialFile())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("request.timeout", 15*time.Second)
	v.SetDefault("serve.port", 4000)
	v.SetDefault("serve.hostname", "127.0.0.1")
	v.SetDefault("serve.secret", "")
	v.SetDefault("serve.allowed_origins", []string{"*"})
	v.SetDefault("serve.tls.cert", "")
	v.SetDefault("serve.tls.key", "")
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "chatline.db"
	}
	return filepath.Join(dir, "chatline", "chatline.db")
}

// LoadConfig loads the configuration from .env, the config file and
// environment variables prefixed with CHATLINE_. An explicit file overrides
// the config search path.
func LoadConfig(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("chatline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "chatline"))
		}
	}
	v.SetEnvPrefix("chatline")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PushURL returns the push channel endpoint.
func (c *Config) PushURL() (string, error) {
	if c.Server.WSURL != "" {
		return c.Server.WSURL, nil
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
