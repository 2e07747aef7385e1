package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/events/wal"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X ...config.Version=v1.2.3".
var Version = "dev"

// EnvPrefix prefixes environment overrides, e.g. PGCRUD_REST_LISTENADDR.
const EnvPrefix = "PGCRUD"

// Config holds application-wide configuration
type Config struct {
	REST      RESTConfig          `mapstructure:"rest"`
	Auth      AuthConfig          `mapstructure:"auth"`
	Models    ModelsConfig        `mapstructure:"models"`
	Resources []ResourceConfig    `mapstructure:"resources"`
	Events    []events.SinkConfig `mapstructure:"events"`
	// Replication, when set, sources events from the write-ahead log
	// instead of the routes.
	Replication *wal.Config   `mapstructure:"replication"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

type RESTConfig struct {
	PG         PGConfig `mapstructure:"pg"`
	ListenAddr string   `mapstructure:"listenAddr"`
	// BasePath is where the generated routes are mounted.
	BasePath     string        `mapstructure:"basePath"`
	Title        string        `mapstructure:"title"`
	CORSOrigins  []string      `mapstructure:"corsOrigins"`
	TLS          TLSConfig     `mapstructure:"tls"`
	ShutdownWait time.Duration `mapstructure:"shutdownWait"`
}

type PGConfig struct {
	pg.PoolConfig `mapstructure:",squash"`
	// Schemas limits model generation; empty means every schema but the
	// system ones.
	Schemas []string `mapstructure:"schemas"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// AuthConfig enables authenticators. Callers are resolved in the order JWT,
// OIDC, basic, anonymous; the first that recognizes the request wins.
type AuthConfig struct {
	JWT       *mw.JWTConfig          `mapstructure:"jwt"`
	OIDC      *mw.OIDCProviderConfig `mapstructure:"oidc"`
	Basic     *mw.BasicAuthConfig    `mapstructure:"basic"`
	Anonymous *AnonConfig            `mapstructure:"anonymous"`
	Claims    access.ClaimMapping    `mapstructure:"claims"`
}

// AnonConfig grants unauthenticated requests a fixed tenant and scopes.
type AnonConfig struct {
	Tenant string   `mapstructure:"tenant"`
	Scopes []string `mapstructure:"scopes"`
}

// Enabled reports whether any authenticator is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWT != nil || a.OIDC != nil || a.Basic != nil || a.Anonymous != nil
}

// ModelsConfig selects the tables models are generated from.
type ModelsConfig struct {
	// Tables limits the tables loaded (by name or schema.name); referenced
	// tables are added automatically. Empty loads every table.
	Tables []string `mapstructure:"tables"`
	// Choices declares allowed values keyed by "table.column".
	Choices map[string][]string `mapstructure:"choices"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Default returns the configuration used for keys missing from file and
// environment.
func Default() Config {
	return Config{
		REST: RESTConfig{
			ListenAddr:   ":8080",
			BasePath:     "/api",
			Title:        "pgcrud",
			ShutdownWait: 10 * time.Second,
			PG:           PGConfig{PoolConfig: pg.PoolConfig{ConnectTimeout: 30 * time.Second}},
		},
		Metrics: MetricsConfig{Addr: ":9100", Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rest.listenAddr", d.REST.ListenAddr)
	v.SetDefault("rest.basePath", d.REST.BasePath)
	v.SetDefault("rest.title", d.REST.Title)
	v.SetDefault("rest.shutdownWait", d.REST.ShutdownWait)
	v.SetDefault("rest.pg.connString", "")
	v.SetDefault("rest.pg.connectTimeout", d.REST.PG.ConnectTimeout)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Load reads config from file or environment. Without cfgFile, pgcrud.yaml
// is looked up in $HOME/.config and the working directory; a missing file is
// not an error.
func Load(cfgFile string) (*Config, error) {
	return LoadViper(viper.New(), cfgFile)
}

// LoadViper is Load on a caller-supplied viper instance, e.g. one with bound
// command line flags.
func LoadViper(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcrud")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
