package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const devSecretKey = "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy"

var (
	errDevSecretKey        = errors.New("secretKey must be set outside of debug mode")
	errAuthTimeouts        = errors.New("auth timeouts must be positive")
	errUnknownCacheBackend = errors.New("unknown cache backend")
)

type (
	AuthConfig struct {
		JWTIssuer            string
		JWTExpirationDelta   time.Duration
		OTPTimeout           time.Duration
		TrustedOriginTimeout time.Duration
	}

	ServerConfig struct {
		Host            string
		Addr            string
		DebugHost       string
		ShutdownTimeout time.Duration
		TrustProxy      bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	CacheConfig struct {
		Backend string // memory | redis
		Shards  int
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	// Config holds every setting the app reads at startup.
	// It is built once by NewConfig and passed explicitly to whoever needs it.
	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Auth     AuthConfig
		Server   ServerConfig
		Database DatabaseConfig
		Cache    CacheConfig
		Redis    RedisConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c DatabaseConfig) InMemory() bool {
	return c.Engine == "memory"
}

func newViper(env string) *viper.Viper {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "FaTracker")
	v.SetDefault("secretKey", devSecretKey)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "FaTracker <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("auth.jwtIssuer", "fatracker")
	v.SetDefault("auth.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("auth.otpTimeout", 5*time.Minute)
	v.SetDefault("auth.trustedOriginTimeout", 24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.trustProxy", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "fatracker")
	v.SetDefault("database.user", "fatracker")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.shards", 32)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// DEV_SERVER_ADDR -> server.addr
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadDotEnv loads `config/.env.<env>` if it exists (ignores it if it does not).
func loadDotEnv(env string) error {
	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getting working directory")
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err = os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	return nil
}

// NewConfig reads the configuration from the environment (and the optional dotenv file of the current ENV).
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if err := loadDotEnv(env); err != nil {
		return nil, err
	}
	v := newViper(env)

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing defaultFromEmail")
	}

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: *from,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Auth: AuthConfig{
			JWTIssuer:            v.GetString("auth.jwtIssuer"),
			JWTExpirationDelta:   v.GetDuration("auth.jwtExpirationDelta"),
			OTPTimeout:           v.GetDuration("auth.otpTimeout"),
			TrustedOriginTimeout: v.GetDuration("auth.trustedOriginTimeout"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Addr:            v.GetString("server.addr"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			TrustProxy:      v.GetBool("server.trustProxy"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Cache: CacheConfig{
			Backend: v.GetString("cache.backend"),
			Shards:  v.GetInt("cache.shards"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if !c.Debug && (c.SecretKey == "" || c.SecretKey == devSecretKey) {
		return errDevSecretKey
	}
	if c.Auth.JWTExpirationDelta <= 0 || c.Auth.OTPTimeout <= 0 || c.Auth.TrustedOriginTimeout <= 0 {
		return errAuthTimeouts
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return errors.Wrapf(errUnknownCacheBackend, "%q", c.Cache.Backend)
	}
	return nil
}

// NewTestConfig returns a Config suitable for tests; it never reads the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            true,
		TestMode:         true,
		AppName:          "FaTracker",
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "FaTracker", Address: "noreply@localhost"},
		Auth: AuthConfig{
			JWTIssuer:            "fatracker",
			JWTExpirationDelta:   time.Hour,
			OTPTimeout:           5 * time.Minute,
			TrustedOriginTimeout: 24 * time.Hour,
		},
		Server: ServerConfig{Host: "localhost", Addr: ":0", ShutdownTimeout: time.Second},
		Database: DatabaseConfig{
			Engine:     "memory",
			Host:       "localhost",
			Port:       "5432",
			Name:       "fatracker_test",
			DisableTLS: true,
		},
		Cache: CacheConfig{Backend: "memory", Shards: 4},
		Redis: RedisConfig{Addr: os.Getenv("REDIS_ADDR")},
	}
}
