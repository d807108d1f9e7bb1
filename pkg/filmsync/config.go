package filmsync

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/filmindex/filmsync/pkg/search"
	"github.com/filmindex/filmsync/pkg/store/postgres"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by LoadConfig for missing or malformed settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultEnvFile is the .env file read when --env-file is not given.
const DefaultEnvFile = ".env"

// Config holds everything filmsync needs to run. It is built once by
// LoadConfig and never read from the environment again.
type Config struct {
	Postgres postgres.Config
	Elastic  search.Config

	StateFile string
	Interval  time.Duration
	IndexDir  string

	LogLevel   string
	LogFile    string
	StatusAddr string
}

var requiredKeys = []string{
	"postgres_db",
	"postgres_user",
	"postgres_host",
	"elastic_host",
	"state_filename",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("elastic_port", 9200)
	v.SetDefault("elastic_scheme", "http")
	v.SetDefault("timeout", 10)
	v.SetDefault("fetch_size", postgres.DefaultFetchSize)
	v.SetDefault("bulk_size", search.DefaultBulkSize)
	v.SetDefault("index_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("status_addr", "")
}

// LoadConfig reads the process environment, seeded from envFile when that
// file exists. Variables set in the environment win over the file.
func LoadConfig(envFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	ints := map[string]int{}
	for _, key := range []string{"postgres_port", "elastic_port", "timeout", "fetch_size", "bulk_size"} {
		n, err := cast.ToIntE(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, strings.ToUpper(key), v.GetString(key))
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, strings.ToUpper(key), n)
		}
		ints[key] = n
	}

	cfg := Config{
		Postgres: postgres.Config{
			DBName:    v.GetString("postgres_db"),
			User:      v.GetString("postgres_user"),
			Password:  v.GetString("postgres_password"),
			Host:      v.GetString("postgres_host"),
			Port:      ints["postgres_port"],
			SSLMode:   v.GetString("postgres_sslmode"),
			FetchSize: ints["fetch_size"],
		},
		Elastic: search.Config{
			Host:     v.GetString("elastic_host"),
			Port:     ints["elastic_port"],
			Scheme:   v.GetString("elastic_scheme"),
			BulkSize: ints["bulk_size"],
			Indices:  search.DefaultIndexNames(),
		},
		StateFile:  v.GetString("state_filename"),
		Interval:   time.Duration(ints["timeout"]) * time.Second,
		IndexDir:   v.GetString("index_dir"),
		LogLevel:   v.GetString("log_level"),
		LogFile:    v.GetString("log_file"),
		StatusAddr: v.GetString("status_addr"),
	}
	return cfg, nil
}
