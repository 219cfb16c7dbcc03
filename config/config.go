// Package config loads the settings shared by the portal admin tools.
//
// Every value comes from the environment (optionally seeded from a .env file by the
// command) through viper. Credentials are never compiled in; a missing connection
// setting fails Load with ErrConfiguration before any work is attempted.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"portaladmin/model"
)

var ErrConfiguration = errors.New("configuration error")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Import   ImportConfig   `mapstructure:"import"`
	Sheets   SheetsConfig   `mapstructure:"sheets"`
}

type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Name           string        `mapstructure:"name"`
	SSLMode        string        `mapstructure:"sslmode"`
	Path           string        `mapstructure:"path"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ImportConfig is the reconciliation policy. The role and W9 tables are
// "key=value" comma lists so a roster with different codes needs no rebuild.
type ImportConfig struct {
	SeedID          string `mapstructure:"seed_id"`
	ActiveSentinel  string `mapstructure:"active_sentinel"`
	DefaultRate     string `mapstructure:"default_rate"`
	DefaultLanguage string `mapstructure:"default_language"`
	DefaultRole     string `mapstructure:"default_role"`
	RoleMap         string `mapstructure:"role_map"`
	W9Map           string `mapstructure:"w9_map"`
}

type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Range           string `mapstructure:"range"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// envBindings maps config keys to the environment variables that may set them,
// in order of precedence.
var envBindings = map[string][]string{
	"database.driver":          {"DB_DRIVER"},
	"database.url":             {"DATABASE_URL", "SUPABASE_DB_URL"},
	"database.host":            {"DB_HOST"},
	"database.port":            {"DB_PORT"},
	"database.user":            {"DB_USER"},
	"database.password":        {"DB_PASSWORD"},
	"database.name":            {"DB_NAME"},
	"database.sslmode":         {"DB_SSLMODE"},
	"database.path":            {"DB_PATH"},
	"database.connect_timeout": {"DB_CONNECT_TIMEOUT"},
	"logging.level":            {"LOG_LEVEL"},
	"logging.format":           {"LOG_FORMAT"},
	"import.seed_id":           {"IMPORT_SEED_ID"},
	"import.active_sentinel":   {"IMPORT_ACTIVE_SENTINEL"},
	"import.default_rate":      {"IMPORT_DEFAULT_RATE"},
	"import.default_language":  {"IMPORT_DEFAULT_LANGUAGE"},
	"import.default_role":      {"IMPORT_DEFAULT_ROLE"},
	"import.role_map":          {"IMPORT_ROLE_MAP"},
	"import.w9_map":            {"IMPORT_W9_MAP"},
	"sheets.spreadsheet_id":    {"SHEETS_SPREADSHEET_ID"},
	"sheets.range":             {"SHEETS_RANGE"},
	"sheets.credentials_file":  {"SHEETS_CREDENTIALS_FILE"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.path", "portal.db")
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("import.seed_id", "SG-001")
	v.SetDefault("import.active_sentinel", "Active")
	v.SetDefault("import.default_rate", "18.00")
	v.SetDefault("import.default_language", "English")
	v.SetDefault("import.default_role", string(model.RoleWorker))
	v.SetDefault("import.role_map", "1=Worker,2=Lead,3=Supervisor,Admin=Admin")
	v.SetDefault("import.w9_map", "approved=approved,pending=pending,none=pending")

	v.SetDefault("sheets.range", "Workers!A:Z")
}

// Load reads configuration from v, which the caller may already have bound to
// command flags. A nil v uses a fresh viper instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("%w: binding %s: %v", ErrConfiguration, key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once, so an operator can fix the
// environment in one pass.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			var missing []string
			for env, val := range map[string]string{
				"DB_HOST":     c.Database.Host,
				"DB_USER":     c.Database.User,
				"DB_PASSWORD": c.Database.Password,
				"DB_NAME":     c.Database.Name,
			} {
				if val == "" {
					missing = append(missing, env)
				}
			}
			if len(missing) > 0 {
				slices.Sort(missing)
				errs = append(errs, fmt.Sprintf("DATABASE_URL (or SUPABASE_DB_URL) is not set and discrete settings are missing: %s",
					strings.Join(missing, ", ")))
			}
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "DB_PATH is required when DB_DRIVER is sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", c.Database.Driver))
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, "DB_CONNECT_TIMEOUT must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: console, json", c.Logging.Format))
	}

	if c.Import.SeedID == "" {
		errs = append(errs, "IMPORT_SEED_ID must not be empty")
	}
	if c.Import.ActiveSentinel == "" {
		errs = append(errs, "IMPORT_ACTIVE_SENTINEL must not be empty")
	}
	if rate, err := decimal.NewFromString(c.Import.DefaultRate); err != nil || rate.IsNegative() {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_RATE (%q) must be a non-negative decimal", c.Import.DefaultRate))
	}
	if !model.Role(c.Import.DefaultRole).IsValid() {
		errs = append(errs, fmt.Sprintf("IMPORT_DEFAULT_ROLE (%q) is not a known role", c.Import.DefaultRole))
	}
	if _, err := c.Import.Roles(); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_ROLE_MAP: %v", err))
	}
	if _, err := c.Import.W9Statuses(); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_W9_MAP: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: validation failed:\n  - %s", ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}

// DSN returns the Postgres connection string, assembling it from the discrete
// settings when no URL was given.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Target describes where the tools will connect, without credentials.
func (d DatabaseConfig) Target() string {
	if d.Driver == DriverSQLite {
		return "sqlite:" + d.Path
	}
	u, err := url.Parse(d.DSN())
	if err != nil {
		return "postgres:[unparseable]"
	}
	return fmt.Sprintf("postgres:%s/%s", u.Host, strings.TrimPrefix(u.Path, "/"))
}

// Roles parses RoleMap into a source-code -> Role table.
func (i ImportConfig) Roles() (map[string]model.Role, error) {
	pairs, err := ParseMapping(i.RoleMap)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]model.Role, len(pairs))
	for code, name := range pairs {
		r := model.Role(name)
		if !r.IsValid() {
			return nil, fmt.Errorf("code %q maps to unknown role %q", code, name)
		}
		roles[code] = r
	}
	return roles, nil
}

// W9Statuses parses W9Map into a lower-cased source status -> W9Status table.
func (i ImportConfig) W9Statuses() (map[string]model.W9Status, error) {
	pairs, err := ParseMapping(i.W9Map)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]model.W9Status, len(pairs))
	for raw, name := range pairs {
		s := model.W9Status(strings.ToLower(name))
		if !s.IsValid() {
			return nil, fmt.Errorf("status %q maps to unknown W9 status %q", raw, name)
		}
		statuses[strings.ToLower(raw)] = s
	}
	return statuses, nil
}

// ParseMapping splits "a=b, c=d" into a map. Keys and values are trimmed;
// empty entries are ignored.
func ParseMapping(s string) (map[string]string, error) {
	m := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed entry %q, want key=value", part)
		}
		m[k] = v
	}
	return m, nil
}

// String returns a representation safe for logs; credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Database: {Driver: %q, Target: %q, Password: [MASKED]}, ", c.Database.Driver, c.Database.Target()))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}, ", c.Logging.Level, c.Logging.Format))
	b.WriteString(fmt.Sprintf("Import: {SeedID: %q, ActiveSentinel: %q, DefaultRate: %s}",
		c.Import.SeedID, c.Import.ActiveSentinel, c.Import.DefaultRate))
	b.WriteString("}")
	return b.String()
}
