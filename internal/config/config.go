package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Sections are separated
// by a double underscore: EXPENSEBOT_SHEETS__SPREADSHEET_ID.
const EnvPrefix = "EXPENSEBOT_"

// Config is the full bot configuration.
type Config struct {
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Telegram struct {
		Token             string  `koanf:"token"`
		MessagesPerSecond float64 `koanf:"messages_per_second"`
	} `koanf:"telegram"`

	Sheets struct {
		SpreadsheetID   string `koanf:"spreadsheet_id"`
		RawSheet        string `koanf:"raw_sheet"`
		ReviewedSheet   string `koanf:"reviewed_sheet"`
		CredentialsFile string `koanf:"credentials_file"`
	} `koanf:"sheets"`

	Gmail struct {
		CredentialsFile string `koanf:"credentials_file"`
		TokenFile       string `koanf:"token_file"`
		Label           string `koanf:"label"`
		ProcessedLabel  string `koanf:"processed_label"`
	} `koanf:"gmail"`

	Cursor struct {
		Backend    string `koanf:"backend"` // "file" or "gcs"
		Path       string `koanf:"path"`
		MailPath   string `koanf:"mail_path"`
		Bucket     string `koanf:"bucket"`
		Object     string `koanf:"object"`
		MailObject string `koanf:"mail_object"`
	} `koanf:"cursor"`

	Auth struct {
		UsersFile string  `koanf:"users_file"`
		UserIDs   []int64 `koanf:"user_ids"`
	} `koanf:"auth"`

	Poll struct {
		Interval   time.Duration `koanf:"interval"`
		FirstDelay time.Duration `koanf:"first_delay"`
	} `koanf:"poll"`

	Conversation struct {
		TTL           time.Duration `koanf:"ttl"`
		SweepInterval time.Duration `koanf:"sweep_interval"`
	} `koanf:"conversation"`

	Dispatch struct {
		QueueSize      int `koanf:"queue_size"`
		Workers        int `koanf:"workers"`
		MaxRetries     int `koanf:"max_retries"`
		FailureLogSize int `koanf:"failure_log_size"`
	} `koanf:"dispatch"`

	API struct {
		Addr  string `koanf:"addr"`
		Token string `koanf:"token"`
	} `koanf:"api"`

	Sinks struct {
		BigQuery struct {
			Enabled   bool   `koanf:"enabled"`
			ProjectID string `koanf:"project_id"`
			Dataset   string `koanf:"dataset"`
			Table     string `koanf:"table"`
		} `koanf:"bigquery"`
		Postgres struct {
			Enabled bool   `koanf:"enabled"`
			DSN     string `koanf:"dsn"`
			Table   string `koanf:"table"`
		} `koanf:"postgres"`
		Notion struct {
			Enabled    bool   `koanf:"enabled"`
			Token      string `koanf:"token"`
			DatabaseID string `koanf:"database_id"`
		} `koanf:"notion"`
	} `koanf:"sinks"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                    "info",
		"telegram.messages_per_second": 25.0,
		"sheets.raw_sheet":             "Transactions",
		"sheets.reviewed_sheet":        "Reviewed",
		"sheets.credentials_file":      "credentials/service_account_credentials.json",
		"gmail.credentials_file":       "credentials/gmail_oauth_credentials.json",
		"gmail.token_file":             "credentials/token.json",
		"gmail.label":                  "CreditCardTransactions",
		"gmail.processed_label":        "Processed",
		"cursor.backend":               "file",
		"cursor.path":                  "bot_state/cursor.json",
		"cursor.mail_path":             "bot_state/mail_cursor.json",
		"cursor.object":                "expense-review-bot/cursor.json",
		"cursor.mail_object":           "expense-review-bot/mail_cursor.json",
		"auth.users_file":              "bot_state/users.json",
		"poll.interval":                "5s",
		"poll.first_delay":             "10s",
		"conversation.ttl":             "0s",
		"conversation.sweep_interval":  "1m",
		"dispatch.queue_size":          100,
		"dispatch.workers":             2,
		"dispatch.max_retries":         2,
		"dispatch.failure_log_size":    200,
		"api.addr":                     ":8080",
		"sinks.bigquery.dataset":       "finance",
		"sinks.bigquery.table":         "reviewed_transactions",
		"sinks.postgres.table":         "transactions",
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// EXPENSEBOT_ environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("Load: defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", configPath, err)
		}
	} else {
		for _, path := range []string{"./expense-review-bot.toml", "$HOME/.expense-review-bot.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("Load: reading %s: %w", path, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("Load: environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshalling: %w", err)
	}
	return &cfg, nil
}

// envKey maps EXPENSEBOT_SINKS__POSTGRES__DSN to sinks.postgres.dsn.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks the keys the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Sheets.SpreadsheetID == "" {
		errs = append(errs, errors.New("sheets.spreadsheet_id is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	switch c.Cursor.Backend {
	case "file":
	case "gcs":
		if c.Cursor.Bucket == "" {
			errs = append(errs, errors.New("cursor.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cursor.backend %q is not one of file, gcs", c.Cursor.Backend))
	}
	if c.Sinks.BigQuery.Enabled && c.Sinks.BigQuery.ProjectID == "" {
		errs = append(errs, errors.New("sinks.bigquery.project_id is required when enabled"))
	}
	if c.Sinks.Postgres.Enabled && c.Sinks.Postgres.DSN == "" {
		errs = append(errs, errors.New("sinks.postgres.dsn is required when enabled"))
	}
	if c.Sinks.Notion.Enabled && (c.Sinks.Notion.Token == "" || c.Sinks.Notion.DatabaseID == "") {
		errs = append(errs, errors.New("sinks.notion.token and sinks.notion.database_id are required when enabled"))
	}
	return errors.Join(errs...)
}
