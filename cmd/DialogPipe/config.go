package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/DialogPipe/internal/api"
	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/messaging"
	"github.com/BTreeMap/DialogPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DialogPipe state data
	DefaultStateDir = "/var/lib/dialogpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dialogpipe.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow device store when no DSN is given
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultMediaDirName is where uploaded documents land when no bucket is configured
	DefaultMediaDirName = "media"
	// DefaultSessionIdleTTL evicts conversations nobody touched for a day
	DefaultSessionIdleTTL = 24 * time.Hour
	// DefaultSweepInterval is how often idle sessions are purged
	DefaultSweepInterval = time.Minute
	// MemoryDSN selects the in-memory session store
	MemoryDSN = "memory"
)

// Messaging providers.
const (
	ProviderMeta     = "meta"
	ProviderTwilio   = "twilio"
	ProviderWhatsApp = "whatsapp"
)

// Config holds environment configuration. Flags registered by bindFlags
// override the values loaded from the environment.
type Config struct {
	StateDir       string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionIdleTTL time.Duration
	SweepInterval  time.Duration
	APIAddr        string

	Provider        string
	MetaToken       string
	MetaNumberID    string
	MetaVerifyToken string
	MetaAPIVersion  string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	WhatsAppDSN     string
	QROutput        string
	NumericCode     bool

	MongoURI      string
	MongoDB       string
	BlobBucketURL string
	LookupBaseURL string
	PaymentQRURL  string

	MaxFallbacks      int
	EscalationMessage string
	CaseInsensitive   bool
	Blacklist         []string
	LogLevel          string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadEnvironmentConfig: no .env file loaded", "error", err)
	} else {
		slog.Debug("loadEnvironmentConfig: loaded .env file")
	}

	cfg := Config{
		StateDir:       os.Getenv("DIALOGPIPE_STATE_DIR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        util.ParseIntEnv("REDIS_DB", 0),
		SessionIdleTTL: util.ParseDurationEnv("SESSION_IDLE_TTL", DefaultSessionIdleTTL),
		SweepInterval:  util.ParseDurationEnv("SESSION_SWEEP_INTERVAL", DefaultSweepInterval),
		APIAddr:        os.Getenv("API_ADDR"),

		Provider:        strings.ToLower(os.Getenv("MESSAGING_PROVIDER")),
		MetaToken:       os.Getenv("META_JWT_TOKEN"),
		MetaNumberID:    os.Getenv("META_NUMBER_ID"),
		MetaVerifyToken: os.Getenv("META_VERIFY_TOKEN"),
		MetaAPIVersion:  os.Getenv("META_API_VERSION"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),

		MongoURI:      os.Getenv("MONGO_DB_URI"),
		MongoDB:       os.Getenv("MONGO_DB_NAME"),
		BlobBucketURL: os.Getenv("BLOB_BUCKET_URL"),
		LookupBaseURL: os.Getenv("LOOKUP_BASE_URL"),
		PaymentQRURL:  os.Getenv("PAYMENT_QR_URL"),

		MaxFallbacks:      util.ParseIntEnv("MAX_FALLBACKS", dispatcher.DefaultMaxFallbacks),
		EscalationMessage: os.Getenv("ESCALATION_MESSAGE"),
		CaseInsensitive:   util.ParseBoolEnv("CASE_INSENSITIVE_TRIGGERS", false),
		Blacklist:         splitList(os.Getenv("BLACKLIST")),
		LogLevel:          os.Getenv("LOG_LEVEL"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderMeta
	}
	if cfg.MetaAPIVersion == "" {
		cfg.MetaAPIVersion = messaging.DefaultMetaAPIVersion
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}

	slog.Debug("loadEnvironmentConfig: environment loaded",
		"DIALOGPIPE_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"REDIS_ADDR", cfg.RedisAddr,
		"MESSAGING_PROVIDER", cfg.Provider,
		"META_JWT_TOKEN_SET", cfg.MetaToken != "",
		"TWILIO_ACCOUNT_SID_SET", cfg.TwilioSID != "",
		"MONGO_DB_URI_SET", cfg.MongoURI != "",
		"BLOB_BUCKET_URL", cfg.BlobBucketURL,
		"API_ADDR", cfg.APIAddr)
	return cfg
}

// bindFlags registers command-line overrides for cfg on cmd.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	fs := cmd.Flags()
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for DialogPipe data (overrides $DIALOGPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "session store DSN: sqlite path, postgres DSN or \"memory\" (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for sessions, dedup and locks (overrides $REDIS_ADDR)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "messaging provider: meta, twilio or whatsapp (overrides $MESSAGING_PROVIDER)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "use numeric login code instead of QR code")
	fs.StringVar(&cfg.BlobBucketURL, "blob-bucket", cfg.BlobBucketURL, "bucket URL for uploaded documents (overrides $BLOB_BUCKET_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.DurationVar(&cfg.SessionIdleTTL, "session-idle-ttl", cfg.SessionIdleTTL, "evict sessions idle for longer than this (overrides $SESSION_IDLE_TTL)")
	fs.IntVar(&cfg.MaxFallbacks, "max-fallbacks", cfg.MaxFallbacks, "invalid replies tolerated before escalation (overrides $MAX_FALLBACKS)")
}

// sessionDSN resolves the session store DSN, defaulting to SQLite in the state directory.
func (c Config) sessionDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// whatsAppDSN resolves the whatsmeow device store DSN.
func (c Config) whatsAppDSN() string {
	if c.WhatsAppDSN != "" {
		return c.WhatsAppDSN
	}
	if c.DatabaseURL != "" && c.DatabaseURL != MemoryDSN {
		return c.DatabaseURL
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// bucketURL resolves the blob bucket, defaulting to a directory under the state dir.
func (c Config) bucketURL() string {
	if c.BlobBucketURL != "" {
		return c.BlobBucketURL
	}
	return "file://" + filepath.Join(c.StateDir, DefaultMediaDirName) + "?create_dir=true"
}

func (c Config) validate() error {
	switch c.Provider {
	case ProviderMeta:
		if c.MetaToken == "" || c.MetaNumberID == "" {
			return fmt.Errorf("provider %q requires META_JWT_TOKEN and META_NUMBER_ID", c.Provider)
		}
	case ProviderTwilio:
		if c.TwilioSID == "" || c.TwilioToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("provider %q requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER", c.Provider)
		}
	case ProviderWhatsApp:
	default:
		return fmt.Errorf("unknown messaging provider %q", c.Provider)
	}
	if c.MaxFallbacks < 0 {
		return fmt.Errorf("max fallbacks must not be negative, got %d", c.MaxFallbacks)
	}
	return nil
}

// parseLogLevel maps LOG_LEVEL to a slog level; debug is the default.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// initializeLogger installs the text handler as the default logger.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
