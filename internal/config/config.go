package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	RulesFile   string `yaml:"rules_file"`
	SnapshotDir string `yaml:"snapshot_dir"`
	UploadDir   string `yaml:"upload_dir"`
	// ProofLogFile is used when DatabaseURL is empty.
	ProofLogFile  string `yaml:"proof_log_file"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	CORSOrigin    string `yaml:"cors_origin"`
	// Redis - sessions are kept in memory when empty
	RedisURL       string `yaml:"redis_url"`
	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`
	// MinIO - uploads go to UploadDir when MinioEndpoint is empty
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
	// Google OAuth - login is disabled without a client id
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
	// LoginRedirect is where the browser lands after signing in or out.
	LoginRedirect       string        `yaml:"login_redirect"`
	SessionSecret       string        `yaml:"session_secret"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	SecureCookies       bool          `yaml:"secure_cookies"`
	DevLogin            bool          `yaml:"dev_login"`
	TitleCaseCategories bool          `yaml:"title_case_categories"`
	MaxUploadBytes      int64         `yaml:"max_upload_bytes"`
}

func Defaults() Config {
	return Config{
		Addr:                ":3000",
		RulesFile:           "./data/breRules.json",
		SnapshotDir:         "./data/snapshots",
		UploadDir:           "./data/uploads",
		ProofLogFile:        "./data/proof-uploads.jsonl",
		CORSOrigin:          "http://localhost:3000",
		MinioBucket:         "bre-proofs",
		GoogleRedirectURL:   "http://localhost:3000/auth/google/callback",
		LoginRedirect:       "/",
		SessionSecret:       "bre-dev-session-secret",
		SessionTTL:          24 * time.Hour,
		TitleCaseCategories: true,
		MaxUploadBytes:      20 << 20,
	}
}

// Load starts from Defaults, applies the YAML file named by BRE_CONFIG_FILE
// when set, then lets environment variables override both.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("BRE_CONFIG_FILE")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.RulesFile = getenv("BRE_RULES_FILE", cfg.RulesFile)
	cfg.SnapshotDir = getenv("BRE_SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.UploadDir = getenv("BRE_UPLOAD_DIR", cfg.UploadDir)
	cfg.ProofLogFile = getenv("BRE_PROOF_LOG_FILE", cfg.ProofLogFile)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("BRE_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.CORSOrigin = getenv("BRE_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.MeiliURL = getenv("MEILI_URL", cfg.MeiliURL)
	cfg.MeiliMasterKey = getenv("MEILI_MASTER_KEY", cfg.MeiliMasterKey)
	cfg.MinioEndpoint = getenv("MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getenv("MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getenv("MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = getenvBool("MINIO_USE_SSL", cfg.MinioUseSSL)
	cfg.GoogleClientID = getenv("GOOGLE_CLIENT_ID", cfg.GoogleClientID)
	cfg.GoogleClientSecret = getenv("GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret)
	cfg.GoogleRedirectURL = getenv("GOOGLE_REDIRECT_URL", cfg.GoogleRedirectURL)
	cfg.LoginRedirect = getenv("BRE_LOGIN_REDIRECT", cfg.LoginRedirect)
	cfg.SessionSecret = getenv("SESSION_SECRET", cfg.SessionSecret)
	cfg.SessionTTL = time.Duration(getenvInt("BRE_SESSION_TTL_SECONDS", int(cfg.SessionTTL/time.Second))) * time.Second
	cfg.SecureCookies = getenvBool("BRE_SECURE_COOKIES", cfg.SecureCookies)
	cfg.DevLogin = getenvBool("BRE_DEV_LOGIN", cfg.DevLogin)
	cfg.TitleCaseCategories = getenvBool("BRE_TITLE_CASE_CATEGORIES", cfg.TitleCaseCategories)
	cfg.MaxUploadBytes = int64(getenvInt("BRE_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
