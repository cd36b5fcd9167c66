// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	configPath = pflag.String("config", ".", "Directory containing config.toml")

	validLogLevels      = []string{"debug", "info", "warn", "error", "fatal"}
	validDatabases      = []string{"sqlite", "postgres"}
	validStorageTypes   = []string{"db", "s3", "r2", "gridfs"}
	validVerifStores    = []string{"db", "redis"}
	validMailDrivers    = []string{"smtp", "log"}
	errMissingJWTSecret = errors.New("security.jwt_secret is missing")
)

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	// A missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(*configPath)

	v.AutomaticEnv()

	BindEnvs()
	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		fmt.Println("[WARNING]: config.toml not found, using environment variables and defaults")
	}

	if err := Validate(); err != nil {
		if errors.Is(err, errMissingJWTSecret) {
			fmt.Println("WARNING: You haven't set a JWT secret. Please set SECURITY_JWT_SECRET or security.jwt_secret in config.toml.\nA random secret you can use:\n\n" + genSecret())
		}

		return err
	}

	v.Set("upload.max_total_size", v.GetInt64("upload.max_total_size")<<20)
	return nil
}

// BindEnvs maps every config key to its environment variable
func BindEnvs() {
	v.BindEnv("app.log_level", "APP_LOG_LEVEL")

	v.BindEnv("host.port", "HOST_PORT", "PORT")
	v.BindEnv("host.base_url", "HOST_BASE_URL")
	v.BindEnv("host.cors", "HOST_CORS")

	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_DSN", "DATABASE_URL")

	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")

	v.BindEnv("aws.access_key", "AWS_ACCESS_KEY")
	v.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("aws.bucket", "AWS_BUCKET")

	v.BindEnv("cloudflare.account_id", "CLOUDFLARE_ACCOUNT_ID")
	v.BindEnv("cloudflare.access_key_id", "CLOUDFLARE_ACCESS_KEY_ID")
	v.BindEnv("cloudflare.secret_access_key", "CLOUDFLARE_SECRET_ACCESS_KEY")
	v.BindEnv("cloudflare.bucket", "CLOUDFLARE_BUCKET")

	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.database", "MONGO_DATABASE")

	v.BindEnv("upload.max_total_size", "UPLOAD_MAX_TOTAL_SIZE")
	v.BindEnv("upload.max_files", "UPLOAD_MAX_FILES")

	v.BindEnv("listing.email_domain", "LISTING_EMAIL_DOMAIN")

	v.BindEnv("verification.store", "VERIFICATION_STORE")
	v.BindEnv("verification.code_ttl", "VERIFICATION_CODE_TTL")
	v.BindEnv("verification.max_attempts", "VERIFICATION_MAX_ATTEMPTS")
	v.BindEnv("verification.cleanup_interval", "VERIFICATION_CLEANUP_INTERVAL")
	v.BindEnv("verification.orphan_after", "VERIFICATION_ORPHAN_AFTER")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("mail.driver", "MAIL_DRIVER")
	v.BindEnv("mail.host", "MAIL_HOST")
	v.BindEnv("mail.port", "MAIL_PORT")
	v.BindEnv("mail.username", "MAIL_USERNAME", "EMAIL_USER")
	v.BindEnv("mail.password", "MAIL_PASSWORD", "EMAIL_PASS")
	v.BindEnv("mail.sender", "MAIL_SENDER_ADDRESS")
	v.BindEnv("mail.retries", "MAIL_RETRIES")

	v.BindEnv("security.jwt_secret", "SECURITY_JWT_SECRET")
	v.BindEnv("security.rate_limit", "SECURITY_RATE_LIMIT")
	v.BindEnv("security.turnstile_secret", "TURNSTILE_SECRET_TOKEN")
	v.BindEnv("security.turnstile_site_key", "TURNSTILE_SITE_KEY")

	v.BindEnv("cache.listings_ttl", "CACHE_LISTINGS_TTL")
}

// SetDefaults registers the default value of every optional key
func SetDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 10000)
	v.SetDefault("host.base_url", "http://localhost:10000")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "market.db")

	v.SetDefault("storage.type", "db")

	v.SetDefault("mongo.database", "market")

	v.SetDefault("upload.max_total_size", 5)
	v.SetDefault("upload.max_files", 10)

	v.SetDefault("listing.email_domain", "@bue.edu.eg")

	v.SetDefault("verification.store", "db")
	v.SetDefault("verification.code_ttl", "30m")
	v.SetDefault("verification.max_attempts", 5)
	v.SetDefault("verification.cleanup_interval", "1h")
	v.SetDefault("verification.orphan_after", "168h")

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.retries", 3)

	v.SetDefault("security.rate_limit", 5)

	v.SetDefault("cache.listings_ttl", 5)
}

// Warnings lists settings that are valid but probably not meant for production.
// They are returned instead of logged because Setup runs before the logger exists.
func Warnings() []string {
	var warnings []string

	if v.GetString("mail.driver") == "log" {
		warnings = append(warnings, "Mail driver is set to log, passcodes will only be written to the log")
	}

	return warnings
}

// Validate checks the loaded values and returns the first problem found
func Validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !strings.HasPrefix(v.GetString("host.base_url"), "http") {
		return errors.New("host.base_url must be an absolute http(s) URL")
	}

	if !slices.Contains(validDatabases, v.GetString("database.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("database.dsn") == "" {
		return errors.New("database.dsn can't be empty")
	}

	if v.GetInt("upload.max_total_size") <= 0 {
		return errors.New("upload.max_total_size must be bigger than 0")
	}

	if v.GetInt("upload.max_files") <= 0 {
		return errors.New("upload.max_files must be bigger than 0")
	}

	domain := v.GetString("listing.email_domain")
	if !strings.HasPrefix(domain, "@") || len(domain) < 3 {
		return errors.New("listing.email_domain must look like @example.edu")
	}

	switch v.GetString("storage.type") {
	case "s3":
		if v.GetString("aws.access_key") == "" {
			return errors.New("aws access key can't be empty")
		}
		if v.GetString("aws.secret_access_key") == "" {
			return errors.New("aws secret access key can't be empty")
		}
		if v.GetString("aws.bucket") == "" {
			return errors.New("aws bucket can't be empty")
		}
	case "r2":
		if v.GetString("cloudflare.account_id") == "" {
			return errors.New("account id can't be empty")
		}
		if v.GetString("cloudflare.access_key_id") == "" {
			return errors.New("account access id can't be empty")
		}
		if v.GetString("cloudflare.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("cloudflare.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
	case "gridfs":
		if v.GetString("mongo.uri") == "" {
			return errors.New("mongo.uri can't be empty")
		}
	}

	if !slices.Contains(validStorageTypes, v.GetString("storage.type")) {
		return errors.New("invalid storage type provided")
	}

	if !slices.Contains(validVerifStores, v.GetString("verification.store")) {
		return errors.New("invalid verification store provided")
	}

	if v.GetString("verification.store") == "redis" && v.GetString("redis.addr") == "" {
		return errors.New("redis.addr can't be empty")
	}

	if v.GetDuration("verification.code_ttl") <= 0 {
		return errors.New("verification.code_ttl must be a positive duration")
	}

	if v.GetInt("verification.max_attempts") <= 0 {
		return errors.New("verification.max_attempts must be bigger than 0")
	}

	if v.GetDuration("verification.cleanup_interval") <= 0 {
		return errors.New("verification.cleanup_interval must be a positive duration")
	}

	if !slices.Contains(validMailDrivers, v.GetString("mail.driver")) {
		return errors.New("invalid mail driver provided")
	}

	if v.GetString("mail.driver") == "smtp" {
		if v.GetString("mail.username") == "" || v.GetString("mail.password") == "" {
			return errors.New("smtp mail driver needs mail.username and mail.password")
		}
	}

	if v.GetInt("mail.retries") < 0 {
		return errors.New("mail.retries can't be negative")
	}

	if v.GetString("security.jwt_secret") == "" {
		return errMissingJWTSecret
	}

	if v.GetInt("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if (v.GetString("security.turnstile_secret") == "") != (v.GetString("security.turnstile_site_key") == "") {
		return errors.New("turnstile needs both security.turnstile_secret and security.turnstile_site_key")
	}

	return nil
}
