package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvGoogleCredentials = "GOOGLE_SERVICE_ACCOUNT_SECRET_KEY"
	EnvGitHubToken       = "GITHUB_TOKEN"
	EnvGitHubOutput      = "GITHUB_OUTPUT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"

	// DefaultCredentialsFile is read when the credential variable is unset,
	// for local debugging.
	DefaultCredentialsFile = ".googleServiceAccountSecretKey.json"
)

// Env is the process environment the job depends on.
type Env struct {
	GoogleCredentials []byte
	GitHubToken       string
	// CompletionFile receives the "updated=on" line.
	CompletionFile string
	LogLevel       string
	LogFormat      string
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadEnv resolves the environment. Credentials fall back to credentialsFile
// and may be absent; callers that need them report it through RequireCredentials.
func LoadEnv(credentialsFile string) (*Env, error) {
	env := &Env{
		GitHubToken:    os.Getenv(EnvGitHubToken),
		CompletionFile: os.Getenv(EnvGitHubOutput),
		LogLevel:       GetEnv(EnvLogLevel, "debug"),
		LogFormat:      GetEnv(EnvLogFormat, "workflow"),
	}

	if s := os.Getenv(EnvGoogleCredentials); s != "" {
		env.GoogleCredentials = []byte(s)
		return env, nil
	}
	if credentialsFile == "" {
		credentialsFile = DefaultCredentialsFile
	}
	data, err := os.ReadFile(credentialsFile)
	switch {
	case err == nil:
		env.GoogleCredentials = data
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, &Error{What: "read " + credentialsFile, Err: err}
	}
	return env, nil
}

// RequireCredentials fails when no storage credentials were resolved.
func (e *Env) RequireCredentials() error {
	if len(e.GoogleCredentials) == 0 {
		return &Error{
			What: "google credentials",
			Err:  fmt.Errorf("set %s or provide %s", EnvGoogleCredentials, DefaultCredentialsFile),
		}
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
