package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvLoginEmail    = "CAMPAIGN_LOGIN_EMAIL"
	EnvLoginPassword = "CAMPAIGN_LOGIN_PASSWORD"
	EnvProxyURL      = "CAMPAIGN_PROXY_URL"
	EnvTelegramToken = "CAMPAIGN_TELEGRAM_TOKEN"
	EnvDebugToken    = "CAMPAIGN_DEBUG_TOKEN"
)

var ErrMissingCredential = errors.New("missing required credentials")

// Credentials are secrets that never live in the config file.
type Credentials struct {
	Email         string
	Password      string
	ProxyURL      string
	TelegramToken string
	DebugToken    string
}

// LoadCredentials reads credentials from the environment, after loading
// envFile (if it exists). Existing environment variables are not overridden.
//
// needTelegram makes CAMPAIGN_TELEGRAM_TOKEN required.
func LoadCredentials(envFile string, needTelegram bool) (Credentials, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	c := Credentials{
		Email:         strings.TrimSpace(os.Getenv(EnvLoginEmail)),
		Password:      os.Getenv(EnvLoginPassword),
		ProxyURL:      strings.TrimSpace(os.Getenv(EnvProxyURL)),
		TelegramToken: strings.TrimSpace(os.Getenv(EnvTelegramToken)),
		DebugToken:    strings.TrimSpace(os.Getenv(EnvDebugToken)),
	}

	var missing []string
	if c.Email == "" {
		missing = append(missing, EnvLoginEmail)
	}
	if c.Password == "" {
		missing = append(missing, EnvLoginPassword)
	}
	if needTelegram && c.TelegramToken == "" {
		missing = append(missing, EnvTelegramToken)
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return Credentials{}, fmt.Errorf("%s: %w", EnvProxyURL, err)
		}
	}
	return c, nil
}

// RedactedProxy returns the proxy address without userinfo, or "" when no
// proxy is configured.
func (c Credentials) RedactedProxy() string {
	if c.ProxyURL == "" {
		return ""
	}
	u, err := url.Parse(c.ProxyURL)
	if err != nil {
		return "<invalid>"
	}
	u.User = nil
	return u.String()
}
