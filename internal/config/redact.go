package config

import (
	"net/url"
	"strings"
)

const redactedValue = "***"

// Redacted returns a copy of the config safe to print: credentials are masked
// and Redis URL passwords are stripped.
func (c Config) Redacted() Config {
	out := c
	out.Providers.Gemini.APIKey = mask(c.Providers.Gemini.APIKey)
	out.Providers.Gemini.Vertex.CredentialsJSON = mask(c.Providers.Gemini.Vertex.CredentialsJSON)
	out.Providers.Stability.APIKey = mask(c.Providers.Stability.APIKey)
	out.Archive.EncryptionKey = mask(c.Archive.EncryptionKey)
	out.Archive.S3.SecretAccessKey = mask(c.Archive.S3.SecretAccessKey)
	out.Archive.S3.SessionToken = mask(c.Archive.S3.SessionToken)
	out.Redis.URL = redactURL(c.Redis.URL)
	out.Retry.QuotaMarkers = append([]string(nil), c.Retry.QuotaMarkers...)
	return out
}

func mask(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return redactedValue
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redactedValue)
	}
	return u.String()
}
