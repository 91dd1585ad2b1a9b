package config

import "slices"

const redacted = "***"

// Redacted returns a copy of c with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Store.Postgres.DSN)
	redact(&out.Store.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Auth.OperatorKey)
	redact(&out.Auth.OperatorPassphrase)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are cloned so the copy cannot alias the original.
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Auth.Operators = slices.Clone(c.Auth.Operators)
	out.Notify.Events = slices.Clone(c.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
