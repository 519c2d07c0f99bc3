package alert

// Config holds alert delivery settings.
// E-mail delivery is enabled only when both Postmark tokens and a recipient are set;
// alerts are always written to the log.
type Config struct {
	PostmarkServerToken  string   `env:"ALERT_POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string   `env:"ALERT_POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string   `env:"ALERT_SENDER_EMAIL" envDefault:"alerts@localhost"`
	Recipients           []string `env:"ALERT_RECIPIENTS" envSeparator:","`
	Tag                  string   `env:"ALERT_TAG" envDefault:"subscription-alert"`
}

// EmailEnabled reports whether the configuration is complete enough to send e-mail.
func (c Config) EmailEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != "" && len(c.Recipients) > 0
}
