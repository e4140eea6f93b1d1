package config

// NotifxConfig configures outbound email.
type NotifxConfig struct {
	// Provider is one of console, ses, postmark.
	Provider    string `env:"NOTIFX_PROVIDER" envDefault:"console"`
	FromAddress string `env:"NOTIFX_FROM_ADDRESS" envDefault:"noreply@homestead.local"`
	FromName    string `env:"NOTIFX_FROM_NAME" envDefault:"Homestead"`
	AWSRegion   string `env:"NOTIFX_AWS_REGION" envDefault:"us-east-1"`

	PostmarkServerToken  string `env:"NOTIFX_POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"NOTIFX_POSTMARK_ACCOUNT_TOKEN"`
}
