package notifier

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookURL     string `envconfig:"NOTIFIER_WEBHOOK_URL" default:""`
	TimeoutSeconds int    `envconfig:"NOTIFIER_TIMEOUT_SECONDS" default:"10"`
	RetryCount     int    `envconfig:"NOTIFIER_RETRY_COUNT" default:"2"`
	QueueSize      int    `envconfig:"NOTIFIER_QUEUE_SIZE" default:"64"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
