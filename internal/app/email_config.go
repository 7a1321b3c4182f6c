package app

import (
	"strings"

	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// KafkaSenderConfig converts the Kafka sink settings.
func (c NotificationsConfig) KafkaSenderConfig() notifications.KafkaConfig {
	brokers := make([]string, 0, len(c.Kafka.Brokers))
	for _, broker := range c.Kafka.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return notifications.KafkaConfig{
		Brokers:  brokers,
		Topic:    strings.TrimSpace(c.Kafka.Topic),
		ClientID: strings.TrimSpace(c.Kafka.ClientID),
	}
}

// DriverName returns the normalised notification driver, defaulting to log.
func (c NotificationsConfig) DriverName() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return "log"
	}
	return driver
}
