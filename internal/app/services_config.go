package app

import (
	"strings"

	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/internal/snapshot"
	"github.com/charlesng35/softcenter/internal/storage"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/mail"
)

// QueueConfig converts TasksConfig into worker pool parameters.
func (c TasksConfig) QueueConfig() tasks.Config {
	return tasks.Config{
		Workers:      c.Workers,
		MaxAttempts:  c.MaxAttempts,
		TaskTimeout:  c.TaskTimeout,
		PollInterval: c.PollInterval,
	}
}

// ServiceConfig converts SnapshotConfig into SnapshotService parameters.
func (c SnapshotConfig) ServiceConfig() services.SnapshotConfig {
	return services.SnapshotConfig{Source: c.Source}
}

// CollectorOptions returns the collector options derived from SnapshotConfig.
func (c SnapshotConfig) CollectorOptions() []snapshot.Option {
	if c.ProbeTimeout <= 0 {
		return nil
	}
	return []snapshot.Option{snapshot.WithProbeTimeout(c.ProbeTimeout)}
}

// ServiceConfig converts LedgerConfig into LedgerService parameters.
func (c LedgerConfig) ServiceConfig() services.LedgerConfig {
	return services.LedgerConfig{
		SeedPlaceholders: c.SeedPlaceholders,
		StaleUpdateAfter: c.StaleUpdateAfter,
	}
}

// S3StoreConfig converts the S3 upload settings into the storage package representation.
func (c UploadsConfig) S3StoreConfig() storage.S3Config {
	return storage.S3Config{
		Bucket:    strings.TrimSpace(c.S3.Bucket),
		Region:    strings.TrimSpace(c.S3.Region),
		Endpoint:  strings.TrimSpace(c.S3.Endpoint),
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		PublicURL: strings.TrimSpace(c.S3.PublicURL),
	}
}

// SMTPSettings converts EmailConfig for the mailer. The sender falls back to the SMTP
// username when no explicit from address is configured.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	from := strings.TrimSpace(c.SMTP.From)
	if from == "" {
		from = strings.TrimSpace(c.SMTP.Username)
	}
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: strings.TrimSpace(c.SMTP.Username),
		Password: c.SMTP.Password,
		From:     from,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}
