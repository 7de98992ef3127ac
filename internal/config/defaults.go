package config

const (
	// DefaultPath is the config file used when --config is not given.
	DefaultPath = "./config.toml"

	defaultScheduleIntervalSeconds = 3600
	defaultPolicyDays              = 30
	defaultDownloadDir             = "./media_backups"
	defaultQueuePath               = "./backup_queue.toml"
	defaultIndexPath               = "./history.db"
	defaultCheckIntervalSeconds    = 60
	defaultMaxRetries              = 5
	defaultUploadFolder            = "/telegram-backups"
	defaultTokenPath               = "./onedrive_tokens.json"
	defaultMetricsAddr             = "127.0.0.1:9090"
)

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.ScheduleIntervalSeconds == 0 {
		c.ScheduleIntervalSeconds = defaultScheduleIntervalSeconds
	}
	if c.Retention.DefaultPolicyDays == 0 {
		c.Retention.DefaultPolicyDays = defaultPolicyDays
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Index.Path == "" {
		c.Index.Path = defaultIndexPath
	}

	if c.MediaBackup.DownloadDir == "" {
		c.MediaBackup.DownloadDir = defaultDownloadDir
	}
	if c.MediaBackup.QueuePath == "" {
		c.MediaBackup.QueuePath = defaultQueuePath
	}
	if c.MediaBackup.Worker.CheckIntervalSeconds == 0 {
		c.MediaBackup.Worker.CheckIntervalSeconds = defaultCheckIntervalSeconds
	}
	if c.MediaBackup.Worker.MaxRetries == 0 {
		c.MediaBackup.Worker.MaxRetries = defaultMaxRetries
	}

	if c.OneDrive != nil {
		if c.OneDrive.UploadFolder == "" {
			c.OneDrive.UploadFolder = defaultUploadFolder
		}
		if c.OneDrive.TokenPath == "" {
			c.OneDrive.TokenPath = defaultTokenPath
		}
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = defaultMetricsAddr
	}

	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
}
