package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/sweepbot/internal/backup"
	"github.com/aatumaykin/sweepbot/internal/config"
	"github.com/aatumaykin/sweepbot/internal/logger"
)

var queueFormat string

// queueCmd groups backup queue inspection commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the media backup queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued media backups",
	Long:  `Print every entry of the backup queue as toml, json or yaml.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		queue, err := backup.Load(cfg.MediaBackup.QueuePath, logger.NewNop())
		if err != nil {
			return err
		}

		return writeQueue(cmd.OutOrStdout(), queue.All(), queueFormat)
	},
}

// queueEntry is the printed form of one backup.
type queueEntry struct {
	LocalPath        string    `toml:"local_path" json:"local_path" yaml:"local_path"`
	OriginalFilename string    `toml:"original_filename" json:"original_filename" yaml:"original_filename"`
	ChannelID        int64     `toml:"channel_id" json:"channel_id" yaml:"channel_id"`
	MessageID        int64     `toml:"message_id" json:"message_id" yaml:"message_id"`
	Timestamp        time.Time `toml:"timestamp" json:"timestamp" yaml:"timestamp"`
	RetryCount       int       `toml:"retry_count" json:"retry_count" yaml:"retry_count"`
	Status           string    `toml:"status" json:"status" yaml:"status"`
	Error            string    `toml:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
}

type queueListing struct {
	Entries []queueEntry `toml:"entries" json:"entries" yaml:"entries"`
}

func writeQueue(w io.Writer, entries []backup.PendingBackup, format string) error {
	listing := queueListing{Entries: make([]queueEntry, 0, len(entries))}
	for _, e := range entries {
		item := queueEntry{
			LocalPath:        e.LocalPath,
			OriginalFilename: e.OriginalFilename,
			ChannelID:        e.ChannelID,
			MessageID:        e.MessageID,
			Timestamp:        e.Timestamp,
			RetryCount:       e.RetryCount,
		}
		switch st := e.Status.(type) {
		case backup.Failed:
			item.Status, item.Error = "failed", st.Error
		case backup.InProgress:
			item.Status = "in_progress"
		default:
			item.Status = "pending"
		}
		listing.Entries = append(listing.Entries, item)
	}

	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(listing)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, expected toml, json or yaml", format)
	}
}

func init() {
	queueListCmd.Flags().StringVarP(&queueFormat, "format", "f", "toml", "Output format: toml, json or yaml")
	queueCmd.AddCommand(queueListCmd)
}
