package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/atomicfile"
	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/cleanup"
	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/aatumaykin/sweepbot/internal/retry"
)

const downloadTimeout = 5 * time.Minute

// Downloader saves message media into <dir>/<YYYY-MM-DD>/<chat_id>_<message_id>_<name>.
// The date is the day the message was sent, in UTC.
type Downloader struct {
	bot    BotInterface
	dir    string
	client *http.Client
	retry  retry.Config
	logger *logger.Logger
}

// NewDownloader creates a media downloader. A nil client uses a default one.
func NewDownloader(bot BotInterface, dir string, client *http.Client, retryCfg retry.Config, log *logger.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &Downloader{
		bot:    bot,
		dir:    dir,
		client: client,
		retry:  retryCfg,
		logger: log.Component("telegram_downloader"),
	}
}

// Download fetches every media attachment of msg. Either all files are saved
// or none: files written before a failure are removed again.
func (d *Downloader) Download(ctx context.Context, msg chat.Message) ([]cleanup.DownloadedFile, error) {
	media := msg.Media()
	files := make([]cleanup.DownloadedFile, 0, len(media))

	for i, att := range media {
		file, err := d.downloadOne(ctx, msg, i, att)
		if err != nil {
			for _, f := range files {
				_ = os.Remove(f.LocalPath)
			}
			return nil, err
		}
		files = append(files, file)
	}

	return files, nil
}

func (d *Downloader) downloadOne(ctx context.Context, msg chat.Message, n int, att chat.Attachment) (cleanup.DownloadedFile, error) {
	var info *telego.File
	err := callAPI(ctx, d.retry, d.logger, msg.ChannelID, func() error {
		var err error
		info, err = d.bot.GetFile(ctx, &telego.GetFileParams{FileID: att.FileID})
		return err
	})
	if err != nil {
		return cleanup.DownloadedFile{}, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.FilePath == "" {
		return cleanup.DownloadedFile{}, fmt.Errorf("file %s has no download path", att.FileID)
	}

	var data []byte
	url := d.bot.FileDownloadURL(info.FilePath)
	err = retry.Do(ctx, d.retry, d.logger, func() error {
		var err error
		data, err = d.fetch(ctx, url)
		return err
	})
	if err != nil {
		return cleanup.DownloadedFile{}, fmt.Errorf("failed to download file: %w", err)
	}

	name := fileName(att, info.FilePath)
	// id сообщения уникален только в пределах чата
	prefix := fmt.Sprintf("%d_%d_", msg.ChannelID, msg.ID)
	if n > 0 {
		prefix = fmt.Sprintf("%d_%d_%d_", msg.ChannelID, msg.ID, n)
	}
	localPath := filepath.Join(d.dir, msg.Timestamp.UTC().Format("2006-01-02"), prefix+name)

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return cleanup.DownloadedFile{}, fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := atomicfile.WriteFile(localPath, data, 0644); err != nil {
		return cleanup.DownloadedFile{}, fmt.Errorf("failed to save file: %w", err)
	}

	d.logger.Debug("media downloaded",
		logger.Field{Key: "message_id", Value: msg.ID},
		logger.Field{Key: "path", Value: localPath},
		logger.Field{Key: "bytes", Value: len(data)})

	return cleanup.DownloadedFile{LocalPath: localPath, OriginalFilename: name}, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// fileName picks a safe local file name: the original name when Telegram
// reports one, else the base of the server-side path.
func fileName(att chat.Attachment, serverPath string) string {
	for _, candidate := range []string{att.FileName, path.Base(serverPath)} {
		name := filepath.Base(strings.ReplaceAll(candidate, "\\", "/"))
		if name != "" && name != "." && name != ".." {
			return name
		}
	}
	return string(att.Kind)
}
