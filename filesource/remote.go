package filesource

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/melbahja/got"
)

// FetchRemote downloads url to a temporary file and feeds it into target,
// returning the bytes fed and their SHA-256 checksum. A nil client
// downloads with a retrying default.
func FetchRemote(ctx context.Context, target Target, url string, client *http.Client, logger log.Logger) (int64, string, error) {
	if client == nil {
		client = retryhttp.NewClient(logger).StandardClient()
	}

	tmpDir, err := pathutil.NewPathProvider().CreateTempDir("putstream-fetch")
	if err != nil {
		return 0, "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Printf("Failed to remove %s: %s", tmpDir, err)
		}
	}()
	dest := filepath.Join(tmpDir, "download")

	logger.Debugf("Downloading %s", url)
	downloader := got.New()
	downloader.Client = client
	if err := downloader.Do(got.NewDownload(ctx, url, dest)); err != nil {
		return 0, "", fmt.Errorf("download %s: %w", url, err)
	}

	return Feed(target, dest, logger)
}
