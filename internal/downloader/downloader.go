// Package downloader fetches delivered imagery products. Transfers stream
// to a temporary file and are renamed into place, so an interrupted run
// never leaves a half-written product under the final name.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"go-eodms-download/internal/helpers"
	"go-eodms-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest = errors.New("HTTP request execution error")
	ErrBadURL      = errors.New("malformed download URL")
)

// FileSource serves delivered products. HeadFile reports the remote size
// without a transfer; OpenFile begins one.
type FileSource interface {
	HeadFile(ctx context.Context, url string) (int64, error)
	OpenFile(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Downloader streams products from a FileSource into a destination directory.
type Downloader struct {
	source FileSource
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(source FileSource) *Downloader {
	return &Downloader{source: source}
}

// destinationName derives the local filename from the URL path.
func destinationName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBadURL, rawURL, err)
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: %s has no file component", ErrBadURL, rawURL)
	}
	return name, nil
}

// Fetch downloads one product URL into destDir and returns the {url, local
// destination} pair. Guard: when a local file already exists whose size
// equals the remote content-length, no transfer is issued and skipped is
// true. A local file of any other size is treated as stale, deleted, and
// re-downloaded.
func (d *Downloader) Fetch(ctx context.Context, rawURL string, destDir string) (models.DownloadPath, bool, error) {
	var result models.DownloadPath

	name, err := destinationName(rawURL)
	if err != nil {
		return result, false, err
	}
	destPath := filepath.Join(destDir, name)
	result = models.DownloadPath{URL: rawURL, LocalDestination: destPath}

	remoteSize, err := d.source.HeadFile(ctx, rawURL)
	if err != nil {
		return result, false, fmt.Errorf("%w: HEAD %s: %v", ErrHttpRequest, rawURL, err)
	}

	if helpers.FileSizeMatches(destPath, remoteSize) {
		log.Infof("File %s already exists with matching size (%s), skipping download",
			destPath, helpers.BytesToSize(uint64(remoteSize)))
		return result, true, nil
	}

	if _, statErr := os.Stat(destPath); statErr == nil {
		log.Warnf("Removing stale file %s (size differs from remote)", destPath)
		if err := os.Remove(destPath); err != nil {
			return result, false, fmt.Errorf("%w: removing stale file %s: %v", ErrFileSystem, destPath, err)
		}
	}

	if !helpers.CheckAndMakeDir(destDir) {
		return result, false, fmt.Errorf("%w: failed to create destination directory %s", ErrFileSystem, destDir)
	}

	body, size, err := d.source.OpenFile(ctx, rawURL)
	if err != nil {
		return result, false, fmt.Errorf("%w: GET %s: %v", ErrHttpRequest, rawURL, err)
	}
	defer body.Close()

	tempFile, err := os.CreateTemp(destDir, name+".*.tmp")
	if err != nil {
		return result, false, fmt.Errorf("%w: creating temporary file in %s: %v", ErrFileSystem, destDir, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			log.Debugf("Cleaning up temporary file via defer: %s", tempFile.Name())
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s during defer cleanup", tempFile.Name())
			}
		}
	}()

	counter := &helpers.CounterWriter{Writer: tempFile}

	log.Infof("Downloading %s to %s (Size: %s)...", rawURL, destPath, helpers.BytesToSize(uint64(size)))
	if _, err = io.Copy(counter, body); err != nil {
		tempFile.Close()
		// io.Copy fails either writing the temp file or reading the body;
		// only local write failures are filesystem errors.
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return result, false, fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
		}
		return result, false, fmt.Errorf("%w: reading download body for %s: %v", ErrHttpRequest, rawURL, err)
	}

	if err := tempFile.Close(); err != nil {
		return result, false, fmt.Errorf("%w: closing temp file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	if err = os.Rename(tempFile.Name(), destPath); err != nil {
		return result, false, fmt.Errorf("%w: renaming temporary file %s to %s: %v", ErrFileSystem, tempFile.Name(), destPath, err)
	}
	shouldCleanupTemp = false

	log.Infof("Successfully downloaded %s (%s)", destPath, helpers.BytesToSize(counter.Total))
	return result, false, nil
}
