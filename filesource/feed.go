// Package filesource feeds local files, readers and remote URLs into an
// upload session. Helpers never call Finish on the target, the producer
// decides when the byte stream ends.
package filesource

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
)

// feedBlockBytes is how much is read from a source per AddChunk call. The
// engine re-chunks internally, this value only bounds producer memory.
const feedBlockBytes = 1 << 20

// Target consumes appended blocks of bytes. *upload.Upload satisfies it.
type Target interface {
	AddChunk(data []byte) error
}

// Feed streams the file at path into target in fixed-size blocks. It
// returns the number of bytes fed and their SHA-256 checksum, useful for
// validation headers.
func Feed(target Target, path string, logger log.Logger) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Printf("Failed to close %s: %s", path, err)
		}
	}()

	hash := sha256.New()
	fed, err := feedStream(target, io.TeeReader(file, hash))
	if err != nil {
		return fed, "", fmt.Errorf("feed %s: %w", path, err)
	}

	logger.Debugf("Fed %s (%s)", path, units.HumanSizeWithPrecision(float64(fed), 3))
	return fed, hex.EncodeToString(hash.Sum(nil)), nil
}

// FeedReader streams everything from r into target and returns the number
// of bytes fed.
func FeedReader(target Target, r io.Reader) (int64, error) {
	return feedStream(target, r)
}

// FeedGlob feeds every file matching pattern under root in lexical path
// order, the way segment-file recorders lay out their output. Matching
// directories are skipped. Returns the total number of bytes fed.
func FeedGlob(target Target, root, pattern string, logger log.Logger) (int64, error) {
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("no match for pattern: %s", pattern)
	}
	sort.Strings(matches)

	var total int64
	files := 0
	for _, match := range matches {
		path := filepath.Join(root, match)
		info, err := os.Stat(path)
		if err != nil {
			return total, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		fed, _, err := Feed(target, path, logger)
		total += fed
		files++
		if err != nil {
			return total, err
		}
	}

	logger.Debugf("Fed %d files matching %s (%s)",
		files, pattern, units.HumanSizeWithPrecision(float64(total), 3))
	return total, nil
}

func feedStream(target Target, r io.Reader) (int64, error) {
	buf := make([]byte, feedBlockBytes)
	var fed int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// AddChunk copies, the buffer can be reused for the next read
			if addErr := target.AddChunk(buf[:n]); addErr != nil {
				return fed, addErr
			}
			fed += int64(n)
		}
		if err == io.EOF {
			return fed, nil
		}
		if err != nil {
			return fed, err
		}
	}
}
