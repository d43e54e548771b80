// Package source lists export-directory message files as jobs for the
// ingest worker pool. An export directory contains one subdirectory per
// channel, each holding one JSON file per day, named YYYY-MM-DD.json.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// FileJob references one day-file of one channel. Reading the file yields
// zero or more messages.
type FileJob struct {
	ChannelID string
	Path      string
	Day       time.Time
}

var dayFile = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.json$`)

// Scan walks dir and returns jobs for every recognizable day file, ordered
// by file name. Channel subdirectories are resolved to channel IDs through
// nameToID; unknown channels, free-channel ("FC:"-prefixed) directories,
// and files with non-standard names are skipped with a warning.
//
// A zero since keeps all files; otherwise only files dated since or later
// are returned.
func Scan(dir string, nameToID map[string]string, since time.Time, logger *zap.Logger) ([]FileJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read export directory: %w", err)
	}

	var jobs []FileJob
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) >= 3 && entry.Name()[:3] == "FC:" {
			continue
		}
		channelID, found := nameToID[entry.Name()]
		if !found {
			logger.Warn("no channel id for directory", zap.String("channel_name", entry.Name()))
			continue
		}

		channelDir := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(channelDir)
		if err != nil {
			return nil, fmt.Errorf("read channel directory %s: %w", channelDir, err)
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			m := dayFile.FindStringSubmatch(f.Name())
			if m == nil {
				logger.Warn("skipping file with non-standard name",
					zap.String("channel_id", channelID), zap.String("filename", f.Name()))
				continue
			}
			day, err := time.Parse("2006-01-02", m[1])
			if err != nil {
				logger.Warn("skipping file with invalid date",
					zap.String("channel_id", channelID), zap.String("filename", f.Name()))
				continue
			}
			if !since.IsZero() && day.Before(since) {
				continue
			}
			jobs = append(jobs, FileJob{
				ChannelID: channelID,
				Path:      filepath.Join(channelDir, f.Name()),
				Day:       day,
			})
		}
	}

	// Order by day file name so workers see files in roughly chronological
	// order; ties broken by channel for determinism.
	sort.Slice(jobs, func(i, j int) bool {
		bi, bj := filepath.Base(jobs[i].Path), filepath.Base(jobs[j].Path)
		if bi != bj {
			return bi < bj
		}
		return jobs[i].ChannelID < jobs[j].ChannelID
	})
	return jobs, nil
}
