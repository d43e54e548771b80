package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// DirectoryStore is the upsert surface for user and channel records.
type DirectoryStore interface {
	UpsertUser(ctx context.Context, user map[string]any) error
	UpsertChannel(ctx context.Context, channel map[string]any) error
}

// LoadUsers upserts every record in a users.json export file.
// One bad record is logged and skipped; the rest of the file still loads.
func LoadUsers(ctx context.Context, st DirectoryStore, path string, logger *zap.Logger) error {
	records, err := readArray(path)
	if err != nil {
		return err
	}
	logger.Info("loading users", zap.Int("count", len(records)))
	for _, u := range records {
		if err := st.UpsertUser(ctx, u); err != nil {
			logger.Warn("failed to upsert user", zap.Error(err))
		}
	}
	return nil
}

// LoadChannels upserts every record in a channels.json export file.
func LoadChannels(ctx context.Context, st DirectoryStore, path string, logger *zap.Logger) error {
	records, err := readArray(path)
	if err != nil {
		return err
	}
	logger.Info("loading channels", zap.Int("count", len(records)))
	for _, c := range records {
		if err := st.UpsertChannel(ctx, c); err != nil {
			logger.Warn("failed to upsert channel", zap.Error(err))
		}
	}
	return nil
}

func readArray(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return records, nil
}
