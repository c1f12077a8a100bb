package archive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/scholar/internal/database"
	"github.com/rs/zerolog"
)

const (
	backupPrefix          = "backups/scholar-"
	backupSuffix          = ".db.gz"
	backupTimestampLayout = "2006-01-02-150405"
	minBackupsToKeep      = 3
)

// ErrBackupUnsupported is returned for databases that cannot be snapshotted in-process
var ErrBackupUnsupported = errors.New("database backup is only supported for sqlite")

// BackupInfo describes a stored database backup
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService uploads compressed SQLite snapshots and rotates old ones
type BackupService struct {
	db         *database.DB
	store      ObjectStore
	stagingDir string
	log        zerolog.Logger
	now        func() time.Time
}

// NewBackupService creates a new backup service. stagingDir holds the
// temporary snapshot while it is uploaded.
func NewBackupService(db *database.DB, store ObjectStore, stagingDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:         db,
		store:      store,
		stagingDir: stagingDir,
		log:        log.With().Str("service", "backup").Logger(),
		now:        time.Now,
	}
}

// CreateAndUpload snapshots the database with VACUUM INTO and uploads it gzipped
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	if s.db.Driver() != database.DriverSQLite {
		return "", ErrBackupUnsupported
	}

	start := s.now()
	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	snapshot := filepath.Join(s.stagingDir, fmt.Sprintf("snapshot-%d.db", start.UnixNano()))
	defer os.Remove(snapshot)

	quoted := strings.ReplaceAll(snapshot, "'", "''")
	if _, err := s.db.Conn().ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return "", database.StorageError("snapshot database", err)
	}

	key := backupPrefix + start.UTC().Format(backupTimestampLayout) + backupSuffix
	if err := s.uploadCompressed(ctx, key, snapshot); err != nil {
		return "", err
	}

	s.log.Info().
		Str("key", key).
		Dur("duration_ms", s.now().Sub(start)).
		Msg("Database backup uploaded")
	return key, nil
}

func (s *BackupService) uploadCompressed(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		gz := gzip.NewWriter(pw)
		_, err := io.Copy(gz, f)
		if closeErr := gz.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return s.store.Upload(ctx, key, pr, "application/gzip")
}

// ListBackups returns stored backups, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, backupSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, backupPrefix), backupSuffix)
		ts, err := time.Parse(backupTimestampLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping backup with unparseable timestamp")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than retentionDays, always keeping the
// newest three. A retention of 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("Backup rotation completed")
	return deleted, nil
}
