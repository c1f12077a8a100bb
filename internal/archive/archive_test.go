package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/scholar/internal/modules/rating"
	testutil "github.com/aristath/scholar/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.HasPrefix(key, m.failOn) {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func sampleRating() *rating.Rating {
	academic := 80.0
	return &rating.Rating{
		ID:             "rating-1",
		TeacherID:      "teacher-1",
		InstitutionID:  "school-1",
		AcademicYearID: "y2",
		OverallScore:   72.5,
		GrowthBonus:    5,
		Components:     rating.ComponentScores{Academic: &academic},
		YearlyBreakdown: map[string]rating.YearBreakdown{
			"2024-2025": {Label: "2024-2025", YearScore: 67.5, YearWeight: 1, HasData: true},
		},
		Status:     rating.StatusPublished,
		ComputedAt: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRatingArchiver_UploadsMsgpackSnapshot(t *testing.T) {
	store := newMemoryStore()
	archiver := NewRatingArchiver(store, zerolog.Nop())
	archiver.now = func() time.Time { return time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC) }

	r := sampleRating()
	require.NoError(t, archiver.ArchiveRating(context.Background(), r))

	key := "ratings/school-1/y2/teacher-1/rating-1.msgpack"
	assert.Equal(t, key, SnapshotKey(r))
	require.Contains(t, store.objects, key)

	snap, err := DecodeSnapshot(store.objects[key])
	require.NoError(t, err)
	assert.Equal(t, snapshotFormat, snap.Format)
	assert.True(t, snap.ArchivedAt.Equal(archiver.now()))
	require.NotNil(t, snap.Rating)
	assert.Equal(t, "rating-1", snap.Rating.ID)
	assert.InDelta(t, 72.5, snap.Rating.OverallScore, 1e-9)
	require.NotNil(t, snap.Rating.Components.Academic)
	assert.Equal(t, 80.0, *snap.Rating.Components.Academic)
	assert.Nil(t, snap.Rating.Components.Olympiad)
	assert.InDelta(t, 67.5, snap.Rating.YearlyBreakdown["2024-2025"].YearScore, 1e-9)
	assert.True(t, snap.Rating.ComputedAt.Equal(r.ComputedAt))
}

func TestRatingArchiver_PropagatesUploadFailure(t *testing.T) {
	store := newMemoryStore()
	store.failOn = "ratings/"

	err := NewRatingArchiver(store, zerolog.Nop()).ArchiveRating(context.Background(), sampleRating())
	assert.Error(t, err)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), StoreConfig{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := newMemoryStore()
	svc := NewBackupService(db, store, t.TempDir(), zerolog.Nop())

	key, err := svc.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, backupPrefix))
	require.Contains(t, store.objects, key)

	gz, err := gzip.NewReader(bytes.NewReader(store.objects[key]))
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("SQLite format 3")))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, key, backups[0].Key)
}

func TestBackupService_RotateKeepsNewestThree(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)
	for _, daysAgo := range []int{1, 2, 40, 50, 60} {
		key := backupPrefix + now.AddDate(0, 0, -daysAgo).Format(backupTimestampLayout) + backupSuffix
		store.objects[key] = []byte("x")
	}
	store.objects["backups/scholar-garbage.db.gz"] = []byte("x")

	svc := NewBackupService(nil, store, t.TempDir(), zerolog.Nop())
	svc.now = func() time.Time { return now }

	deleted, err := svc.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, int64(24), backups[0].AgeHours)
	assert.True(t, backups[2].Timestamp.Equal(now.AddDate(0, 0, -40)))

	deleted, err = svc.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
