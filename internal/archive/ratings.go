package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aristath/scholar/internal/modules/rating"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshotFormat is bumped whenever RatingSnapshot changes incompatibly
const snapshotFormat = 1

// RatingSnapshot is the archived form of a published rating
type RatingSnapshot struct {
	Format     int            `json:"format"`
	ArchivedAt time.Time      `json:"archived_at"`
	Rating     *rating.Rating `json:"rating"`
}

// RatingArchiver writes msgpack snapshots of published ratings to object storage
type RatingArchiver struct {
	store ObjectStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewRatingArchiver creates a new rating archiver
func NewRatingArchiver(store ObjectStore, log zerolog.Logger) *RatingArchiver {
	return &RatingArchiver{
		store: store,
		log:   log.With().Str("component", "rating_archiver").Logger(),
		now:   time.Now,
	}
}

// SnapshotKey is the object key of a rating snapshot
func SnapshotKey(r *rating.Rating) string {
	return path.Join("ratings", r.InstitutionID, r.AcademicYearID, r.TeacherID, r.ID+".msgpack")
}

// ArchiveRating uploads a snapshot of r. Field names follow the JSON API.
func (a *RatingArchiver) ArchiveRating(ctx context.Context, r *rating.Rating) error {
	data, err := EncodeSnapshot(RatingSnapshot{
		Format:     snapshotFormat,
		ArchivedAt: a.now().UTC(),
		Rating:     r,
	})
	if err != nil {
		return err
	}

	key := SnapshotKey(r)
	if err := a.store.Upload(ctx, key, bytes.NewReader(data), "application/msgpack"); err != nil {
		return err
	}

	a.log.Info().Str("rating_id", r.ID).Str("key", key).Int("bytes", len(data)).Msg("Rating snapshot archived")
	return nil
}

// EncodeSnapshot serializes a snapshot with msgpack using the json field names
func EncodeSnapshot(s RatingSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode rating snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot
func DecodeSnapshot(data []byte) (*RatingSnapshot, error) {
	var s RatingSnapshot
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode rating snapshot: %w", err)
	}
	return &s, nil
}

var _ rating.SnapshotArchiver = (*RatingArchiver)(nil)
