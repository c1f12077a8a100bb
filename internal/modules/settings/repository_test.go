package settings

import (
	"testing"

	testutil "github.com/aristath/scholar/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testutil.NewTestDB(t), zerolog.Nop())
}

func TestRepository_GetMissingReturnsNil(t *testing.T) {
	repo := newTestRepository(t)

	value, err := repo.Get("does_not_exist")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRepository_SetAndGet(t *testing.T) {
	repo := newTestRepository(t)

	desc := "bucket"
	require.NoError(t, repo.Set(KeyArchiveBucket, "ratings", &desc))
	require.NoError(t, repo.Set(KeyArchiveBucket, "ratings-v2", nil))

	value, err := repo.Get(KeyArchiveBucket)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "ratings-v2", *value)

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyArchiveBucket: "ratings-v2"}, all)
}

func TestRepository_GetInt(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Set("hours", "12.0", nil))
	require.NoError(t, repo.Set("empty", "", nil))
	require.NoError(t, repo.Set("garbage", "not-a-number", nil))

	i, err := repo.GetInt("hours", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, i)

	for _, key := range []string{"empty", "garbage", "missing"} {
		fallback, err := repo.GetInt(key, 7)
		require.NoError(t, err)
		assert.Equal(t, 7, fallback, key)
	}
}

func TestRepository_SeedDefaultsKeepsExistingValues(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.Set(KeyOverdueSweepSchedule, "0 0 * * * *", nil))
	require.NoError(t, repo.SeedDefaults())
	require.NoError(t, repo.SeedDefaults())

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, len(SettingDescriptions))
	assert.Equal(t, "0 0 * * * *", all[KeyOverdueSweepSchedule])
	assert.Equal(t, "", all[KeyArchiveRegion])
	assert.Equal(t, "", all[KeyApprovalDeadlineHours])
}
