package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediscan/internal/local/localtest"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

func newRecord(id string, synced bool) *models.ScanRecord {
	return &models.ScanRecord{
		ID:               id,
		OwnerID:          "u1",
		OwnerDisplayName: "Jane Roe",
		CreatedAt:        time.UnixMilli(1_700_000_000_000).UTC(),
		Report: models.Report{
			Diagnosis:       "Benign nevus",
			Confidence:      "High",
			Findings:        []string{"symmetric", "even color"},
			Recommendations: []string{"routine follow-up"},
			Summary:         "No signs of malignancy",
			Severity:        models.SeverityLow,
		},
		ImageData: "data:image/png;base64,AAAA",
		Category:  "dermatology",
		Synced:    synced,
	}
}

func TestUpsert_InsertAndReplace(t *testing.T) {
	r := NewSQLiteRepository(localtest.OpenDB(t))
	ctx := context.Background()

	rec := newRecord("r1", false)
	require.NoError(t, r.Upsert(ctx, rec))

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.Synced = true
	rec.Report.Severity = models.SeverityHigh
	require.NoError(t, r.Upsert(ctx, rec))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Synced)
	assert.Equal(t, models.SeverityHigh, all[0].Report.Severity)
}

func TestGetByID_NotFound(t *testing.T) {
	r := NewSQLiteRepository(localtest.OpenDB(t))

	_, err := r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetPending(t *testing.T) {
	r := NewSQLiteRepository(localtest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, newRecord("a", false)))
	require.NoError(t, r.Upsert(ctx, newRecord("b", true)))
	require.NoError(t, r.Upsert(ctx, newRecord("c", false)))

	pending, err := r.GetPending(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		assert.False(t, p.Synced)
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestDelete_MissingIsNoop(t *testing.T) {
	r := NewSQLiteRepository(localtest.OpenDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, newRecord("a", true)))
	require.NoError(t, r.Delete(ctx, "nope"))
	require.NoError(t, r.Delete(ctx, "a"))

	all, err := r.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClearAndCount(t *testing.T) {
	r := NewSQLiteRepository(localtest.OpenDB(t))
	ctx := context.Background()

	total, pending, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, pending)

	require.NoError(t, r.Upsert(ctx, newRecord("a", false)))
	require.NoError(t, r.Upsert(ctx, newRecord("b", true)))

	total, pending, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, pending)

	require.NoError(t, r.Clear(ctx))
	total, _, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetAll_CorruptReport(t *testing.T) {
	db := localtest.OpenDB(t)
	r := NewSQLiteRepository(db)

	_, err := db.Exec(`INSERT INTO records (id, created_at, report) VALUES ('x', 0, '{broken')`)
	require.NoError(t, err)

	_, err = r.GetAll(context.Background())
	assert.ErrorContains(t, err, "corrupt report")
}
