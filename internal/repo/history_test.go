package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

type runStore interface {
	Append(ctx context.Context, rec models.RunRecord) error
	Query(ctx context.Context, f models.RunFilter) ([]models.RunRecord, error)
	Close() error
}

func historyStores(t *testing.T) map[string]runStore {
	t.Helper()
	sqlite, err := OpenSQLiteHistory(context.Background(), ":memory:")
	require.NoError(t, err)
	return map[string]runStore{
		"sqlite": sqlite,
		"memory": NewMemoryHistory(),
	}
}

func TestHistoryAppendAndQuery(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range historyStores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			records := []models.RunRecord{
				{RunID: "r1", Fingerprint: "fp-a", Question: "q", Service: "payment-api", Status: models.RunComplete, ConfidenceScore: 0.4, ConfidenceTier: models.TierMedium, MissingSignals: []string{"metrics"}, Candidates: []string{"DB pool exhaustion"}, Attempt: 1, StartedAt: base, CompletedAt: base.Add(time.Second)},
				{RunID: "r2", Fingerprint: "fp-a", Question: "q", Service: "payment-api", Status: models.RunComplete, ConfidenceScore: 0.7, Attempt: 2, StartedAt: base.Add(time.Hour), CompletedAt: base.Add(time.Hour)},
				{RunID: "r3", Fingerprint: "fp-b", Question: "other", Service: "checkout", Status: models.RunFailed, Error: "scope", Attempt: 1, StartedAt: base.Add(2 * time.Hour), CompletedAt: base.Add(2 * time.Hour)},
			}
			for _, rec := range records {
				require.NoError(t, store.Append(ctx, rec))
			}
			assert.Error(t, store.Append(ctx, records[0]))

			got, err := store.Query(ctx, models.RunFilter{Fingerprint: "fp-a"})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "r2", got[0].RunID)
			assert.Equal(t, "r1", got[1].RunID)
			assert.Equal(t, []string{"metrics"}, got[1].MissingSignals)
			assert.Equal(t, []string{"DB pool exhaustion"}, got[1].Candidates)
			assert.True(t, got[1].StartedAt.Equal(base))

			got, err = store.Query(ctx, models.RunFilter{Since: base.Add(30 * time.Minute), Limit: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "r3", got[0].RunID)
			assert.Equal(t, models.RunFailed, got[0].Status)

			got, err = store.Query(ctx, models.RunFilter{Service: "nope"})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}
