package catalog

import (
	"testing"
	"time"

	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(url, title string, current float64) models.ProductRecord {
	return models.ProductRecord{Title: title, ProductURL: url, CurrentPrice: &current}
}

func TestDedup(t *testing.T) {
	a := record("https://x.example/a", "A", 1)
	b := record("https://x.example/b", "B", 2)
	aLater := record("https://x.example/a", "A again", 3)

	tests := []struct {
		name string
		in   []models.ProductRecord
		want []string
	}{
		{"empty", nil, []string{}},
		{"no duplicates", []models.ProductRecord{a, b}, []string{"A", "B"}},
		{"first occurrence wins", []models.ProductRecord{a, b, aLater}, []string{"A", "B"}},
		{"all same", []models.ProductRecord{a, aLater, a}, []string{"A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dedup(tt.in)
			titles := make([]string, len(got))
			for i, r := range got {
				titles[i] = r.Title
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestBuildMergesResults(t *testing.T) {
	at := time.Date(2024, 11, 2, 9, 0, 0, 0, time.UTC)
	first := pagination.Result{Records: []models.ProductRecord{
		record("https://x.example/a", "A", 1),
		record("https://x.example/b", "B", 2),
	}}
	second := pagination.Result{Records: []models.ProductRecord{
		record("https://x.example/b", "B dup", 2),
		record("https://x.example/c", "C", 3),
	}}

	c := Build("bureauengros", "https://x.example/clearance", at, first, second)

	assert.Equal(t, "bureauengros", c.SourceLabel)
	assert.Equal(t, at, c.ScrapedAt)
	assert.Equal(t, 3, c.Count)
	assert.Nil(t, c.Store)
	assert.Empty(t, c.Validate())
}

func TestReplicate(t *testing.T) {
	source := Build("bureauengros", "https://x.example/clearance", time.Date(2024, 11, 2, 9, 0, 0, 0, time.UTC),
		pagination.Result{Records: []models.ProductRecord{
			record("https://x.example/a", "A", 10),
			record("https://x.example/b", "B", 20),
		}})
	stores := []models.StoreIdentity{
		models.NewStoreIdentity("19", "Saint-Jérôme", "900 Grand Boulevard"),
		models.NewStoreIdentity("42", "Laval", ""),
		models.NewStoreIdentity("7", "Montréal Centre", ""),
	}
	stamp := time.Date(2024, 11, 2, 10, 0, 0, 0, time.UTC)

	replicas := Replicate(source, stores, func() time.Time { return stamp })

	require.Len(t, replicas, 3)
	slugs := map[string]bool{}
	for i, r := range replicas {
		require.NotNil(t, r.Store)
		assert.Equal(t, stores[i].Slug, r.Store.Slug)
		assert.Equal(t, stamp, r.ScrapedAt)
		assert.Len(t, r.Records, 2)
		assert.Equal(t, source.Records, r.Records)
		slugs[r.Store.Slug] = true
	}
	assert.Len(t, slugs, 3)
	assert.Equal(t, "19-saint-jerome", replicas[0].Store.Slug)
}

func TestReplicasAreIndependent(t *testing.T) {
	source := Build("princessauto", "https://x.example", time.Now(),
		pagination.Result{Records: []models.ProductRecord{record("https://x.example/a", "A", 10)}})
	stores := []models.StoreIdentity{
		models.NewStoreIdentity("1", "One", ""),
		models.NewStoreIdentity("2", "Two", ""),
	}

	replicas := Replicate(source, stores, nil)
	require.Len(t, replicas, 2)

	*replicas[0].Records[0].CurrentPrice = 99
	replicas[0].Records[0].Title = "changed"
	replicas[0].Store.Name = "renamed"

	assert.Equal(t, 10.0, *replicas[1].Records[0].CurrentPrice)
	assert.Equal(t, "A", replicas[1].Records[0].Title)
	assert.Equal(t, 10.0, *source.Records[0].CurrentPrice)
	assert.Equal(t, "One", stores[0].Name)
	assert.Equal(t, "Two", replicas[1].Store.Name)
}

func TestReplicateNoStores(t *testing.T) {
	source := Build("rona", "https://x.example", time.Now())
	assert.Empty(t, Replicate(source, nil, nil))
	assert.Equal(t, 0, source.Count)
}
