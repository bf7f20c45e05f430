package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.FileStore) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "leads.json"), nil)
	return New(st, nil), st
}

func TestCreateDeleteScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, lead.Lead{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.ID)

	b, err := svc.Create(ctx, lead.Lead{Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, b.ID)

	removed, err := svc.Delete(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", removed.Name)

	leads := svc.List(ctx)
	require.Len(t, leads, 1)
	assert.Equal(t, 2, leads[0].ID)
	assert.Equal(t, "B", leads[0].Name)
}

func TestCreateIgnoresPayloadID(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), lead.Lead{ID: 42, Name: "A", Company: "acme  corp"})
	require.NoError(t, err)

	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "Acme Corp", created.Company)
	assert.Equal(t, []string{}, created.Emails)
}

func TestCreateRejectsEmptyPayload(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.Create(context.Background(), lead.Lead{ID: 3})

	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, statErr := os.Stat(st.Path())
	assert.True(t, os.IsNotExist(statErr), "nothing is written on invalid input")
}

func TestGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "A"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	_, err = svc.Get(ctx, 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "A", Title: "CEO"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, 1, lead.Lead{ID: 7, Name: "A2", Email: "a@x.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, updated.ID)
	assert.Equal(t, "A2", updated.Name)
	assert.Equal(t, "", updated.Title, "update replaces the whole record")
	assert.Equal(t, []string{"a@x.com"}, updated.Emails)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestUpdateErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, 5, lead.Lead{Name: "X"})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.Update(ctx, 5, lead.Lead{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDeleteNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Delete(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNormalizeAll(t *testing.T) {
	svc, st := newTestService(t)
	require.NoError(t, st.Save([]lead.Lead{
		{ID: 1, Company: " acme  inc ", Email: "a@x.com"},
		{ID: 2, Name: "B"},
	}))

	count, err := svc.NormalizeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	leads := st.Load()
	assert.Equal(t, "Acme Inc", leads[0].Company)
	assert.Equal(t, []string{"a@x.com"}, leads[0].Emails)
	assert.Equal(t, []string{}, leads[1].Emails)
}

func TestDedupeAll(t *testing.T) {
	svc, st := newTestService(t)
	require.NoError(t, st.Save([]lead.Lead{
		{ID: 3, Name: "First", Email: "x@y.com"},
		{ID: 8, Name: "Second", Email: "x@y.com"},
		{ID: 9, Name: "NoKeys"},
	}))

	count, err := svc.DedupeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	leads := st.Load()
	require.Len(t, leads, 1)
	assert.Equal(t, 1, leads[0].ID)
	assert.Equal(t, "Second", leads[0].Name)
}

func TestMergeOverwritesBySourceURL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	url := "https://www.linkedin.com/in/jane"

	first, err := svc.Merge(ctx, lead.Lead{Name: "Jane", Title: "Engineer", SourceURL: url}, lead.OverwriteNonEmpty)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)

	second, err := svc.Merge(ctx, lead.Lead{Title: "CTO", Company: "acme", SourceURL: url}, lead.OverwriteNonEmpty)
	require.NoError(t, err)

	assert.Equal(t, 1, second.ID)
	assert.Equal(t, "Jane", second.Name)
	assert.Equal(t, "CTO", second.Title)
	assert.Equal(t, "Acme", second.Company)
	assert.Equal(t, 1, svc.Count(ctx))
}

func TestMergeFillEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	url := "https://example.com"

	_, err := svc.Merge(ctx, lead.Lead{Name: "Site", SourceURL: url}, lead.FillEmpty)
	require.NoError(t, err)

	merged, err := svc.Merge(ctx, lead.Lead{Name: "Other", Company: "example.com", SourceURL: url}, lead.FillEmpty)
	require.NoError(t, err)

	assert.Equal(t, "Site", merged.Name)
	assert.Equal(t, "Example.com", merged.Company)
}

func TestMergeWithoutSourceURLAppends(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Merge(ctx, lead.Lead{Name: "A"}, lead.FillEmpty)
	require.NoError(t, err)
	_, err = svc.Merge(ctx, lead.Lead{Name: "A"}, lead.FillEmpty)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Count(ctx))

	_, err = svc.Merge(ctx, lead.Lead{}, lead.FillEmpty)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestAppendAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "Existing"})
	require.NoError(t, err)

	added, err := svc.AppendAll(ctx, []lead.Lead{
		{Name: "P1", Email: "p1@x.com"},
		{},
		{Name: "P2"},
	})
	require.NoError(t, err)

	require.Len(t, added, 2)
	assert.Equal(t, 2, added[0].ID)
	assert.Equal(t, 3, added[1].ID)
	assert.Equal(t, []string{"p1@x.com"}, added[0].Emails)
	assert.Equal(t, 3, svc.Count(ctx))
}

func TestApplyEnrichment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "Jane Doe", Company: "Acme"})
	require.NoError(t, err)

	snapshot := append(svc.List(ctx), lead.Lead{ID: 42, Name: "Ghost"})
	enriched := lead.CloneAll(snapshot)
	enriched[0].Email = "jane@acme.com"
	enriched[0].EmailValid = lead.Bool(true)
	enriched[0].EmailScore = lead.Float(88)
	enriched[0].EmailSource = "hunter_api"
	enriched[1].Email = "ghost@acme.com"

	n, err := svc.ApplyEnrichment(ctx, snapshot, enriched)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", got.Email)
	assert.Equal(t, []string{"jane@acme.com"}, got.Emails)
	assert.True(t, *got.EmailValid)
	assert.Equal(t, 88.0, *got.EmailScore)
}

func TestApplyEnrichmentSkipsReplacedLeads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "Alice", Company: "Alpha"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, lead.Lead{Name: "Bob", Company: "Beta"})
	require.NoError(t, err)

	snapshot := svc.List(ctx)
	enriched := lead.CloneAll(snapshot)
	enriched[1].Email = "bob@beta.com"
	enriched[1].EmailValid = lead.Bool(true)

	// Bob is replaced by Carol under the same id while enrichment runs
	_, err = svc.Delete(ctx, 2)
	require.NoError(t, err)
	carol, err := svc.Create(ctx, lead.Lead{Name: "Carol"})
	require.NoError(t, err)
	require.Equal(t, 2, carol.ID)

	n, err := svc.ApplyEnrichment(ctx, snapshot, enriched)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Carol", got.Name)
	assert.Empty(t, got.Email)
	assert.Nil(t, got.EmailValid)
}

func TestApplyEnrichmentSkipsRenumberedLeads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, lead.Lead{Name: "Nobody"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, lead.Lead{Name: "Dana", SourceURL: "https://dana.dev"})
	require.NoError(t, err)

	snapshot := svc.List(ctx)
	enriched := lead.CloneAll(snapshot)
	enriched[0].Email = "nobody@x.com"

	// Dedupe drops the first lead and renumbers Dana to id 1
	_, err = svc.DedupeAll(ctx)
	require.NoError(t, err)

	n, err := svc.ApplyEnrichment(ctx, snapshot, enriched)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Dana", got.Name)
	assert.Empty(t, got.Email)
}

func TestApplyEnrichmentLengthMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ApplyEnrichment(context.Background(), []lead.Lead{{ID: 1}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPersistenceFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	svc := New(store.New(filepath.Join(blocker, "leads.json"), nil), nil)

	_, err := svc.Create(context.Background(), lead.Lead{Name: "A"})
	assert.True(t, errors.Is(err, ErrPersistence))

	assert.Empty(t, svc.List(context.Background()))
}
