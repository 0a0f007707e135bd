package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

type stubPersister struct {
	saveErr  error
	catalog  *model.Catalog
	campaign *model.CampaignAsset
	users    []model.UserRecord
	saved    int
}

func (p *stubPersister) SaveCatalog(ctx context.Context, c *model.Catalog) error {
	p.saved++
	return p.saveErr
}

func (p *stubPersister) LoadCatalog(ctx context.Context) (*model.Catalog, error) {
	return p.catalog, nil
}

func (p *stubPersister) SaveCampaign(ctx context.Context, a *model.CampaignAsset) error {
	p.saved++
	return p.saveErr
}

func (p *stubPersister) LoadCampaign(ctx context.Context) (*model.CampaignAsset, error) {
	return p.campaign, nil
}

func (p *stubPersister) ReplaceUsers(ctx context.Context, users []model.UserRecord) error {
	p.saved++
	return p.saveErr
}

func (p *stubPersister) LoadUsers(ctx context.Context) ([]model.UserRecord, error) {
	return p.users, nil
}

func makeCatalog(version string, rows int) *model.Catalog {
	c := &model.Catalog{Version: version, Columns: []string{"Part", "Version"}}
	for i := 0; i < rows; i++ {
		c.Rows = append(c.Rows, model.CatalogRow{Values: []any{fmt.Sprintf("P-%d", i), version}})
	}
	return c
}

func TestStore_EmptySnapshot(t *testing.T) {
	s := New(nil)

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.Nil(t, snap.Catalog)
	assert.Empty(t, snap.Credentials)
	assert.Nil(t, snap.Campaign)
}

func TestStore_ReplaceCredentialsWholesale(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.ReplaceCredentials(ctx, []model.UserRecord{
		{Username: "customer1"},
		{Username: "customer2"},
	}))
	require.NoError(t, s.ReplaceCredentials(ctx, []model.UserRecord{
		{Username: "customer2", AllowedIP: "1.1.1.1"},
		{Username: "customer2", AllowedIP: "2.2.2.2"},
	}))

	creds := s.Snapshot().Credentials
	_, ok := creds["customer1"]
	assert.False(t, ok)
	assert.Equal(t, "2.2.2.2", creds["customer2"].AllowedIP)
}

func TestStore_OldSnapshotUnchanged(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.ReplaceCatalog(ctx, makeCatalog("v1", 2)))
	old := s.Snapshot()

	require.NoError(t, s.ReplaceCatalog(ctx, makeCatalog("v2", 3)))
	require.NoError(t, s.ReplaceCampaign(ctx, &model.CampaignAsset{Filename: "promo.pdf"}))

	assert.Equal(t, "v1", old.Catalog.Version)
	assert.Nil(t, old.Campaign)
	assert.Equal(t, "v2", s.Snapshot().Catalog.Version)
	assert.Equal(t, "promo.pdf", s.Snapshot().Campaign.Filename)
}

func TestStore_PersistFailureKeepsPrevious(t *testing.T) {
	p := &stubPersister{}
	s := New(p)
	ctx := context.Background()

	require.NoError(t, s.ReplaceCatalog(ctx, makeCatalog("v1", 1)))

	p.saveErr = errors.New("db down")
	err := s.ReplaceCatalog(ctx, makeCatalog("v2", 1))
	require.Error(t, err)

	assert.Equal(t, "v1", s.Snapshot().Catalog.Version)
	assert.Equal(t, 2, p.saved)
}

func TestStore_Restore(t *testing.T) {
	p := &stubPersister{
		catalog:  makeCatalog("saved", 1),
		campaign: &model.CampaignAsset{Filename: "promo.pdf"},
		users:    []model.UserRecord{{Username: "customer1"}},
	}
	s := New(p)

	require.NoError(t, s.Restore(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, "saved", snap.Catalog.Version)
	assert.Equal(t, "promo.pdf", snap.Campaign.Filename)
	assert.Contains(t, snap.Credentials, "customer1")
}

// Поиск, идущий во время загрузки, видит либо старый, либо новый каталог целиком.
func TestStore_ConcurrentReplaceSnapshotConsistency(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.ReplaceCatalog(ctx, makeCatalog("old", 10000)))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = s.ReplaceCatalog(ctx, makeCatalog(fmt.Sprintf("new-%d", i), 10000))
		}
	}()

	errs := make(chan error, 50)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c := s.Snapshot().Catalog
			for j := 0; j < c.Len(); j++ {
				if !strings.HasSuffix(c.Text(j), c.Version) {
					errs <- fmt.Errorf("row %d of %s belongs to another upload", j, c.Version)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
