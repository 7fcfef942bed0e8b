package region

import (
	"context"
	"testing"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// fakeStore is a minimal in-memory store.Store double exercising only
// the methods Router.Select calls.
type fakeStore struct {
	store.Store
	devices []*models.Device
	regions []*models.Region
}

func (f *fakeStore) Devices(ctx context.Context, filters store.DeviceFilters) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) Regions(ctx context.Context, ids []string) ([]*models.Region, error) {
	var out []*models.Region
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	for _, r := range f.regions {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestSelectReturnsNilForEmptyFilters(t *testing.T) {
	r := New(&fakeStore{})
	region, err := r.Select(context.Background(), "cust-1", models.TargetFilters{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if region != nil {
		t.Fatalf("expected nil region for empty filters, got %+v", region)
	}
}

func TestSelectPicksHighestPriorityAvailableRegion(t *testing.T) {
	s := &fakeStore{
		devices: []*models.Device{
			{ID: "d1", RegionID: strPtr("r-east")},
			{ID: "d2", RegionID: strPtr("r-west")},
		},
		regions: []*models.Region{
			{ID: "r-east", Identifier: "east", Name: "East", Priority: 5, Enabled: true, Health: models.HealthHealthy},
			{ID: "r-west", Identifier: "west", Name: "West", Priority: 10, Enabled: true, Health: models.HealthHealthy},
		},
	}
	r := New(s)
	region, err := r.Select(context.Background(), "cust-1", models.TargetFilters{Site: "dc1"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if region == nil || region.Identifier != "west" {
		t.Fatalf("expected west (higher priority), got %+v", region)
	}
}

func TestSelectSkipsOfflineRegions(t *testing.T) {
	s := &fakeStore{
		devices: []*models.Device{
			{ID: "d1", RegionID: strPtr("r-east")},
		},
		regions: []*models.Region{
			{ID: "r-east", Identifier: "east", Name: "East", Priority: 5, Enabled: true, Health: models.HealthOffline},
		},
	}
	r := New(s)
	region, err := r.Select(context.Background(), "cust-1", models.TargetFilters{Site: "dc1"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if region != nil {
		t.Fatalf("expected nil region when the only candidate is offline, got %+v", region)
	}
}

func TestSelectTieBreaksByNameAscending(t *testing.T) {
	s := &fakeStore{
		devices: []*models.Device{
			{ID: "d1", RegionID: strPtr("r-a")},
			{ID: "d2", RegionID: strPtr("r-b")},
		},
		regions: []*models.Region{
			{ID: "r-a", Identifier: "alpha", Name: "Alpha", Priority: 1, Enabled: true, Health: models.HealthHealthy},
			{ID: "r-b", Identifier: "beta", Name: "Beta", Priority: 1, Enabled: true, Health: models.HealthHealthy},
		},
	}
	r := New(s)
	region, err := r.Select(context.Background(), "cust-1", models.TargetFilters{Role: "core"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if region == nil || region.Name != "Alpha" {
		t.Fatalf("expected Alpha on a priority tie, got %+v", region)
	}
}
