// Package region picks the worker queue a job dispatches to, based on
// the region placement of its targeted devices. It is a pure function of
// its inputs beyond the Device/Region store reads it performs.
package region

import (
	"context"
	"sort"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// Router selects a Region for a job's target filters.
type Router struct {
	store store.Store
}

// New builds a Router over the given Job Store.
func New(s store.Store) *Router {
	return &Router{store: s}
}

// Select returns the region a job targeting customerID with filters
// should be dispatched to, or nil if no region qualifies (the caller
// falls back to the default queue). filters.Empty() always returns nil:
// an unfiltered target set has no single region preference.
func (r *Router) Select(ctx context.Context, customerID string, filters models.TargetFilters) (*models.Region, error) {
	if filters.Empty() {
		return nil, nil
	}

	devices, err := r.store.Devices(ctx, store.DeviceFilters{CustomerID: customerID, Filters: filters})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var regionIDs []string
	for _, d := range devices {
		if d.RegionID == nil || seen[*d.RegionID] {
			continue
		}
		seen[*d.RegionID] = true
		regionIDs = append(regionIDs, *d.RegionID)
	}
	if len(regionIDs) == 0 {
		return nil, nil
	}

	regions, err := r.store.Regions(ctx, regionIDs)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Region
	for _, reg := range regions {
		if reg.Available() {
			candidates = append(candidates, reg)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], nil
}
