package testutil

import (
	"fmt"
	"testing"

	"finquery/lib/fetchcache"
	"finquery/lib/telemetry"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip opening a page cache
	WithCache bool
}

type ServiceResult struct {
	Cache *fetchcache.Store
}

// SetupService initializes telemetry for a test and, when asked,
// opens an in-memory page cache. Everything is torn down through
// t.Cleanup.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))
	t.Cleanup(cleanup)

	if !params.WithCache {
		return ServiceResult{}
	}

	store, err := fetchcache.Open(fetchcache.Config{File: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	})
	return ServiceResult{Cache: store}
}
