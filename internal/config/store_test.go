package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(Defaults())
	before := store.Snapshot()

	store.Update(func(cfg *Config) { cfg.Orchestrator.MaxToolSteps = 9 })

	// The earlier snapshot is untouched; new readers see the update.
	require.Equal(t, 4, before.Orchestrator.MaxToolSteps)
	require.Equal(t, 9, store.Snapshot().Orchestrator.MaxToolSteps)
}

func TestStoreConcurrentUpdates(t *testing.T) {
	store := NewStore(Defaults())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Update(func(cfg *Config) { cfg.Retrieval.DocsTopK++ })
		}()
	}
	wg.Wait()
	require.Equal(t, Defaults().Retrieval.DocsTopK+50, store.Snapshot().Retrieval.DocsTopK)
}

func TestStoreUpdateDoesNotShareSlices(t *testing.T) {
	store := NewStore(Defaults())
	before := store.Snapshot()
	store.Update(func(cfg *Config) { cfg.Safety.Blocklist[0] = "changed" })
	require.Equal(t, "hack", before.Safety.Blocklist[0])
}
