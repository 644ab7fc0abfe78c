package services

import (
	"context"
	"math/rand"
	"time"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
)

// MaintenanceService bundles the out-of-import repairs exposed over HTTP
// and the CLI. Each call runs in a transaction of its own.
type MaintenanceService struct {
	store      Store
	aggregates *AggregateService
	dedup      *DedupService
	synthetic  *SyntheticFillService
}

func NewMaintenanceService(store Store, catalog *distribution.Catalog, personKey PersonKeyMode) *MaintenanceService {
	aggregates := NewAggregateService(catalog)
	return &MaintenanceService{
		store:      store,
		aggregates: aggregates,
		dedup:      NewDedupService(store, personKey, aggregates),
		synthetic:  NewSyntheticFillService(store, catalog),
	}
}

func (s *MaintenanceService) Dedup(ctx context.Context, target DedupTarget, dryRun bool) (*DedupReport, error) {
	return s.dedup.Run(ctx, target, dryRun)
}

func (s *MaintenanceService) Recompute(ctx context.Context) (*RecomputeReport, error) {
	return s.aggregates.RecomputeAll(ctx, s.store)
}

// SyntheticFill seeds its generator from seed, or from the clock when seed
// is zero.
func (s *MaintenanceService) SyntheticFill(ctx context.Context, kind distribution.Kind, seed int64) (*SyntheticReport, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return s.synthetic.Fill(ctx, kind, rand.New(rand.NewSource(seed)))
}
