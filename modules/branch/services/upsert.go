package services

import (
	"context"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

// Resolution is the resolver's answer for one record: an existing id, or
// create new when Found is false.
type Resolution struct {
	ID    int64
	Found bool
}

// UpsertEngine writes exactly one entity per call through the caller's
// session. Updates overwrite every mapped field, changed or not.
type UpsertEngine struct{}

func (UpsertEngine) UpsertBranch(ctx context.Context, w BranchWriter, res Resolution, b ingest.Branch) (int64, ingest.Outcome, error) {
	if !res.Found {
		id, err := w.InsertBranch(ctx, b)
		if err != nil {
			return 0, "", err
		}
		return id, ingest.OutcomeInserted, nil
	}
	if err := w.UpdateBranch(ctx, res.ID, b); err != nil {
		return 0, "", err
	}
	return res.ID, ingest.OutcomeUpdated, nil
}

func (UpsertEngine) UpsertPerson(ctx context.Context, w PersonWriter, res Resolution, p ingest.Person, branchID *int64) (int64, ingest.Outcome, error) {
	if !res.Found {
		id, err := w.InsertPerson(ctx, p, branchID)
		if err != nil {
			return 0, "", err
		}
		return id, ingest.OutcomeInserted, nil
	}
	if err := w.UpdatePerson(ctx, res.ID, p, branchID); err != nil {
		return 0, "", err
	}
	return res.ID, ingest.OutcomeUpdated, nil
}
