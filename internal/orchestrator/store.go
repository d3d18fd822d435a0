// Package orchestrator implements the retrieval orchestrator: register
// a Retrieval, launch every relevant harvester in parallel, and
// stream Retrieval/Harvesting/ReferenceEvent results through a channel.
package orchestrator

import (
	"context"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Store is the minimal persistence contract the orchestrator needs for its
// own rows (Retrieval, Harvesting); entity/reference persistence is owned
// by reconcile.Store and recorder.Store respectively.
type Store interface {
	CreateRetrieval(ctx context.Context, r types.Retrieval) (types.Retrieval, error)
	CreateHarvesting(ctx context.Context, h types.Harvesting) (types.Harvesting, error)
	UpdateHarvesting(ctx context.Context, h types.Harvesting) error
}
