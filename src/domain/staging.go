package domain

import (
	"context"

	"axoncore/src/domain/entities"
)

// ViewStage is one staged write of a whole view collection. Nothing written to it is visible
// until Commit swaps it in; Abort discards it.
type ViewStage interface {
	Write(ctx context.Context, views []entities.View) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
