package consumer

import (
	"context"

	"github.com/dblock/sparta-social/internal/domain"
	"github.com/dblock/sparta-social/internal/materializer"
)

// MaterializeHandler feeds consumed events into the materializer. Rejected
// and ignored events resolve without error; rejection is terminal by design
// and must not stall the subscription. Only store failures propagate, which
// leaves the message uncommitted for transport-level redelivery.
type MaterializeHandler struct {
	mat *materializer.Materializer
}

// NewMaterializeHandler constructs a handler over the provided materializer.
func NewMaterializeHandler(mat *materializer.Materializer) *MaterializeHandler {
	return &MaterializeHandler{mat: mat}
}

// Handle applies the event to the local view.
func (h *MaterializeHandler) Handle(ctx context.Context, evt domain.Event) error {
	_, err := h.mat.Apply(ctx, evt)
	return err
}
