package uploads

import (
	"context"
	"fmt"

	"github.com/defra/pafs-backend/uploadstore"
)

// ListReadyForReference returns every ready upload carrying reference, most
// recently completed first. Used by a caller (e.g. a project record page)
// that wants the current downloadable set for a reference without walking
// and filtering the reference's full upload history itself.
func (e *Engine) ListReadyForReference(ctx context.Context, reference string) ([]*uploadstore.Record, error) {
	recs, err := e.store.ListReadyForReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("uploads: listing ready uploads for reference %q: %w", reference, err)
	}
	return recs, nil
}
