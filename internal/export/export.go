// Package export implements the C12-adjacent §6.4 upload/export contract:
// building the batch JSON envelope from the Claim Store and handing it to
// an out-of-core-scope HTTPS uploader behind a device token. The remote
// knowledge registry itself is explicitly out of scope (spec §1); this
// package owns only the envelope and the client-side retry/backoff
// contract for talking to it.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

// Builder produces export envelopes from the Claim Store.
type Builder struct {
	store *store.Store
}

// New creates a Builder backed by st.
func New(st *store.Store) *Builder {
	return &Builder{store: st}
}

// BuildEnvelope returns the marshaled JSON envelope for sourceID, ready to
// hand to an [Uploader]. It is a thin wrapper over [store.Store.BuildExport]
// so every export path (HTTP upload, local `export` CLI) produces
// byte-identical output.
func (b *Builder) BuildEnvelope(ctx context.Context, sourceID string) ([]byte, error) {
	exp, err := b.store.BuildExport(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("export: build envelope for %s: %w", sourceID, err)
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("export: marshal envelope for %s: %w", sourceID, err)
	}
	return data, nil
}
