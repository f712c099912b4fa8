// Package signature resolves the stored signature image a therapist has
// bound to their account. The workflow engine only needs to know whether a
// signature exists and where it lives; rendering it into a document is the
// generator's concern.
package signature

import (
	"context"
	"fmt"
)

// Provider reports the signature bound to an author, if any. ok is false
// when the author has no stored signature; err is reserved for lookup
// failures.
type Provider interface {
	BoundSignature(ctx context.Context, authorID string) (ref string, ok bool, err error)
}

// Source resolves a user's stored signature reference. The identity service
// satisfies this.
type Source interface {
	SignatureRef(ctx context.Context, userID string) (string, error)
}

// SourceProvider adapts a Source into a Provider.
type SourceProvider struct {
	src Source
}

// NewSourceProvider wraps src.
func NewSourceProvider(src Source) *SourceProvider {
	return &SourceProvider{src: src}
}

// BoundSignature looks up the author's stored signature reference.
func (p *SourceProvider) BoundSignature(ctx context.Context, authorID string) (string, bool, error) {
	ref, err := p.src.SignatureRef(ctx, authorID)
	if err != nil {
		return "", false, fmt.Errorf("resolving signature for %s: %w", authorID, err)
	}
	if ref == "" {
		return "", false, nil
	}
	return ref, true, nil
}

// Static is a fixed-map Provider for tests and development seeding.
type Static map[string]string

// BoundSignature returns the mapped reference, if present.
func (s Static) BoundSignature(_ context.Context, authorID string) (string, bool, error) {
	ref, ok := s[authorID]
	return ref, ok && ref != "", nil
}
