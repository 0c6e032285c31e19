// Package provider defines the seam between this mining subsystem and the
// external full node that actually tracks chain state: block templates
// come from it, and solved blocks go back to it.
package provider

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Template is an immutable snapshot of a block template. Metadata fields
// are cheap to copy; RawBlock is reference-shared rather than cloned,
// mirroring the "reference-shared block templates" design note.
type Template struct {
	Height       uint32
	PrevHash     chainhash.Hash
	MerkleRoot   chainhash.Hash
	Version      int32
	Time         uint32
	Bits         uint32
	StateRoot    chainhash.Hash
	UTXORoot     chainhash.Hash
	PrevoutStake []byte
	Coinbase     []byte
	RawBlock     []byte
}

// BlockTemplateProvider is implemented by whatever component talks to the
// full node. JobBroker depends only on this interface, never on a
// concrete node client, so it can be driven by a test double.
type BlockTemplateProvider interface {
	CreateTemplate(ctx context.Context) (*Template, error)
	SubmitSolution(ctx context.Context, version int32, time, nonce uint32, coinbase []byte) (bool, error)
}

var ErrNoTemplate = errors.New("provider: no block template available")

// Stub is a minimal in-memory BlockTemplateProvider, useful for tests and
// for running the mining subsystem without a live node attached.
type Stub struct {
	Template *Template
	Accept   bool
}

// NewStub builds a Stub seeded with a synthetic template at height 1.
func NewStub() *Stub {
	return &Stub{
		Template: &Template{
			Height:  1,
			Version: 1,
			Bits:    0x1d00ffff,
		},
		Accept: true,
	}
}

func (s *Stub) CreateTemplate(ctx context.Context) (*Template, error) {
	if s.Template == nil {
		return nil, ErrNoTemplate
	}
	cloned := *s.Template
	return &cloned, nil
}

func (s *Stub) SubmitSolution(ctx context.Context, version int32, time, nonce uint32, coinbase []byte) (bool, error) {
	return s.Accept, nil
}
