// Package blockheader defines the block header wire format shared by the
// hash engine, sieve engine and stratum server. The wire layout itself is
// treated as an external contract; this package does not validate chain
// state, only serializes and measures proof-of-work candidates.
package blockheader

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Header mirrors the fields the mining cores need to read and write. It is
// intentionally a superset of a plain Bitcoin-style header: StateRoot and
// UTXORoot carry account-chain commitments, PrevoutStake/BlockSigDelegation
// carry proof-of-stake signalling, and Shift/Adder/GapSize are the
// Gapcoin-style prime-gap fields consumed by the sieve engine.
type Header struct {
	Version             int32
	PrevHash            chainhash.Hash
	MerkleRoot          chainhash.Hash
	Time                uint32
	Bits                uint32
	Nonce               uint32
	StateRoot           chainhash.Hash
	UTXORoot            chainhash.Hash
	PrevoutStake        []byte
	BlockSigDelegation  []byte
	Shift               uint32
	Adder               chainhash.Hash
	GapSize             uint32
}

// Serialize produces the exact byte layout hashed by the hash engine and
// verified by the sieve engine, field order matching the original node's
// SerializeBlockHeader.
func (h Header) Serialize() []byte {
	buf := make([]byte, 0, 128+len(h.PrevoutStake)+len(h.BlockSigDelegation))
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], uint32(h.Version))
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Time)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Bits)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Nonce)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.UTXORoot[:]...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(h.PrevoutStake)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, h.PrevoutStake...)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(h.BlockSigDelegation)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, h.BlockSigDelegation...)

	binary.LittleEndian.PutUint32(tmp[:], h.Shift)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.Adder[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.GapSize)
	buf = append(buf, tmp[:]...)

	return buf
}

// HeaderForPoW zeroes the Gapcoin-specific fields before hashing, matching
// CalculatePrimeCandidate in the consensus PoW check: the gap fields are the
// miner's output, not an input to the hash the gap is built from.
func (h Header) HeaderForPoW() Header {
	zeroed := h
	zeroed.Shift = 0
	zeroed.Adder = chainhash.Hash{}
	zeroed.GapSize = 0
	return zeroed
}

// HashSHA256D returns the double-SHA256 of the serialized header. The
// sieve engine does not use it: its base prime hashes HeaderForPoW() once
// with SHA-256.
func (h Header) HashSHA256D() [32]byte {
	first := sha256.Sum256(h.Serialize())
	second := sha256.Sum256(first[:])
	return second
}
