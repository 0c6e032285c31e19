// Package jobbroker owns the current mining job and a small bounded
// history, regenerating on a timer, on explicit new-block notification,
// or right after a successful submission.
package jobbroker

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/The-Mining-Game/WATTx/internal/provider"
)

// Job is a unit of work published to miners: a payload blob and a target,
// uniquely identified by JobID.
type Job struct {
	JobID        string
	Height       uint32
	Blob         []byte  // 76-byte mining payload
	ServerTarget [4]byte // pool-friendly share target, little-endian
	SeedHash     chainhash.Hash
	Algo         string
	Template     *provider.Template // carries Bits, the consensus target read at submit time
	CreatedAt    time.Time
}

const blobSize = 76

// buildBlob lays out the 76-byte mining payload exactly per the byte
// offsets in the mining-blob layout: 0-31 prev_hash, 32-34 version LE,
// 35-38 time LE, 39-42 nonce placeholder (zero), 43-74 first 32 bytes of
// merkle_root, 75 low byte of bits.
func buildBlob(t *provider.Template) []byte {
	blob := make([]byte, blobSize)

	copy(blob[0:32], t.PrevHash[:])

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(t.Version))
	copy(blob[32:35], verBuf[:3])

	var timeBuf [4]byte
	binary.LittleEndian.PutUint32(timeBuf[:], t.Time)
	copy(blob[35:39], timeBuf[:4])

	// bytes 39-42 stay zero: nonce placeholder, filled in by the miner.

	copy(blob[43:75], t.MerkleRoot[:32])

	blob[75] = byte(t.Bits)

	return blob
}

// seedHash is a coarse epoch proxy: the previous block hash itself, per
// the job-creation rule. A more principled epoch boundary is left to a
// future revision.
func seedHash(t *provider.Template) chainhash.Hash {
	return t.PrevHash
}

func nextJobID(counter uint64, now time.Time) string {
	ts := hex.EncodeToString(uint32ToBytes(uint32(now.Unix())))
	return ts + hex.EncodeToString(uint32ToBytes(uint32(counter)))
}

func uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
