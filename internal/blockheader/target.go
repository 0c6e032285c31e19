package blockheader

import (
	"encoding/binary"
	"math"
	"math/big"
	"sync"
)

// bigIntPool and bigFloatPool absorb the allocation churn of compact-bits
// and merit conversions on the hot share-validation path, the same pooling
// idiom used for nonce/target arithmetic elsewhere in this codebase.
var bigIntPool = sync.Pool{
	New: func() any { return new(big.Int) },
}

var bigFloatPool = sync.Pool{
	New: func() any { return new(big.Float) },
}

func getBigInt() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBigInt(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

func getBigFloat() *big.Float {
	return bigFloatPool.Get().(*big.Float)
}

func putBigFloat(v *big.Float) {
	v.SetPrec(256)
	v.SetInt64(0)
	bigFloatPool.Put(v)
}

// CompactToBig decodes a Bitcoin-style compact ("nBits") encoding into a
// big.Int target threshold.
func CompactToBig(bits uint32) *big.Int {
	size := bits >> 24
	word := bits & 0x007fffff

	result := new(big.Int)
	if size <= 3 {
		word >>= 8 * (3 - size)
		result.SetUint64(uint64(word))
		return result
	}

	result.SetUint64(uint64(word))
	result.Lsh(result, uint(8*(size-3)))
	return result
}

// BigToCompact encodes a big.Int threshold back into compact ("nBits") form.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	bytes := n.Bytes()
	size := uint32(len(bytes))

	var word uint32
	switch {
	case size <= 3:
		word = 0
		for i := 0; i < len(bytes); i++ {
			word |= uint32(bytes[len(bytes)-1-i]) << (8 * i)
		}
		word <<= 8 * (3 - size)
	default:
		word = uint32(bytes[0])<<16 | uint32(bytes[1])<<8 | uint32(bytes[2])
	}

	if word&0x00800000 != 0 {
		word >>= 8
		size++
	}

	return size<<24 | word
}

// DifficultyToTarget converts a human-facing difficulty value into a
// 32-byte big-endian target, mirroring the pooled big.Int/big.Float
// division used elsewhere for the same conversion against the maximum
// difficulty-1 target.
func DifficultyToTarget(maxTarget *big.Int, difficulty float64) [32]byte {
	var out [32]byte
	if difficulty <= 0 {
		copy(out[:], maxTarget.Bytes())
		return out
	}

	maxF := getBigFloat()
	diffF := getBigFloat()
	resultF := getBigFloat()
	defer putBigFloat(maxF)
	defer putBigFloat(diffF)
	defer putBigFloat(resultF)

	maxF.SetPrec(256).SetInt(maxTarget)
	diffF.SetPrec(256).SetFloat64(difficulty)
	resultF.SetPrec(256).Quo(maxF, diffF)

	resultI := getBigInt()
	defer putBigInt(resultI)
	resultF.Int(resultI)

	b := resultI.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

// PoolTargetFromDifficulty converts a pool share difficulty into the
// 4-byte little-endian target miners compare their hash against on the
// wire, mirroring the same maxTarget/difficulty division DifficultyToTarget
// performs but truncated to the compact 32-bit form pool protocols use.
func PoolTargetFromDifficulty(difficulty float64) [4]byte {
	var out [4]byte
	if difficulty <= 0 {
		out[0], out[1], out[2], out[3] = 0xff, 0xff, 0xff, 0xff
		return out
	}

	maxF := getBigFloat()
	diffF := getBigFloat()
	resultF := getBigFloat()
	defer putBigFloat(maxF)
	defer putBigFloat(diffF)
	defer putBigFloat(resultF)

	maxF.SetPrec(64).SetUint64(1 << 32)
	diffF.SetPrec(64).SetFloat64(difficulty)
	resultF.SetPrec(64).Quo(maxF, diffF)

	resultI := getBigInt()
	defer putBigInt(resultI)
	resultF.Int(resultI)

	v := resultI.Uint64()
	if v > 0xffffffff {
		v = 0xffffffff
	}
	binary.LittleEndian.PutUint32(out[:], uint32(v))
	return out
}

// MeetsTarget performs a big-endian unsigned comparison: hash <= target.
func MeetsTarget(hash, target [32]byte) bool {
	for i := 0; i < 32; i++ {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return true
}

// MeritToCompact stores merit with six decimal places of precision as an
// integer, matching the consensus encoding. Rounding rather than truncating
// keeps this the exact inverse of CompactToMerit: the division in
// CompactToMerit can drift the float by less than a unit in the last place,
// and truncation would turn that drift into an off-by-one on the encoded
// integer.
func MeritToCompact(merit float64) uint32 {
	return uint32(math.Round(merit * 1000000.0))
}

// CompactToMerit is the inverse of MeritToCompact.
func CompactToMerit(bits uint32) float64 {
	return float64(bits) / 1000000.0
}
