package jobbroker

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/The-Mining-Game/WATTx/internal/provider"
)

func sampleTemplate() *provider.Template {
	t := &provider.Template{
		Height:  123,
		Version: 7,
		Time:    1700000000,
		Bits:    0x1d00ffff,
	}
	t.PrevHash[0] = 0xaa
	t.MerkleRoot[0] = 0xbb
	return t
}

func TestBuildBlobLayout(t *testing.T) {
	tmpl := sampleTemplate()
	blob := buildBlob(tmpl)

	if len(blob) != blobSize {
		t.Fatalf("blob length = %d, want %d", len(blob), blobSize)
	}
	if blob[0] != 0xaa {
		t.Fatal("bytes 0-31 must be prev_hash")
	}

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(tmpl.Version))
	for i := 0; i < 3; i++ {
		if blob[32+i] != verBuf[i] {
			t.Fatalf("byte %d = %x, want version LE byte %x", 32+i, blob[32+i], verBuf[i])
		}
	}

	var timeBuf [4]byte
	binary.LittleEndian.PutUint32(timeBuf[:], tmpl.Time)
	for i := 0; i < 4; i++ {
		if blob[35+i] != timeBuf[i] {
			t.Fatalf("byte %d = %x, want time LE byte %x", 35+i, blob[35+i], timeBuf[i])
		}
	}

	for i := 39; i <= 42; i++ {
		if blob[i] != 0 {
			t.Fatalf("byte %d must be the zero nonce placeholder, got %x", i, blob[i])
		}
	}

	if blob[43] != 0xbb {
		t.Fatal("byte 43 must start the merkle_root")
	}

	if blob[75] != byte(tmpl.Bits) {
		t.Fatalf("byte 75 = %x, want low byte of bits %x", blob[75], byte(tmpl.Bits))
	}
}

func TestSeedHashIsPrevHash(t *testing.T) {
	tmpl := sampleTemplate()
	if seedHash(tmpl) != tmpl.PrevHash {
		t.Fatal("seedHash must equal the template's prev_hash")
	}
}

func TestNextJobIDDeterministicAndUnique(t *testing.T) {
	now := time.Unix(1700000000, 0)

	a := nextJobID(1, now)
	b := nextJobID(1, now)
	if a != b {
		t.Fatal("nextJobID must be deterministic for identical inputs")
	}

	c := nextJobID(2, now)
	if a == c {
		t.Fatal("different counters must produce different job ids")
	}

	later := nextJobID(1, now.Add(time.Second))
	if a == later {
		t.Fatal("different timestamps must produce different job ids")
	}

	if len(a) != 16 {
		t.Fatalf("job id length = %d, want 16 (4-byte time + 4-byte counter, hex-encoded)", len(a))
	}
}
