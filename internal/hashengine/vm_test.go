package hashengine

import "testing"

func TestVMFinalizeIs32Bytes(t *testing.T) {
	v := newVM(4096, 64)
	var seed [32]byte
	seed[0] = 1
	window := make([]byte, 4096)
	for i := range window {
		window[i] = byte(i)
	}

	v.init(seed, window)
	v.run()
	out := v.finalize()

	if len(out) != 32 {
		t.Fatalf("finalize must return 32 bytes, got %d", len(out))
	}
}

func TestVMDeterministicForSameSeed(t *testing.T) {
	window := make([]byte, 4096)
	for i := range window {
		window[i] = byte(i * 3)
	}
	var seed [32]byte
	seed[1] = 7

	run := func() [32]byte {
		v := newVM(4096, 64)
		v.init(seed, window)
		v.run()
		return v.finalize()
	}

	if run() != run() {
		t.Fatal("identical seed and window must produce identical output")
	}
}

func TestVMDiffersWithSeed(t *testing.T) {
	window := make([]byte, 4096)
	for i := range window {
		window[i] = byte(i)
	}

	var seedA, seedB [32]byte
	seedB[0] = 0xff

	build := func(seed [32]byte) [32]byte {
		v := newVM(4096, 64)
		v.init(seed, window)
		v.run()
		return v.finalize()
	}

	if build(seedA) == build(seedB) {
		t.Fatal("different seeds should (almost certainly) produce different output")
	}
}
