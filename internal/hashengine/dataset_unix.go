//go:build linux

package hashengine

import "golang.org/x/sys/unix"

// allocDataset reserves size bytes via an anonymous mmap so the OS can back
// it with huge pages when requested, avoiding the GC's scan of a giant
// byte slice that make([]byte, size) would otherwise allocate on the heap.
func allocDataset(size int, hugePages bool) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	if hugePages {
		_ = unix.Madvise(b, unix.MADV_HUGEPAGE)
	}
	return b, nil
}

func freeDataset(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
