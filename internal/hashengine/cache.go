package hashengine

import "golang.org/x/crypto/argon2"

// argon2Derive derives size bytes of cache material from key using
// Argon2id, standing in for RandomX's memory-hard cache-fill pass: the
// salt is fixed because the key itself already carries per-epoch entropy.
func argon2Derive(key []byte, size int) []byte {
	salt := []byte("wattx-hashengine-cache-salt-v1")
	out := make([]byte, 0, size)

	for len(out) < size {
		block := argon2.IDKey(key, salt, 1, 64*1024, 1, 32)
		out = append(out, block...)
		salt = block[:16]
	}

	return out[:size]
}
