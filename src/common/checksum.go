package common

import "github.com/cespare/xxhash/v2"

// Checksum returns the 64-bit xxHash of data. It is used to compare serialized
// simulation states across peers, so it must not depend on the platform.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}
