package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashBytes hashes a byte key with FNV-1a, mixed with seed
func HashBytes(b []byte, seed uint64) uint64 {
	hash := uint64(fnvOffset64) ^ seed
	for _, c := range b {
		hash ^= uint64(c)
		hash *= fnvPrime64
	}
	return hash
}

// HashString is HashBytes for string keys, without converting them
func HashString(s string, seed uint64) uint64 {
	hash := uint64(fnvOffset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return hash
}

// ShardIndex maps a hash onto one of n shards. The low bits of FNV-1a are weak,
// so the hash is shifted before reducing it.
func ShardIndex(hash uint64, n int) int {
	return int((hash >> 7) % uint64(n))
}
