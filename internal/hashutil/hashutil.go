package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// DefaultAlgo is the digest stored alongside every cached body.
const DefaultAlgo = "sha256"

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func Register(name string, factory HashFactory) {
	registry[name] = factory
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// Digest returns "<algo>:<hex>" for data.
func Digest(algo string, data []byte) (string, error) {
	h, err := GetHasher(algo)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return algo + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether digest (as produced by Digest) matches data.
func Verify(digest string, data []byte) bool {
	for i := 0; i < len(digest); i++ {
		if digest[i] == ':' {
			got, err := Digest(digest[:i], data)
			return err == nil && got == digest
		}
	}
	return false
}
