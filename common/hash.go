package common

import "hash/fnv"

type HashFunc func([]byte) uint64

func HashFnv(key []byte) uint64 {
	h := fnv.New64a()
	if _, err := h.Write(key); err != nil {
		panic(err)
	}
	return h.Sum64()
}

func DefaultHash(key []byte) uint64 {
	return HashFnv(key)
}
