package core

import (
	"MarginLedger/internal/state"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const GenesisHashSeed = "MarginLedger:genesis:v1"

// StateHasher chains a hash over every committed operation:
// hash[N] = SHA-256(hash[N-1] || sequence || digest of the images it wrote).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Restore moves the chain tip to a snapshot's hash.
func (h *StateHasher) Restore(tip [32]byte) {
	h.prevHash = tip
}

// StateDigest serializes the written images and closed account ids in id
// order. Each image is length-prefixed so adjacent images cannot collide.
func StateDigest(banks []*state.Bank, accounts []*state.MarginAccount, closed []uuid.UUID) []byte {
	var out []byte
	appendImage := func(kind byte, v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("FATAL: state digest: %v", err))
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		out = append(out, kind)
		out = append(out, lenBuf[:]...)
		out = append(out, raw...)
	}
	for _, b := range banks {
		appendImage('B', b)
	}
	for _, a := range accounts {
		appendImage('A', a)
	}
	for _, id := range closed {
		out = append(out, 'C')
		out = append(out, id[:]...)
	}
	return out
}
