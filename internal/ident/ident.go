// Package ident generates the unique identifiers used for build requests,
// notes, builds and hubs.
package ident

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// Generator produces collision-resistant ids from a monotonic counter, the
// wall clock and 256 bits of crypto/rand entropy, hashed with SHA-256.
//
// One Generator is created per process and shared by reference; it is safe
// for concurrent use.
type Generator struct {
	count atomic.Uint64
	now   func() time.Time
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Next returns a new 64 character hex id.
func (g *Generator) Next() string {
	n := g.count.Add(1)

	var entropy [32]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(entropy[:])
	randomPart := sha256.Sum256(entropy[:])

	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(n, 10)))
	h.Write([]byte(g.now().UTC().Format("2006-01-02-15-04-05.000000000")))
	h.Write([]byte(hex.EncodeToString(randomPart[:])))
	return hex.EncodeToString(h.Sum(nil))
}

// Count reports how many ids have been issued.
func (g *Generator) Count() uint64 {
	return g.count.Load()
}
