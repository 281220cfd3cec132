// Package id generates identifiers for accounts and journal records.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewOrderID returns a ULID. IDs generated by one process are strictly
// increasing, even within the same millisecond, so sorting orders by ID
// preserves insertion order. The monotonic source re-seeds whenever the
// millisecond changes; it fails only with ulid.ErrMonotonicOverflow, after
// 2^80 ids in one millisecond.
func NewOrderID() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return id.String(), nil
}

// NewAccountID returns a random UUID.
func NewAccountID() string {
	return uuid.New().String()
}
