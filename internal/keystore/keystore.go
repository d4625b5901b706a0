// Package keystore loads the gatekeeper's signing keypair from disk. It
// adapts the caching idiom of the teacher's internal/tee/appkey.go (a
// sync.Once-guarded fetch with a mock override for tests) to the gatekeeper
// domain's actual key source: a file path, matching the original's
// read_keypair(path) rather than a TEE/gRPC round trip — the gatekeeper
// CLI takes `--keypair PATH` directly (§6), so there is no daemon to call.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

var (
	once      sync.Once
	cachedKey *ledger.Keypair
	cachedErr error
	cachedFor string
)

// Load reads and caches the ed25519 keypair stored at path. The file holds
// the keypair in the same wire form solana-keygen writes: a JSON array of
// the 64-byte expanded secret key (32-byte seed followed by the 32-byte
// public key). Errors are not cached, so a transient failure (e.g. the
// file not yet written by an init container) can be retried.
func Load(path string) (*ledger.Keypair, error) {
	once.Do(func() {
		cachedKey, cachedErr = fetch(path)
		cachedFor = path
	})
	if cachedErr != nil {
		// Reset outside Do (resetting inside it breaks Do's own unlock) so
		// the next call fetches again.
		err := cachedErr
		once = sync.Once{}
		return nil, err
	}
	if cachedFor != path {
		// A different path was requested than the one cached; re-fetch
		// rather than silently return the wrong identity.
		return fetch(path)
	}
	return cachedKey, cachedErr
}

func fetch(path string) (*ledger.Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	var bytes []int
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
	}
	if len(bytes) != ledger.SignatureSize {
		return nil, fmt.Errorf("keystore: %s must contain a %d-byte keypair, got %d", path, ledger.SignatureSize, len(bytes))
	}

	secret := make([]byte, len(bytes))
	for i, b := range bytes {
		if b < 0 || b > 255 {
			return nil, fmt.Errorf("keystore: %s contains an out-of-range byte %d", path, b)
		}
		secret[i] = byte(b)
	}

	return ledger.KeypairFromSecret(secret)
}
