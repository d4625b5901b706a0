package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/solana-labs/solana-voib-demo/internal/ledger"
)

func writeKeypairFile(t *testing.T, kp *ledger.Keypair) string {
	t.Helper()
	ints := make([]int, len(kp.Private))
	for i, b := range kp.Private {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	want, err := ledger.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	path := writeKeypairFile(t, want)

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Pubkey != want.Pubkey {
		t.Errorf("Pubkey: got %s want %s", got.Pubkey, want.Pubkey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, []byte("[1,2,3]"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for short keypair")
	}
}
