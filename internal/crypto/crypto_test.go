package icrypto

import (
	"bytes"
	"testing"
)

func TestAADRecord(t *testing.T) {
	aad1 := AADRecord("www.example.com", "material", "current", 1)
	aad2 := AADRecord("www.example.com", "material", "current", 1)
	if !bytes.Equal(aad1, aad2) {
		t.Error("AADRecord should be deterministic")
	}

	variants := [][]byte{
		AADRecord("api.example.com", "material", "current", 1),
		AADRecord("www.example.com", "history", "current", 1),
		AADRecord("www.example.com", "material", "run-1", 1),
		AADRecord("www.example.com", "material", "current", 2),
		// Length prefixes keep shifted boundaries apart.
		AADRecord("www.example.commaterial", "", "current", 1),
	}
	for i, v := range variants {
		if bytes.Equal(aad1, v) {
			t.Errorf("variant %d should produce a different AAD", i)
		}
	}
}

func TestDeriveRecordKey(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)
	aad := AADRecord("www.example.com", "material", "current", 1)

	k1, err := DeriveRecordKey(master, aad)
	if err != nil {
		t.Fatalf("DeriveRecordKey failed: %v", err)
	}
	k2, _ := DeriveRecordKey(master, aad)
	if !bytes.Equal(k1, k2) || len(k1) != 32 {
		t.Error("DeriveRecordKey should return a stable 32 byte key")
	}

	k3, _ := DeriveRecordKey(master, AADRecord("www.example.com", "history", "run-1", 1))
	if bytes.Equal(k1, k3) {
		t.Error("different records must get different keys")
	}
}
