package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}

	parsed, err := guuid.Parse(id1)
	if err != nil {
		t.Fatalf("New returned an unparsable UUID %q: %v", id1, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("expected version 7, got %d", parsed.Version())
	}
	if id1 >= id2 {
		t.Errorf("expected %s to sort before %s", id1, id2)
	}
}
