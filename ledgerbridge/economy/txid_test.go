package economy

import (
	"strings"
	"testing"
)

func TestNewTransactionIDFormat(t *testing.T) {
	id := NewTransactionID()
	if !strings.HasPrefix(id, "TX") {
		t.Errorf("id %q missing TX prefix", id)
	}
	for _, r := range id[2:] {
		if !strings.ContainsRune(txAlphabet, r) {
			t.Errorf("id %q contains non-base36 character %q", id, r)
		}
	}
}

func TestNewTransactionIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewTransactionID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestBase36Encode(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{35, "Z"},
		{36, "10"},
		{1295, "ZZ"},
	}
	for _, tt := range tests {
		if got := base36encode(tt.in); got != tt.want {
			t.Errorf("base36encode(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
