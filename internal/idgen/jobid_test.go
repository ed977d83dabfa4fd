package idgen

import "testing"

func TestNewJobIDMatchesPattern(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := NewJobID()
		if !JobIDPattern.MatchString(id) {
			t.Fatalf("job id %q does not match pattern", id)
		}
	}
}

func TestNewHexSecretLength(t *testing.T) {
	s, err := NewHexSecret(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(s))
	}
}
