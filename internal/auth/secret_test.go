package auth

import "testing"

func TestGenerateSecretUnique(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct secrets")
	}
	if len(a) < 32 {
		t.Fatalf("secret too short: %d", len(a))
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("abc", "abc") {
		t.Fatalf("equal strings must compare equal")
	}
	if ConstantTimeEquals("abc", "abd") {
		t.Fatalf("different strings must not compare equal")
	}
	if ConstantTimeEquals("abc", "abcd") {
		t.Fatalf("different lengths must not compare equal")
	}
}
