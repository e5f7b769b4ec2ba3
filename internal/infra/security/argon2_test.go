package security

import (
	"strings"
	"testing"
)

func testArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestArgon2Hasher_HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2Hasher(testArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2Hasher: %v", err)
	}

	encoded, err := hasher.Hash("Correct-Horse-9!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	ok, err := hasher.Verify("Correct-Horse-9!", encoded)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong-password", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestArgon2Hasher_SaltsDiffer(t *testing.T) {
	hasher, _ := NewArgon2Hasher(testArgon2Config())

	first, _ := hasher.Hash("same-password")
	second, _ := hasher.Hash("same-password")
	if first == second {
		t.Fatalf("expected distinct hashes for the same password")
	}
}

func TestArgon2Hasher_VerifiesHashesFromOtherParameters(t *testing.T) {
	old, _ := NewArgon2Hasher(testArgon2Config())
	encoded, _ := old.Hash("rotated-params")

	cfg := testArgon2Config()
	cfg.Iterations = 2
	current, _ := NewArgon2Hasher(cfg)

	ok, err := current.Verify("rotated-params", encoded)
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}
	if !current.NeedsRehash(encoded) {
		t.Fatalf("expected legacy hash to need rehash")
	}
	if old.NeedsRehash(encoded) {
		t.Fatalf("expected current hash not to need rehash")
	}
}

func TestArgon2Hasher_RejectsMalformedHash(t *testing.T) {
	hasher, _ := NewArgon2Hasher(testArgon2Config())

	for _, encoded := range []string{
		"plain",
		"bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
		"argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	} {
		if _, err := hasher.Verify("pw", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}

	if ok, err := hasher.Verify("", "anything"); ok || err != nil {
		t.Fatalf("expected empty password to fail closed without error")
	}
}

func TestNewArgon2Hasher_ValidatesConfig(t *testing.T) {
	cfg := testArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2Hasher(cfg); err == nil {
		t.Fatalf("expected low memory to be rejected")
	}

	if _, err := NewArgon2Hasher(DefaultArgon2Config()); err != nil {
		t.Fatalf("expected default config to be valid: %v", err)
	}
}

func TestHashToken(t *testing.T) {
	if got := HashToken("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", got)
	}
}
