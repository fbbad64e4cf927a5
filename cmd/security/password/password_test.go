package password

import (
	"errors"
	"strings"
	"testing"
)

func cheapConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("Verify(match) = %v, %v", ok, err)
	}

	ok, err = cfg.Verify(h, "correct horse battery stapler")
	if err != nil || ok {
		t.Fatalf("Verify(mismatch) = %v, %v", ok, err)
	}
}

func TestVerify_RejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		ok, err := cfg.Verify(enc, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) = %v, %v; want false, ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestVerify_RefusesOversizedCost(t *testing.T) {
	t.Parallel()

	strong := cheapConfig()
	strong.Params.Iterations = 10
	h, err := strong.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	weak := cheapConfig()
	if _, err := weak.Verify(h, "correct horse battery staple"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()

	old := cheapConfig()
	h, err := old.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if old.NeedsRehash(h) {
		t.Fatalf("same params should not need rehash")
	}

	upgraded := cheapConfig()
	upgraded.Params.Iterations = 2
	if !upgraded.NeedsRehash(h) {
		t.Fatalf("expected rehash after raising iterations")
	}
	if !upgraded.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should need rehash")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 20

	cases := []struct {
		in   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{strings.Repeat("ab", 11), ErrPasswordTooLong},
		{"password", ErrWeakPassword},
		{"aaaaaaaaaa", ErrWeakPassword},
		{"12345678901", ErrWeakPassword},
		{"blue-kettle-42", nil},
		{"пароль-надёжный", nil},
	}
	for _, tc := range cases {
		if got := cfg.Validate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVerifyDummy_DoesNotPanic(t *testing.T) {
	t.Parallel()

	cheapConfig().VerifyDummy("anything")
}
