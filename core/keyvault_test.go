package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) *KeyVault {
	t.Helper()
	v, err := NewKeyVault("unit-test-secret")
	if err != nil {
		t.Fatalf("vault init: %v", err)
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)
	cases := []struct {
		name  string
		plain []byte
	}{
		{"Empty", []byte{}},
		{"Short", []byte("x")},
		{"BlockAligned", bytes.Repeat([]byte{0xAB}, 32)},
		{"Secret64", bytes.Repeat([]byte{0x01, 0x02}, 32)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := v.Encrypt(tc.plain)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if !strings.Contains(ct, ":") {
				t.Fatalf("ciphertext missing delimiter: %q", ct)
			}
			got, err := v.Decrypt(ct)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plain) {
				t.Fatalf("round trip mismatch: got %x want %x", got, tc.plain)
			}
		})
	}
}

func TestVaultIVFresh(t *testing.T) {
	v := newTestVault(t)
	a, _ := v.Encrypt([]byte("same plaintext"))
	b, _ := v.Encrypt([]byte("same plaintext"))
	if a == b {
		t.Fatal("two encryptions produced identical ciphertext")
	}
}

func TestVaultBadFormat(t *testing.T) {
	v := newTestVault(t)
	cases := []struct {
		name string
		in   string
	}{
		{"NoColon", "deadbeef"},
		{"BadIVHex", "zz:deadbeef"},
		{"BadBodyHex", "00112233445566778899aabbccddeeff:zz"},
		{"ShortIV", "dead:beef"},
		{"EmptyBody", "00112233445566778899aabbccddeeff:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Decrypt(tc.in); !errors.Is(err, ErrBadFormat) {
				t.Fatalf("want ErrBadFormat, got %v", err)
			}
		})
	}
}

func TestVaultTamperAndKeyMismatch(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt([]byte("hop wallet secret material"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Flip a bit in the last ciphertext block so the padding check fails.
	tampered := []byte(ct)
	last := tampered[len(tampered)-1]
	if last == 'f' {
		tampered[len(tampered)-1] = '0'
	} else {
		tampered[len(tampered)-1] = 'f'
	}
	if got, err := v.Decrypt(string(tampered)); err == nil {
		// CBC garbles the tail block; surviving the padding check with the
		// original plaintext intact is impossible.
		if bytes.Equal(got, []byte("hop wallet secret material")) {
			t.Fatal("tampered ciphertext decrypted to original plaintext")
		}
	} else if !errors.Is(err, ErrBadKey) {
		t.Fatalf("tampered ciphertext: want ErrBadKey, got %v", err)
	}

	// Same ciphertext under a rotated secret must not decrypt.
	rotated, err := NewKeyVault("rotated-secret")
	if err != nil {
		t.Fatalf("vault init: %v", err)
	}
	if got, err := rotated.Decrypt(ct); err == nil {
		if bytes.Equal(got, []byte("hop wallet secret material")) {
			t.Fatal("rotated key decrypted to original plaintext")
		}
	} else if !errors.Is(err, ErrBadKey) {
		t.Fatalf("rotated key: want ErrBadKey, got %v", err)
	}
}

func TestVaultRejectsEmptySecret(t *testing.T) {
	if _, err := NewKeyVault(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
