package core

// KeyVault — symmetric encryption of hop-wallet private keys.
//
// Ciphertext layout: hex(IV) ":" hex(AES-256-CBC(plaintext)). The cipher key
// is derived once at construction by scrypt over the configured secret and a
// fixed salt; the derived 32 bytes are the only long-lived key material held
// in memory.

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	vaultSalt = "solmix-wallet-vault-v1"

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// KeyVault encrypts and decrypts wallet secrets with a process-wide derived key.
type KeyVault struct {
	key [32]byte
}

// NewKeyVault derives the vault key from secret. An empty secret is refused;
// the caller normally sources it from MIXER_ENCRYPTION_SECRET.
func NewKeyVault(secret string) (*KeyVault, error) {
	if secret == "" {
		return nil, fmt.Errorf("keyvault: empty encryption secret")
	}
	derived, err := scrypt.Key([]byte(secret), []byte(vaultSalt), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("keyvault: derive key: %w", err)
	}
	v := &KeyVault{}
	copy(v.key[:], derived)
	return v, nil
}

// Encrypt seals plaintext under the vault key with a fresh random IV.
func (v *KeyVault) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It returns ErrBadFormat if
// the colon-split hex layout is absent and ErrBadKey if the recovered padding
// is invalid, i.e. the key does not match.
func (v *KeyVault) Decrypt(ciphertext string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return nil, ErrBadFormat
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: iv not hex", ErrBadFormat)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("%w: body not hex", ErrBadFormat)
	}
	if len(iv) != aes.BlockSize || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad block layout", ErrBadFormat)
	}
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, ErrBadKey
	}
	return unpadded, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("invalid pad byte %d", n)
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("inconsistent padding")
	}
	return b[:len(b)-n], nil
}

// Wipe zeroes a byte slice in-place (best-effort, the GC may still copy).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
