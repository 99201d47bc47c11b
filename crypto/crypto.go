// Package crypto seals and opens the capability tokens embedded in backend
// stream URLs. A token is a small string map, JSON-serialized, encrypted with
// AES-128-CBC (PKCS7) and base64-encoded with the 16-byte IV prepended.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const keySize = 16

// minKeyLen is the shortest accepted key or IV before normalization.
const minKeyLen = 6

var (
	// ErrInvalidPadding is returned when the decrypted buffer does not end
	// in valid PKCS7 padding — the usual symptom of a wrong key.
	ErrInvalidPadding = errors.New("crypto: invalid PKCS7 padding")
	// ErrInvalidPlaintext is returned when the decrypted payload is not
	// valid UTF-8.
	ErrInvalidPlaintext = errors.New("crypto: decrypted payload is not valid UTF-8")
	// ErrMalformedCiphertext is returned when the decoded input is too short
	// or not block-aligned.
	ErrMalformedCiphertext = errors.New("crypto: ciphertext malformed")
)

// KeyLengthError reports a key or IV shorter than the 6-byte minimum.
type KeyLengthError struct {
	Len int
}

func (e *KeyLengthError) Error() string {
	return fmt.Sprintf("crypto: encipher key must be at least %d bytes, got %d", minKeyLen, e.Len)
}

// NormalizeKey turns an arbitrary key string into the 16-byte buffer AES-128
// needs: shorter inputs are right-padded with zero bytes, longer inputs are
// truncated. Inputs below 6 bytes are rejected.
func NormalizeKey(key string) ([]byte, error) {
	raw := []byte(key)
	if len(raw) < minKeyLen {
		return nil, &KeyLengthError{Len: len(raw)}
	}
	norm := make([]byte, keySize)
	copy(norm, raw)
	return norm, nil
}

// reversed returns a copy of b with the byte order flipped.
func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// Encrypt seals dict into a base64 string. The encryption IV is the reversed
// normalized key — not the iv argument, which is only validated here so both
// directions reject the same bad configuration. The IV is prepended to the
// ciphertext so the output is self-contained on the wire.
func Encrypt(dict map[string]string, key, iv string) (string, error) {
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}
	if _, err := NormalizeKey(iv); err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("crypto: serializing payload: %w", err)
	}

	block, err := aes.NewCipher(normKey)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}

	encIV := reversed(normKey)
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, encIV)
	cipher.NewCBCEncrypter(block, encIV).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a sealed base64 string back into the original dict.
//
// The whole decoded buffer — prepended IV block included — is CBC-decrypted
// with the caller's normalized iv. CBC chaining self-corrects after one
// block, so only the leading block comes out garbled; it is discarded before
// the JSON parse. This keeps decryption independent of which IV the sealing
// side actually used.
func Decrypt(encrypted, key, iv string) (map[string]string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding base64: %w", err)
	}

	normKey, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	normIV, err := NormalizeKey(iv)
	if err != nil {
		return nil, err
	}

	if len(decoded) < 2*aes.BlockSize || len(decoded)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	block, err := aes.NewCipher(normKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}

	plain := make([]byte, len(decoded))
	cipher.NewCBCDecrypter(block, normIV).CryptBlocks(plain, decoded)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	// Skip the garbled IV block.
	payload := unpadded[aes.BlockSize:]

	if !utf8.Valid(payload) {
		return nil, ErrInvalidPlaintext
	}

	var dict map[string]string
	if err := json.Unmarshal(payload, &dict); err != nil {
		return nil, fmt.Errorf("crypto: parsing payload: %w", err)
	}
	return dict, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-pad], nil
}
