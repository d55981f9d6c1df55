package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// ============================================================
// Тесты Encrypt / Decrypt
// ============================================================

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"api secret", "sk-live-4f8a2b9c1d3e5f7a"},
		{"empty string", ""},
		{"unicode", "секрет биржи"},
		{"long payload", strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, testKey)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if encrypted == tt.plaintext && tt.plaintext != "" {
				t.Error("шифротекст совпадает с открытым текстом")
			}

			decrypted, err := Decrypt(encrypted, testKey)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("round trip: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptUniqueNonce(t *testing.T) {
	first, err := Encrypt("same secret", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := Encrypt("same secret", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if first == second {
		t.Error("повторное шифрование дало тот же шифротекст, nonce не уникален")
	}
}

func TestEncryptRejectsBadKey(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := Encrypt("data", make([]byte, size)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("ключ %d байт: err = %v, want ErrInvalidKeyLength", size, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	encrypted, err := Encrypt("secret", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	otherKey := []byte("fedcba9876543210fedcba9876543210")
	if _, err := Decrypt(encrypted, otherKey); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	encrypted, err := Encrypt("secret", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(encrypted)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := Decrypt(tampered, testKey); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"not base64", "не base64!!!", ErrInvalidCiphertext},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), ErrCiphertextTooShort},
		{"empty", "", ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.input, testKey); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================
// Тесты ключей
// ============================================================

func TestGenerateKey(t *testing.T) {
	first, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(first) != KeySize {
		t.Errorf("длина ключа %d, want %d", len(first), KeySize)
	}

	second, _ := GenerateKey()
	if string(first) == string(second) {
		t.Error("два сгенерированных ключа совпали")
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(testKey); err != nil {
		t.Errorf("валидный ключ отклонён: %v", err)
	}
	if err := ValidateKey([]byte("short")); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("err = %v, want ErrInvalidKeyLength", err)
	}
}
