package vault

import (
	"errors"
	"testing"

	"autopilot/internal/config"
	"autopilot/internal/profile"
)

func newTestVault(t *testing.T, key string) *Vault {
	t.Helper()
	v, err := New(config.VaultConfig{EncryptionKey: key})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return v
}

func TestWithDecrypted_RoundTrip(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	keyEnc, err := v.Encrypt("api-key-123")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	secretEnc, err := v.Encrypt("api-secret-456")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	p := profile.TradeProfile{UserID: 7, APIKeyEnc: keyEnc, APISecretEnc: secretEnc}

	var gotKey, gotSecret string
	err = v.WithDecrypted(p, func(creds Credentials) error {
		gotKey = string(creds.APIKey)
		gotSecret = string(creds.APISecret)
		return nil
	})
	if err != nil {
		t.Fatalf("WithDecrypted returned error: %v", err)
	}

	if gotKey != "api-key-123" || gotSecret != "api-secret-456" {
		t.Errorf("unexpected plaintext: key=%q secret=%q", gotKey, gotSecret)
	}
}

func TestWithDecrypted_ZeroesAfterCallback(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	keyEnc, _ := v.Encrypt("api-key")
	secretEnc, _ := v.Encrypt("api-secret")
	p := profile.TradeProfile{UserID: 1, APIKeyEnc: keyEnc, APISecretEnc: secretEnc}

	var leaked Credentials
	if err := v.WithDecrypted(p, func(creds Credentials) error {
		leaked = creds
		return nil
	}); err != nil {
		t.Fatalf("WithDecrypted returned error: %v", err)
	}

	for _, b := range leaked.APIKey {
		if b != 0 {
			t.Fatalf("api key bytes not zeroed after callback")
		}
	}
	for _, b := range leaked.APISecret {
		if b != 0 {
			t.Fatalf("api secret bytes not zeroed after callback")
		}
	}
}

func TestWithDecrypted_CallbackErrorPropagates(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	keyEnc, _ := v.Encrypt("k")
	secretEnc, _ := v.Encrypt("s")
	p := profile.TradeProfile{UserID: 1, APIKeyEnc: keyEnc, APISecretEnc: secretEnc}

	sentinel := errors.New("downstream failure")
	if err := v.WithDecrypted(p, func(Credentials) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestWithDecrypted_WrongKeyFails(t *testing.T) {
	writer := newTestVault(t, "key-one")
	reader := newTestVault(t, "key-two")

	keyEnc, _ := writer.Encrypt("k")
	secretEnc, _ := writer.Encrypt("s")
	p := profile.TradeProfile{UserID: 1, APIKeyEnc: keyEnc, APISecretEnc: secretEnc}

	err := reader.WithDecrypted(p, func(Credentials) error {
		t.Fatal("callback must not run on decryption failure")
		return nil
	})
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestWithDecrypted_MissingCredentials(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	err := v.WithDecrypted(profile.TradeProfile{UserID: 1}, func(Credentials) error {
		t.Fatal("callback must not run without credentials")
		return nil
	})
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestWithDecrypted_GarbageCiphertext(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	p := profile.TradeProfile{UserID: 1, APIKeyEnc: "not-base64!!", APISecretEnc: "also-bad"}
	if err := v.WithDecrypted(p, func(Credentials) error { return nil }); !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}

func TestEncrypt_ProducesUniqueCiphertexts(t *testing.T) {
	v := newTestVault(t, "unit-test-key")

	first, err := v.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	second, err := v.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	if first == second {
		t.Errorf("expected random nonce to vary ciphertext")
	}
}
