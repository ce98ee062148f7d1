package pkg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVaultString(t *testing.T) {
	assert.True(t, IsVaultString("$ANSIBLE_VAULT;1.1;AES256\nabcdef"))
	assert.True(t, IsVaultString("!vault |\n$ANSIBLE_VAULT;1.1;AES256\nabcdef"))
	assert.False(t, IsVaultString("regular string"))
	assert.False(t, IsVaultString(""))
}

func TestVaultRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"short secret", "hunter2"},
		{"empty plaintext", ""},
		{"block aligned", "0123456789abcdef"},
		{"multiline", "line one\nline two\n"},
		{"unicode", "пароль-sécret-密码"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := EncryptVault(tt.plaintext, "passphrase")
			require.NoError(t, err)

			parsed, err := ParseVaultString(envelope.Serialize())
			require.NoError(t, err)
			assert.Equal(t, "$ANSIBLE_VAULT", parsed.FormatID)
			assert.Equal(t, "1.1", parsed.Version)

			plaintext, err := parsed.Decrypt("passphrase")
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, plaintext)
		})
	}
}

func TestVaultDecryptIsDeterministic(t *testing.T) {
	envelope, err := EncryptVault("stable", "key")
	require.NoError(t, err)

	first, err := envelope.Decrypt("key")
	require.NoError(t, err)
	second, err := envelope.Decrypt("key")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVaultWrongPassphrase(t *testing.T) {
	envelope, err := EncryptVault("secret", "right")
	require.NoError(t, err)

	_, err = envelope.Decrypt("wrong")
	require.Error(t, err)
	vaultErr, ok := err.(*VaultError)
	require.True(t, ok, "expected a VaultError, got %T", err)
	assert.Equal(t, VaultBadPassphrase, vaultErr.Kind)
}

func TestVaultWrongPassphraseKeepsEnvelopeUsable(t *testing.T) {
	envelope, err := EncryptVault("secret", "right")
	require.NoError(t, err)

	_, err = envelope.Decrypt("wrong")
	require.Error(t, err)

	// A failed attempt leaves no state behind; the right passphrase still works.
	plaintext, err := envelope.Decrypt("right")
	require.NoError(t, err)
	assert.Equal(t, "secret", plaintext)
}

func TestVaultMalformedEnvelope(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"no header", "just some text"},
		{"header only", "$ANSIBLE_VAULT;1.1;AES256"},
		{"truncated header", "$ANSIBLE_VAULT;1.1\nabcdef"},
		{"non-hex payload", "$ANSIBLE_VAULT;1.1;AES256\nZZZZZZ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVaultString(tt.blob)
			if err == nil {
				_, err = v.Decrypt("passphrase")
			}
			require.Error(t, err)
			vaultErr, ok := err.(*VaultError)
			require.True(t, ok, "expected a VaultError, got %T", err)
			assert.Equal(t, VaultMalformed, vaultErr.Kind)
		})
	}
}

func TestVaultCorruptedCiphertext(t *testing.T) {
	envelope, err := EncryptVault("secret", "key")
	require.NoError(t, err)

	// Flip a hex digit inside the payload. Depending on where it lands this is
	// either a broken structure or an HMAC mismatch, never a silent success.
	ct := []byte(envelope.CipherText)
	if ct[len(ct)/2] == '0' {
		ct[len(ct)/2] = '1'
	} else {
		ct[len(ct)/2] = '0'
	}
	corrupted := &VaultString{FormatID: envelope.FormatID, Version: envelope.Version, CipherText: string(ct)}

	_, err = corrupted.Decrypt("key")
	require.Error(t, err)
	_, ok := err.(*VaultError)
	assert.True(t, ok, "expected a VaultError, got %T", err)
}

func TestVaultSerializeWrapsCiphertext(t *testing.T) {
	envelope, err := EncryptVault("a rather long plaintext to get several wrapped ciphertext lines out of the envelope", "key")
	require.NoError(t, err)

	lines := strings.Split(envelope.Serialize(), "\n")
	require.Greater(t, len(lines), 2)
	assert.Equal(t, "$ANSIBLE_VAULT;1.1;AES256", lines[0])
	for _, line := range lines[1:] {
		assert.LessOrEqual(t, len(line), 80)
	}
}

func TestDecryptVaultedVars(t *testing.T) {
	envelope, err := EncryptVault("db-password", "key")
	require.NoError(t, err)

	vars := map[string]interface{}{
		"plain":  "value",
		"secret": envelope.Serialize(),
		"number": 42,
	}

	out, err := DecryptVaultedVars(vars, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", out["plain"])
	assert.Equal(t, 42, out["number"])

	sv, ok := out["secret"].(SensitiveValue)
	require.True(t, ok, "vaulted value should come back wrapped in SensitiveValue")
	assert.Equal(t, "db-password", sv.Value)
	assert.Equal(t, RedactionMarker, sv.String())
}

func TestDecryptVaultedVarsMissingPassphrase(t *testing.T) {
	envelope, err := EncryptVault("secret", "key")
	require.NoError(t, err)

	_, err = DecryptVaultedVars(map[string]interface{}{"s": envelope.Serialize()}, "")
	require.Error(t, err)
	vaultErr, ok := err.(*VaultError)
	require.True(t, ok)
	assert.Equal(t, VaultBadPassphrase, vaultErr.Kind)
}

func TestDecryptVaultedVarsWithoutVaultedValues(t *testing.T) {
	vars := map[string]interface{}{"a": "b"}
	out, err := DecryptVaultedVars(vars, "")
	require.NoError(t, err)
	assert.Equal(t, "b", out["a"])
}
