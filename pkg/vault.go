package pkg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// VaultString is an encrypted variable envelope, compatible with the
// Ansible vault 1.1/1.2 payload format:
//
//	$ANSIBLE_VAULT;1.1;AES256
//	623133...
//
// The payload is hexlify(hexSalt + "\n" + hexHmac + "\n" + hexCipher),
// AES-256-CTR with keys derived via PBKDF2-SHA256 (10000 iterations).
type VaultString struct {
	FormatID   string
	Version    string
	VaultID    string // version 1.2 only
	CipherText string
}

const vaultHeader = "$ANSIBLE_VAULT"

// PBKDF2 derives 80 bytes: 32 cipher key, 32 HMAC key, 16 IV.
const (
	vaultKDFIterations = 10000
	vaultKeyLength     = 80
)

// IsVaultString reports whether the value looks like an encrypted envelope,
// either as a bare payload or as a "!vault |" tagged YAML scalar.
func IsVaultString(s string) bool {
	return strings.HasPrefix(s, "!vault |") || strings.HasPrefix(s, vaultHeader+";")
}

// ParseVaultString splits an envelope into its header and ciphertext.
// A structurally broken envelope yields a VaultError of kind VaultMalformed.
func ParseVaultString(blob string) (*VaultString, error) {
	if !IsVaultString(blob) {
		return nil, &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("missing %s header", vaultHeader)}
	}

	lines := strings.Split(blob, "\n")
	startLine := 0
	if strings.HasPrefix(blob, "!vault |") {
		startLine = 1
	}
	if len(lines) <= startLine {
		return nil, &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("missing header line")}
	}

	headerParts := strings.Split(strings.TrimSpace(lines[startLine]), ";")
	if len(headerParts) < 3 {
		return nil, &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("header has %d parts, want at least 3", len(headerParts))}
	}

	// The ciphertext may be wrapped over multiple lines.
	ciphertext := strings.Join(lines[startLine+1:], "")
	ciphertext = strings.ReplaceAll(ciphertext, " ", "")
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return nil, &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("empty ciphertext")}
	}

	v := &VaultString{
		FormatID:   headerParts[0],
		Version:    headerParts[1],
		CipherText: ciphertext,
	}
	if len(headerParts) > 3 {
		v.VaultID = headerParts[3]
	}
	return v, nil
}

// EncryptVault seals plaintext under the given passphrase into a fresh
// envelope. Used for fixtures and the `vault encrypt` surface; decryption is
// the contract the engine depends on.
func EncryptVault(plaintext, passphrase string) (*VaultString, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, vaultKDFIterations, vaultKeyLength, sha256.New)
	cipherKey := derived[:32]
	hmacKey := derived[32:64]
	iv := derived[64:80]

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// PKCS#7 pad to the AES block size.
	pt := []byte(plaintext)
	padLen := aes.BlockSize - (len(pt) % aes.BlockSize)
	if padLen == 0 {
		padLen = aes.BlockSize
	}
	padded := make([]byte, len(pt)+padLen)
	copy(padded, pt)
	for i := len(pt); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, padded)

	h := hmac.New(sha256.New, hmacKey)
	h.Write(ciphertext)
	digest := h.Sum(nil)

	inner := hex.EncodeToString(salt) + "\n" + hex.EncodeToString(digest) + "\n" + hex.EncodeToString(ciphertext)
	return &VaultString{
		FormatID:   vaultHeader,
		Version:    "1.1",
		CipherText: hex.EncodeToString([]byte(inner)),
	}, nil
}

// Serialize renders the envelope back into its on-disk form with the
// ciphertext wrapped at 80 columns.
func (v *VaultString) Serialize() string {
	var b strings.Builder
	b.WriteString(v.FormatID)
	b.WriteString(";")
	b.WriteString(v.Version)
	b.WriteString(";AES256")
	if v.VaultID != "" {
		b.WriteString(";")
		b.WriteString(v.VaultID)
	}
	for i := 0; i < len(v.CipherText); i += 80 {
		end := i + 80
		if end > len(v.CipherText) {
			end = len(v.CipherText)
		}
		b.WriteString("\n")
		b.WriteString(v.CipherText[i:end])
	}
	return b.String()
}

// Decrypt opens the envelope with the given passphrase. A wrong passphrase
// surfaces as an HMAC mismatch (VaultBadPassphrase); any structural problem
// in the payload is VaultMalformed. Decryption is deterministic and keeps no
// state on failure.
func (v *VaultString) Decrypt(passphrase string) (string, error) {
	outer, err := hex.DecodeString(v.CipherText)
	if err != nil {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("outer hex decode: %w", err)}
	}

	parts := strings.Split(string(outer), "\n")
	if len(parts) != 3 {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("payload has %d parts, want 3", len(parts))}
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("salt decode: %w", err)}
	}
	expectedHmac, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("hmac decode: %w", err)}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("ciphertext decode: %w", err)}
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, vaultKDFIterations, vaultKeyLength, sha256.New)
	cipherKey := derived[:32]
	hmacKey := derived[32:64]
	iv := derived[64:80]

	h := hmac.New(sha256.New, hmacKey)
	h.Write(ciphertext)
	if !hmac.Equal(h.Sum(nil), expectedHmac) {
		return "", &VaultError{Kind: VaultBadPassphrase, Err: fmt.Errorf("HMAC verification failed")}
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("create cipher: %w", err)}
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	// Strip PKCS#7 padding.
	if len(plaintext) == 0 {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("empty plaintext")}
	}
	pad := int(plaintext[len(plaintext)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plaintext) {
		return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("invalid padding")}
	}
	for i := len(plaintext) - pad; i < len(plaintext); i++ {
		if int(plaintext[i]) != pad {
			return "", &VaultError{Kind: VaultMalformed, Err: fmt.Errorf("invalid padding")}
		}
	}
	return string(plaintext[:len(plaintext)-pad]), nil
}

// DecryptVaultedVars walks a variable map and replaces any encrypted
// envelope value with its decrypted plaintext, wrapped in SensitiveValue so
// reporting redacts it. With an empty passphrase the vars are returned
// untouched; actually needing a secret then fails at render time.
func DecryptVaultedVars(vars map[string]interface{}, passphrase string) (map[string]interface{}, error) {
	if len(vars) == 0 {
		return vars, nil
	}
	out := make(map[string]interface{}, len(vars))
	for k, val := range vars {
		s, ok := val.(string)
		if !ok || !IsVaultString(s) {
			out[k] = val
			continue
		}
		if passphrase == "" {
			return nil, &VaultError{Kind: VaultBadPassphrase, Err: fmt.Errorf("variable %q is vault-encrypted but no passphrase was provided", k)}
		}
		envelope, err := ParseVaultString(s)
		if err != nil {
			return nil, err
		}
		plaintext, err := envelope.Decrypt(passphrase)
		if err != nil {
			return nil, err
		}
		out[k] = SensitiveValue{Value: plaintext}
	}
	return out, nil
}
