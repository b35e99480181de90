package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/tokenbridge/federator/federator/constant"
)

// ErrNoKey is returned when neither a hex key nor a key file is available.
var ErrNoKey = errors.New("no signing key configured: set FEDERATOR_KEY or create the key file")

// KeyFilePath returns <home>/config/federator.key.
func KeyFilePath(home string) string {
	return filepath.Join(home, constant.ConfigSubdir, constant.KeyFileName)
}

// ParseHex parses a hex encoded secp256k1 private key, with or without 0x.
func ParseHex(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// LoadFile reads a key file written by Generate. Files readable by group or
// others are accepted with a warning. An encrypted file needs passphrase.
func LoadFile(path, passphrase string, logger zerolog.Logger) (*ecdsa.PrivateKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoKey
		}
		return nil, fmt.Errorf("failed to stat key file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("key path is a directory: %s", path)
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn().
			Str("path", path).
			Str("current_perms", info.Mode().Perm().String()).
			Msg("key file permissions are not optimal (should be 600)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if !isEncrypted(data) {
		if passphrase != "" {
			logger.Warn().Str("path", path).Msg("key file is not encrypted, passphrase ignored")
		}
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load key file: %w", err)
		}
		return key, nil
	}

	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	raw, err := unseal(data, passphrase)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key in key file: %w", err)
	}
	return key, nil
}

// Resolve returns the signing key: hexKey when set, otherwise the key file under home.
func Resolve(hexKey, home, passphrase string, logger zerolog.Logger) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(hexKey) != "" {
		return ParseHex(hexKey)
	}
	return LoadFile(KeyFilePath(home), passphrase, logger)
}

// Generate creates a new key and writes it to path with 0600 permissions,
// encrypted when passphrase is set. An existing file is never overwritten.
func Generate(path, passphrase string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if passphrase == "" {
		if err := crypto.SaveECDSA(path, key); err != nil {
			return nil, fmt.Errorf("failed to save key: %w", err)
		}
		return key, nil
	}

	sealed, err := seal(crypto.FromECDSA(key), passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}
	return key, nil
}

// Address returns the account of key.
func Address(key *ecdsa.PrivateKey) ethcommon.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
