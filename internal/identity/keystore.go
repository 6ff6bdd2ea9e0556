package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/models"
	"github.com/intercomswap/swapcore/internal/services/bip39service"
	"github.com/intercomswap/swapcore/internal/services/crypto"
	"github.com/intercomswap/swapcore/internal/services/storage"
)

// keystoreFile is what actually lands on disk: the Argon2id+AES-256-GCM
// envelope around the mnemonic, plus whether a BIP39 passphrase is in use
// (never the passphrase itself — that, like the unlock password, is
// supplied fresh on every Load).
type keystoreFile struct {
	Encrypted      *models.EncryptedMnemonic `json:"encrypted"`
	UsesPassphrase bool                      `json:"uses_passphrase"`
}

// ErrNoKeystore is returned by Load when cfg.Path does not exist yet.
var ErrNoKeystore = errors.New("identity: no keystore at configured path")

// Exists reports whether a keystore file is already present at cfg.Path.
func Exists(cfg Config) bool {
	_, err := os.Stat(cfg.Path)
	return err == nil
}

// Create generates a fresh mnemonic, encrypts it at rest under password,
// and returns the derived operator keypair alongside the mnemonic —
// shown to the operator exactly once, since it is never again retrievable
// except by decrypting the keystore with the same password.
func Create(cfg Config, password, bip39Passphrase string) (solana.PrivateKey, string, error) {
	b39 := bip39service.NewBIP39Service()
	mnemonic, err := b39.GenerateMnemonic(cfg.WordCount)
	if err != nil {
		return nil, "", fmt.Errorf("generate mnemonic: %w", err)
	}

	if err := persist(cfg, password, mnemonic, bip39Passphrase != ""); err != nil {
		return nil, "", err
	}

	sk, err := DeriveKeypair(mnemonic, bip39Passphrase)
	if err != nil {
		return nil, "", err
	}
	return sk, mnemonic, nil
}

func persist(cfg Config, password, mnemonic string, usesPassphrase bool) error {
	encrypted, err := crypto.EncryptMnemonic(mnemonic, password)
	if err != nil {
		return fmt.Errorf("encrypt mnemonic: %w", err)
	}
	defer crypto.ClearBytes(encrypted.Ciphertext)

	blob, err := json.MarshalIndent(keystoreFile{
		Encrypted:      encrypted,
		UsesPassphrase: usesPassphrase,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}

	if err := storage.AtomicWriteFile(cfg.Path, blob, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// Load decrypts the keystore at cfg.Path and derives the operator
// keypair. bip39Passphrase must match whatever Create was given (empty
// if none was).
func Load(cfg Config, password, bip39Passphrase string) (solana.PrivateKey, error) {
	blob, err := os.ReadFile(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoKeystore
		}
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var ks keystoreFile
	if err := json.Unmarshal(blob, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}

	mnemonic, err := crypto.DecryptMnemonic(ks.Encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}

	return DeriveKeypair(mnemonic, bip39Passphrase)
}

// LoadOrCreate loads the existing keystore at cfg.Path if one is present,
// otherwise creates one. The returned mnemonic is empty when an existing
// keystore was loaded instead of a fresh one being generated.
func LoadOrCreate(cfg Config, password, bip39Passphrase string) (solana.PrivateKey, string, error) {
	if Exists(cfg) {
		sk, err := Load(cfg, password, bip39Passphrase)
		return sk, "", err
	}
	return Create(cfg, password, bip39Passphrase)
}
