// Package identity derives and stores the single operator Ed25519 keypair
// each maker/taker/escrowctl process signs envelopes and escrow
// transactions with: a BIP39 mnemonic, encrypted at rest, feeding a
// BIP32-derived child key into Solana's native key format.
package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/intercomswap/swapcore/internal/services/bip39service"
	"github.com/intercomswap/swapcore/internal/services/crypto"
	"github.com/intercomswap/swapcore/internal/services/hdkey"
)

// DerivationPath is the BIP44 path this engine derives its operator key
// from. 501 is Solana's registered SLIP-44 coin type.
const DerivationPath = "m/44'/501'/0'/0'"

// DeriveKeypair turns a BIP39 mnemonic into the Ed25519 keypair the engine
// signs with.
//
// The teacher's address package derived a Solana key by copying a
// secp256k1 compressed public key straight into solana.PublicKeyFromBytes
// — invalid, since secp256k1 and Ed25519 are unrelated curves with
// incompatible point encodings, so the result corresponded to no private
// key anyone held. This instead walks the same bip39service+hdkey path to
// a BIP32 child key, then takes that child's raw 32-byte private scalar
// and uses it as the seed to ed25519.NewKeyFromSeed, which is the
// documented way to turn 32 bytes of entropy into a valid Ed25519
// keypair. The secp256k1 derivation tree is used only as a deterministic
// entropy source here, not as the signing curve.
func DeriveKeypair(mnemonic, passphrase string) (solana.PrivateKey, error) {
	b39 := bip39service.NewBIP39Service()
	seed, err := b39.MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w", err)
	}
	defer crypto.ClearBytes(seed)

	hd := hdkey.NewHDKeyService()
	master, err := hd.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	child, err := hd.DerivePath(master, DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("derive path %s: %w", DerivationPath, err)
	}
	childPriv, err := hd.GetPrivateKey(child)
	if err != nil {
		return nil, fmt.Errorf("extract child private key: %w", err)
	}
	defer crypto.ClearBytes(childPriv)

	edPriv := ed25519.NewKeyFromSeed(childPriv[:32])
	return solana.PrivateKey(edPriv), nil
}
