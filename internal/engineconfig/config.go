// Package engineconfig is the single process-level configuration file a
// cmd/maker, cmd/taker, or cmd/escrowctl binary reads at startup: the
// sidechannel endpoint, the identity keystore location, and whichever of
// the maker/taker/hygiene engine configs that process role runs.
package engineconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/intercomswap/swapcore/internal/hygiene"
	"github.com/intercomswap/swapcore/internal/identity"
	"github.com/intercomswap/swapcore/internal/maker"
	"github.com/intercomswap/swapcore/internal/services/storage"
	"github.com/intercomswap/swapcore/internal/taker"
)

// Config mirrors internal/app.AppConfig's flat, JSON-tag-per-section
// shape, generalized from a wallet-manager's Wallets/Providers/Settings
// fields to an engine process's transport/identity/role-config fields.
//
// Maker and Taker are both optional pointers rather than separate Config
// types per role, so one file format serves cmd/maker, cmd/taker, and
// cmd/escrowctl (which needs to read whichever role's config is present
// without knowing in advance which one it is).
type Config struct {
	SidechannelURL string          `json:"sidechannel_url"`
	Identity       identity.Config `json:"identity"`
	Hygiene        hygiene.Config  `json:"hygiene"`

	// SolanaRPCURL is the cluster endpoint internal/escrow.NewSolanaClient
	// submits and queries against.
	SolanaRPCURL string `json:"solana_rpc_url"`

	// LND* configure the internal/lightning.NewLNDClient dial. Network is
	// one of "mainnet", "testnet", "regtest", "simnet".
	LNDAddress     string `json:"lnd_address"`
	LNDNetwork     string `json:"lnd_network"`
	LNDMacaroonDir string `json:"lnd_macaroon_dir"`
	LNDTLSPath     string `json:"lnd_tls_path"`

	// MetricsListenAddr, if non-empty, serves internal/metrics.Recorder's
	// Handler at this address's /metrics path.
	MetricsListenAddr string `json:"metrics_listen_addr"`

	Maker *maker.Config `json:"maker,omitempty"`
	Taker *taker.Config `json:"taker,omitempty"`
}

// DefaultConfig leaves Maker/Taker nil — a role binary fills in whichever
// one it runs before saving.
func DefaultConfig() Config {
	return Config{
		SidechannelURL:    "ws://127.0.0.1:8787/ws",
		Identity:          identity.DefaultConfig(),
		Hygiene:           hygiene.DefaultConfig(),
		SolanaRPCURL:      "https://api.mainnet-beta.solana.com",
		LNDNetwork:        "mainnet",
		MetricsListenAddr: "127.0.0.1:9090",
	}
}

// ToJSON serializes Config for storage, mirroring internal/app.AppConfig.ToJSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON deserializes a Config, mirroring internal/app.FromJSON.
func FromJSON(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	return &c, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	return FromJSON(data)
}

// Save writes c to path atomically. Unlike the identity keystore, this
// file holds no secrets (public config only — fee bps, refund windows,
// channel endpoints), so it is written in plain JSON rather than through
// internal/services/crypto.
func (c *Config) Save(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return storage.AtomicWriteFile(path, data, 0o644)
}
