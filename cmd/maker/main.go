// Command maker runs the market-maker swap engine: it reacts to RFQs on
// the public channel, quotes, and drives each accepted trade through
// terms, invoice, and escrow to completion.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/lightninglabs/lndclient"

	"github.com/intercomswap/swapcore/internal/cli"
	"github.com/intercomswap/swapcore/internal/engineconfig"
	"github.com/intercomswap/swapcore/internal/escrow"
	"github.com/intercomswap/swapcore/internal/hygiene"
	"github.com/intercomswap/swapcore/internal/identity"
	"github.com/intercomswap/swapcore/internal/lightning"
	"github.com/intercomswap/swapcore/internal/maker"
	"github.com/intercomswap/swapcore/internal/metrics"
	"github.com/intercomswap/swapcore/internal/obslog"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/sidechannel"
)

func main() {
	configPath := flag.String("config", "maker_config.json", "path to the engine config file")
	receiptsPath := flag.String("receipts", "maker_receipts.ndjson", "path to the receipts NDJSON file")
	password := flag.String("identity-password", os.Getenv("SWAPCORE_IDENTITY_PASSWORD"), "identity keystore password")
	flag.Parse()

	mode := cli.DetectMode()
	logger, err := obslog.New(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maker: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		logger.Fatalw("load config", "path", *configPath, "err", err)
	}
	if cfg.Maker == nil {
		logger.Fatalw("config has no maker section", "path", *configPath)
	}

	sk, _, err := identity.LoadOrCreate(cfg.Identity, *password, "")
	if err != nil {
		logger.Fatalw("load identity", "err", err)
	}

	recorder := metrics.NewRecorder()
	if cfg.MetricsListenAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddr, recorder.Handler()); err != nil {
				logger.Warnw("metrics server stopped", "err", err)
			}
		}()
	}

	store, err := receipts.NewFileStore(*receiptsPath)
	if err != nil {
		logger.Fatalw("open receipts store", "path", *receiptsPath, "err", err)
	}

	programID, err := solana.PublicKeyFromBase58(cfg.Maker.ProgramID)
	if err != nil {
		logger.Fatalw("parse escrow program id", "err", err)
	}
	escrowCli := metrics.WrapEscrowClient(escrow.NewSolanaClient(cfg.SolanaRPCURL, programID), recorder)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lnCli, err := dialLightning(ctx, cfg)
	if err != nil {
		logger.Fatalw("dial lightning node", "err", err)
	}
	lnMetered := metrics.WrapLightningClient(lnCli, recorder)

	transport, err := sidechannel.NewClient(cfg.SidechannelURL, hex.EncodeToString(sk.PublicKey().Bytes()))
	if err != nil {
		logger.Fatalw("dial sidechannel", "url", cfg.SidechannelURL, "err", err)
	}
	defer transport.Close()

	eng := maker.NewEngine(*cfg.Maker, sk, transport, escrowCli, lnMetered, store)

	if err := transport.Subscribe(ctx, []string{maker.RFQChannel}); err != nil {
		logger.Fatalw("subscribe to RFQ channel", "err", err)
	}

	hygieneCtrl := hygiene.NewController(cfg.Hygiene, transport, eng)
	go hygieneCtrl.Run(ctx)
	go eng.Run(ctx)

	logger.Infow("maker started", "pubkey", sk.PublicKey().String(), "sidechannel", cfg.SidechannelURL)
	go func() {
		for ev := range transport.Events() {
			if transport.FilterSelf(ev.Message) {
				continue
			}
			var err error
			if ev.Channel == maker.RFQChannel {
				err = eng.HandleRFQChannelEnvelope(ctx, ev.Message)
			} else if tradeID, ok := strings.CutPrefix(ev.Channel, "swap:"); ok {
				err = eng.HandleSwapChannelEnvelope(ctx, tradeID, ev.Message)
			}
			if err != nil {
				logger.Errorw("handle envelope", "channel", ev.Channel, "err", err)
			}
		}
	}()

	<-ctx.Done()
	logger.Infow("maker shutting down")
}

func dialLightning(ctx context.Context, cfg *engineconfig.Config) (lightning.Client, error) {
	network, err := lndNetwork(cfg.LNDNetwork)
	if err != nil {
		return nil, err
	}
	return lightning.NewLNDClient(ctx, lndclient.LndServicesConfig{
		LndAddress:  cfg.LNDAddress,
		Network:     network,
		MacaroonDir: cfg.LNDMacaroonDir,
		TLSPath:     cfg.LNDTLSPath,
	})
}

func lndNetwork(name string) (lndclient.Network, error) {
	switch name {
	case "", "mainnet":
		return lndclient.NetworkMainnet, nil
	case "testnet":
		return lndclient.NetworkTestnet, nil
	case "regtest":
		return lndclient.NetworkRegtest, nil
	case "simnet":
		return lndclient.NetworkSimnet, nil
	default:
		return "", fmt.Errorf("unknown lnd_network %q", name)
	}
}
