// Command taker runs the counterparty swap engine: it posts RFQs,
// accepts a matching quote, waits for a private invite, and drives the
// accepted trade through terms, payment, and claim.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
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
	"github.com/intercomswap/swapcore/internal/metrics"
	"github.com/intercomswap/swapcore/internal/obslog"
	"github.com/intercomswap/swapcore/internal/protocol"
	"github.com/intercomswap/swapcore/internal/receipts"
	"github.com/intercomswap/swapcore/internal/sidechannel"
	"github.com/intercomswap/swapcore/internal/taker"
)

func main() {
	configPath := flag.String("config", "taker_config.json", "path to the engine config file")
	receiptsPath := flag.String("receipts", "taker_receipts.ndjson", "path to the receipts NDJSON file")
	password := flag.String("identity-password", os.Getenv("SWAPCORE_IDENTITY_PASSWORD"), "identity keystore password")
	rfqFile := flag.String("rfq", "", "path to a JSON file holding the RFQBody to post on startup (optional)")
	flag.Parse()

	mode := cli.DetectMode()
	logger, err := obslog.New(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taker: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		logger.Fatalw("load config", "path", *configPath, "err", err)
	}
	if cfg.Taker == nil {
		logger.Fatalw("config has no taker section", "path", *configPath)
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

	programID, err := solana.PublicKeyFromBase58(cfg.Taker.ProgramID)
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

	eng := taker.NewEngine(*cfg.Taker, sk, transport, escrowCli, lnMetered, store)

	if err := transport.Subscribe(ctx, []string{taker.RFQChannel}); err != nil {
		logger.Fatalw("subscribe to RFQ channel", "err", err)
	}

	hygieneCtrl := hygiene.NewController(cfg.Hygiene, transport, eng)
	go hygieneCtrl.Run(ctx)
	go eng.Run(ctx)

	logger.Infow("taker started", "pubkey", sk.PublicKey().String(), "sidechannel", cfg.SidechannelURL)
	go func() {
		for ev := range transport.Events() {
			if transport.FilterSelf(ev.Message) {
				continue
			}
			var err error
			if ev.Channel == taker.RFQChannel {
				err = eng.HandleRFQChannelEnvelope(ctx, ev.Message)
			} else if tradeID, ok := strings.CutPrefix(ev.Channel, "swap:"); ok {
				err = eng.HandleSwapChannelEnvelope(ctx, tradeID, ev.Message)
			}
			if err != nil {
				logger.Errorw("handle envelope", "channel", ev.Channel, "err", err)
			}
		}
	}()

	if *rfqFile != "" {
		body, err := loadRFQBody(*rfqFile)
		if err != nil {
			logger.Fatalw("load rfq body", "path", *rfqFile, "err", err)
		}
		tradeID, err := eng.PostRFQ(ctx, body)
		if err != nil {
			logger.Fatalw("post rfq", "err", err)
		}
		logger.Infow("rfq posted", "trade_id", tradeID)
	}

	<-ctx.Done()
	logger.Infow("taker shutting down")
}

func loadRFQBody(path string) (protocol.RFQBody, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.RFQBody{}, err
	}
	var body protocol.RFQBody
	if err := json.Unmarshal(data, &body); err != nil {
		return protocol.RFQBody{}, fmt.Errorf("parse rfq body: %w", err)
	}
	return body, nil
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
