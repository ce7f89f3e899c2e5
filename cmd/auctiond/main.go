package main

import (
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auction-core/cmd/auctiond/service"
	"github.com/textileio/auction-core/common"
	"github.com/textileio/auction-core/msgbroker"
	"github.com/textileio/auction-core/msgbroker/fakemsgbroker"
	"github.com/textileio/auction-core/msgbroker/gpubsub"
	"github.com/textileio/auction-core/tokenclient"
	"github.com/textileio/auction-core/tokenclient/ethclient"
	"github.com/textileio/auction-core/tokenclient/memclient"
	"github.com/textileio/cli"
	logging "github.com/textileio/go-log/v2"
)

var (
	daemonName = "auctiond"
	log        = logging.Logger(daemonName)
	v          = viper.New()
)

func init() {
	flags := []cli.Flag{
		{Name: "http-addr", DefValue: ":8889", Description: "HTTP API listen address"},
		{Name: "repo-path", DefValue: "${HOME}/." + daemonName, Description: "Repo path backing the auction store"},
		{Name: "finalize-grace", DefValue: time.Hour * 72,
			Description: "How long after the reveal deadline finalize stays seller-only"},
		{Name: "token-backend", DefValue: "mem", Description: "Token backend to use: 'mem' or 'eth'"},
		{Name: "house-addr", DefValue: "0x0000000000000000000000000000000000000001",
			Description: "Escrow account address for the mem token backend"},
		{Name: "eth-rpc-addr", DefValue: "", Description: "Ethereum JSON-RPC node address"},
		{Name: "eth-private-key", DefValue: "", Description: "Hex-encoded private key of the escrow account"},
		{Name: "eth-chain-id", DefValue: int64(1), Description: "Ethereum chain id"},
		{Name: "msgbroker", DefValue: "gpubsub", Description: "Message broker to use: 'gpubsub' or 'fake'"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cli.ConfigureCLI(v, "AUCTIOND", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctiond runs sealed-bid first-price auctions for single assets",
	Long: "auctiond hosts independent sealed-bid, first-price auction instances: " +
		"bidders commit hashed bids, reveal them after the bidding deadline, and " +
		"the seller settles the asset against the highest revealed bid.",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := cli.ConfigureLogging(v, nil)
		cli.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := cli.MarshalConfig(v, !v.GetBool("log-json"), "eth-private-key", "gpubsub-api-key")
		cli.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		if err := common.SetupInstrumentation(v.GetString("metrics-addr")); err != nil {
			log.Fatalf("booting instrumentation: %s", err)
		}

		repoPath := v.GetString("repo-path")
		if repoPath == "" {
			repoPath = filepath.Join(os.Getenv("HOME"), "."+daemonName)
		}

		var mb msgbroker.MsgBroker
		switch backend := v.GetString("msgbroker"); backend {
		case "gpubsub":
			projectID := v.GetString("gpubsub-project-id")
			apiKey := v.GetString("gpubsub-api-key")
			topicPrefix := v.GetString("msgbroker-topic-prefix")
			pmb, err := gpubsub.New(projectID, apiKey, topicPrefix, daemonName)
			cli.CheckErrf("creating google pubsub broker: %s", err)
			mb = pmb
		case "fake":
			log.Warn("using the fake in-memory message broker; events won't leave the process")
			mb = fakemsgbroker.New()
		default:
			log.Fatalf("unknown msgbroker %q", backend)
		}

		var token tokenclient.TokenClient
		switch backend := v.GetString("token-backend"); backend {
		case "eth":
			token, err = ethclient.New(
				v.GetString("eth-rpc-addr"),
				v.GetString("eth-private-key"),
				v.GetInt64("eth-chain-id"))
			cli.CheckErrf("creating eth token client: %s", err)
		case "mem":
			log.Warn("using the in-memory token backend; balances won't survive restarts")
			house, err := common.ParseAddress(v.GetString("house-addr"))
			cli.CheckErrf("parsing house address: %s", err)
			token = memclient.New(house)
		default:
			log.Fatalf("unknown token backend %q", backend)
		}

		serv, err := service.New(service.Config{
			HTTPListenAddr: v.GetString("http-addr"),
			RepoPath:       repoPath,
			FinalizeGrace:  v.GetDuration("finalize-grace"),
		}, mb, token)
		cli.CheckErrf("starting service: %s", err)

		cli.HandleInterrupt(func() {
			if err := serv.Close(); err != nil {
				log.Errorf("closing service: %s", err)
			}
			if err := token.Close(); err != nil {
				log.Errorf("closing token client: %s", err)
			}
			if closer, ok := mb.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					log.Errorf("closing message broker: %s", err)
				}
			}
		})
	},
}

func main() {
	cli.CheckErr(rootCmd.Execute())
}
