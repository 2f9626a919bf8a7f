package main

// solmix — operator CLI for the privacy mixer core.
//
// Sub-commands:
//   config init  – write the default YAML config template
//   pool seed    – grow the hop-wallet pool to a target size
//   pool stats   – print pool lifecycle counts
//   mix run      – execute one mix against the configured endpoint
//   serve        – expose the HTTP surface
//
// Env vars: RPC_ENDPOINT, MIXER_ENCRYPTION_SECRET, DATABASE_URL (a local
// .env file is honored).

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"solmix/core"
	"solmix/pkg/config"
	"solmix/pkg/utils"
	"solmix/poolserver"
)

var (
	logger  = logrus.StandardLogger()
	cfgPath string
	appCfg  *config.Config
)

func main() {
	root := &cobra.Command{
		Use:               "solmix",
		Short:             "privacy mixer over a hop-wallet pool",
		PersistentPreRunE: boot,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to solmix.yaml")
	root.AddCommand(configCmd(), poolCmd(), mixCmd(), serveCmd())
	if err := root.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func boot(_ *cobra.Command, _ []string) error {
	_ = godotenv.Load()
	var err error
	appCfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", appCfg.Logging.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return nil
}

// wire assembles the process-wide collaborators from the loaded config.
func wire() (*core.Mixer, *core.WalletPool, core.WalletStore, error) {
	vault, err := core.NewKeyVault(appCfg.Vault.Secret)
	if err != nil {
		return nil, nil, nil, err
	}
	var store core.WalletStore
	if appCfg.Database.URL != "" {
		store, err = core.OpenSQLWalletStore(appCfg.Database.URL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		logger.Warn("DATABASE_URL unset, using an in-memory pool")
		store = core.NewMemoryWalletStore()
	}
	pool := core.NewWalletPool(store, vault, logger)
	if appCfg.Pool.GrowthStep > 0 {
		pool.GrowthStep = appCfg.Pool.GrowthStep
	}
	ledger, err := core.NewSolanaLedger(appCfg.RPC.Endpoint)
	if err != nil {
		return nil, nil, nil, err
	}
	gw := core.NewRpcGateway(ledger, appCfg.RPC.Limits, logger)
	return core.NewMixer(gw, pool, store, logger), pool, store, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "configuration helpers"}
	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write the default config template",
		RunE: func(_ *cobra.Command, _ []string) error {
			body, err := config.DefaultYAML()
			if err != nil {
				return err
			}
			if out == "-" {
				fmt.Print(string(body))
				return nil
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return err
			}
			logger.Infof("wrote %s", out)
			return nil
		},
	}
	initCmd.Flags().StringVar(&out, "out", "solmix.yaml", "output path, - for stdout")
	cmd.AddCommand(initCmd)
	return cmd
}

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pool", Short: "hop-wallet pool operations"}

	var target int
	seed := &cobra.Command{
		Use:   "seed",
		Short: "grow the pool until the target is available",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, store, err := wire()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			for {
				st, err := pool.Stats(ctx)
				if err != nil {
					return err
				}
				if st.Available >= target {
					logger.Infof("pool healthy: %d available of %d total", st.Available, st.Total)
					return nil
				}
				if err := pool.EnsureHealth(ctx, target); err != nil {
					return err
				}
			}
		},
	}
	seed.Flags().IntVar(&target, "target", 32, "available wallets to maintain")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "print pool lifecycle counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, store, err := wire()
			if err != nil {
				return err
			}
			defer store.Close()
			st, err := pool.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(st)
		},
	}
	cmd.AddCommand(seed, stats)
	return cmd
}

func mixCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mix", Short: "mix execution"}

	var (
		secretFlag string
		amount     uint64
		dests      []string
		hops       int
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "disperse funds across destinations through the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mixer, _, store, err := wire()
			if err != nil {
				return err
			}
			defer store.Close()

			src, err := solana.PrivateKeyFromBase58(strings.TrimSpace(secretFlag))
			if err != nil {
				return fmt.Errorf("--source is not a valid base58 private key")
			}
			req := &core.MixRequest{SourceSecret: src, TotalAmount: amount}
			for _, d := range dests {
				pk, err := solana.PublicKeyFromBase58(d)
				if err != nil {
					return fmt.Errorf("destination %s is not a valid address", d)
				}
				req.Destinations = append(req.Destinations, pk)
			}
			mixCfg := appCfg.Mix
			if hops > 0 {
				mixCfg.HopCount = hops
			}

			res, err := mixer.RunMix(context.Background(), req, &mixCfg)
			if res != nil {
				_ = json.NewEncoder(os.Stdout).Encode(res)
			}
			return err
		},
	}
	run.Flags().StringVar(&secretFlag, "source", "", "base58 funding secret key")
	run.Flags().Uint64Var(&amount, "amount", 0, "total lamports to disperse")
	run.Flags().StringSliceVar(&dests, "dest", nil, "destination address (repeatable)")
	run.Flags().IntVar(&hops, "hops", 0, "intermediaries per route (default from config)")
	_ = run.MarkFlagRequired("source")
	_ = run.MarkFlagRequired("amount")
	_ = run.MarkFlagRequired("dest")
	cmd.AddCommand(run)
	return cmd
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "expose pool stats and mix submission over HTTP",
		RunE: func(_ *cobra.Command, _ []string) error {
			mixer, pool, store, err := wire()
			if err != nil {
				return err
			}
			defer store.Close()
			if listen == "" {
				listen = appCfg.Server.Listen
			}
			srv := poolserver.New(mixer, pool, store, &appCfg.Mix, logger)
			return srv.ListenAndServe(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}
