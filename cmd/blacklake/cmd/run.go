package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/blacklakehq/blacklake/pkg/compliance"
	"github.com/blacklakehq/blacklake/pkg/config"
	"github.com/blacklakehq/blacklake/pkg/governance"
	"github.com/blacklakehq/blacklake/pkg/index"
	"github.com/blacklakehq/blacklake/pkg/kv"
	_ "github.com/blacklakehq/blacklake/pkg/kv/local"
	_ "github.com/blacklakehq/blacklake/pkg/kv/mem"
	_ "github.com/blacklakehq/blacklake/pkg/kv/postgres"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/blacklakehq/blacklake/pkg/policy"
	"github.com/spf13/cobra"
)

// Core bundles the assembled services. The API layer consuming it lives
// outside this binary.
type Core struct {
	Index      *index.Index
	Policies   *policy.Store
	Loader     *policy.Loader
	Enforcer   *governance.Enforcer
	Compliance *compliance.Service
}

func buildCore(store kv.Store, cfg *config.Config, log logging.Logger) *Core {
	policyStore := policy.NewStore(store)
	var loaderParams *policy.LoaderParams
	if cfg.AuthCache.Enabled {
		loaderParams = &policy.LoaderParams{
			CacheSize:   cfg.AuthCache.Size,
			CacheExpiry: cfg.AuthCache.TTL,
			CacheJitter: cfg.AuthCache.Jitter,
		}
	}
	loader := policy.NewLoader(policyStore, loaderParams)
	complianceSvc := compliance.NewService(store, log)
	return &Core{
		Index:      index.New(store, log),
		Policies:   policyStore,
		Loader:     loader,
		Enforcer:   governance.NewEnforcer(governance.NewStore(store), loader, complianceSvc, log),
		Compliance: complianceSvc,
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the metadata store and assemble the core services",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := logging.Default().WithField("service", "blacklake")
		ctx := cmd.Context()

		kvParams, err := cfg.DatabaseParams()
		if err != nil {
			log.WithError(err).Fatal("invalid database configuration")
		}
		store, err := kv.Open(ctx, kvParams)
		if err != nil {
			log.WithError(err).WithField("type", kvParams.Type).Fatal("failed to open KV store")
		}
		defer store.Close()
		store = kv.WithMetrics(store, kvParams.Type)

		core := buildCore(store, cfg, log)
		repos, err := core.Index.ListRepos(ctx)
		if err != nil {
			log.WithError(err).Fatal("failed to read repositories")
		}
		log.WithFields(logging.Fields{
			"database":     kvParams.Type,
			"repositories": len(repos),
		}).Info("blacklake core is up")
		waitForShutdown(ctx, log)
	},
}

func waitForShutdown(ctx context.Context, log logging.Logger) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
