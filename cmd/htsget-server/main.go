// The htsget-server binary serves the GA4GH htsget protocol: given a query
// naming an alignment or variant file and an optional reference region, it
// returns a ticket of byte-range URLs the client concatenates into a valid,
// region-filtered file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/htsget-community/htsget-server/internal/engine"
	"github.com/htsget-community/htsget-server/internal/htsconfig"
	"github.com/htsget-community/htsget-server/internal/htslog"
	"github.com/htsget-community/htsget-server/internal/httpapi"
	"github.com/htsget-community/htsget-server/internal/resolver"
	"github.com/htsget-community/htsget-server/internal/storage"
	"github.com/htsget-community/htsget-server/internal/storage/gcs"
	"github.com/htsget-community/htsget-server/internal/storage/local"
	"github.com/htsget-community/htsget-server/internal/storage/s3"
)

func main() {
	var (
		configPath string
		cpuProfile bool
	)

	root := &cobra.Command{
		Use:          "htsget-server",
		Short:        "Serve the GA4GH htsget protocol over local, S3 or GCS objects",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile {
				defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
			}
			cfg, err := htsconfig.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the TOML configuration file")
	root.Flags().BoolVar(&cpuProfile, "profile", false, "write a CPU profile to the working directory")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *htsconfig.Config) error {
	logger := htslog.New(cfg.Log.Level)
	if logger.Level < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	chain, err := buildChain(ctx, cfg, logger, router)
	if err != nil {
		return err
	}

	engineCfg := engine.Config{BlockSizeLimit: cfg.Engine.BlockSizeLimit}
	engines := engine.NewRegistry(
		engine.NewBAMEngine(engineCfg),
		engine.NewCRAMEngine(engineCfg),
		engine.NewVCFEngine(engineCfg),
		engine.NewBCFEngine(engineCfg),
	)

	handler := httpapi.New(logger, chain, engines, serviceInfo(cfg.ServiceInfo))
	handler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.WithField("addr", cfg.Server.Addr).Info("htsget server listening")
	if cfg.Server.TLSCert != "" {
		return router.RunTLS(cfg.Server.Addr, cfg.Server.TLSCert, cfg.Server.TLSKey)
	}
	return router.Run(cfg.Server.Addr)
}

// buildChain constructs one storage backend and resolver per configured
// entry, preserving declared order. Each local backend additionally gets a
// data route on router; its ticket URLs point back at that route.
func buildChain(ctx context.Context, cfg *htsconfig.Config, logger *logrus.Logger, router *gin.Engine) (resolver.Chain, error) {
	scheme := "http"
	if cfg.Server.TLSCert != "" {
		scheme = "https"
	}
	authority := cfg.Data.Authority
	if authority == "" {
		authority = cfg.Server.Addr
	}

	chain := make(resolver.Chain, 0, len(cfg.Resolvers))
	for i, rc := range cfg.Resolvers {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("resolver%d", i)
		}

		backend, err := buildBackend(ctx, rc.Storage, name, scheme, authority, cfg.Data, router)
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %v", name, err)
		}
		backend = storage.NewRetrying(backend, rc.Storage.Kind, logger.WithField("resolver", name))

		guard, err := rc.Guard.AllowGuard()
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %v", name, err)
		}

		r, err := resolver.New(name, rc.Regex, rc.Substitution, backend, guard)
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %v", name, err)
		}
		chain = append(chain, r)
	}
	return chain, nil
}

func buildBackend(ctx context.Context, sc htsconfig.Storage, name, scheme, authority string, data htsconfig.DataServer, router *gin.Engine) (storage.Backend, error) {
	switch sc.Kind {
	case htsconfig.StorageLocal:
		prefix := data.PathPrefix + "/" + name
		backend := local.New(sc.Local.Path, scheme, authority, prefix)
		if data.Enabled {
			router.GET(prefix+"/*key", backend.DataHandler())
		}
		return backend, nil

	case htsconfig.StorageS3:
		return s3.New(ctx, sc.S3.Bucket, sc.S3.Endpoint)

	case htsconfig.StorageGCS:
		signBy := gcs.SignedURLOptions{GoogleAccessID: sc.GCS.SignerEmail}
		if sc.GCS.SignerKeyFile != "" {
			key, err := os.ReadFile(sc.GCS.SignerKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading signer key: %v", err)
			}
			signBy.PrivateKey = key
		}
		// A short-lived access token from the environment overrides the
		// application default credentials, for running against private
		// buckets without a service account file.
		if token := os.Getenv("GOOGLE_OAUTH_ACCESS_TOKEN"); token != "" {
			return gcs.NewWithToken(ctx, sc.GCS.Bucket, token, signBy)
		}
		return gcs.New(ctx, sc.GCS.Bucket, signBy)

	default:
		return nil, fmt.Errorf("unknown storage kind %q", sc.Kind)
	}
}

func serviceInfo(si htsconfig.ServiceInfo) httpapi.ServiceInfo {
	return httpapi.ServiceInfo{
		ID:      si.ID,
		Name:    si.Name,
		Version: si.Version,
		Organization: httpapi.Organization{
			Name: si.OrganizationName,
			URL:  si.OrganizationURL,
		},
		ContactURL:       si.ContactURL,
		DocumentationURL: si.DocumentationURL,
		CreatedAt:        si.CreatedAt,
		UpdatedAt:        si.UpdatedAt,
		Environment:      si.Environment,
	}
}
