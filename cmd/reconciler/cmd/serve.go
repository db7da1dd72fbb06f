package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"po-reconciliation-service/cmd/reconciler/config"
	"po-reconciliation-service/internal/parsers"
	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/internal/server"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation API over HTTP",
	Long: `Serve starts an HTTP server exposing:

  GET  /health     liveness check
  POST /reconcile  JSON body {"po_items": [...], "candidates": [...], "min_confidence": 0.6}

A mapping file given at startup applies to every request.

Examples:
  reconciler serve --addr :8080
  reconciler serve --addr 127.0.0.1:9000 --mapping-file acode_cpartno.csv --profile strict`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", server.DefaultConfig().Addr, "listen address")
	serveCmd.Flags().String("mapping-file", "", "code mapping table loaded at startup")
	serveCmd.Flags().String("profile", config.ProfileDefault, "matching profile: default, strict, relaxed")

	viper.BindPFlag(config.KeyServerAddr, serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.mapping_file", serveCmd.Flags().Lookup("mapping-file"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.GetViper()
	if f := cmd.Flags().Lookup("profile"); f != nil && f.Changed {
		v.Set(config.KeyProfile, f.Value.String())
	}

	matchingConfig, err := config.CreateMatchingConfig(v)
	if err != nil {
		return err
	}
	serverConfig, err := config.CreateServerConfig(v)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", v.GetString(config.KeyServerAddr), err)
	}

	service, err := reconciler.NewReconciliationService(matchingConfig, config.CreateReconcilerConfig(v))
	if err != nil {
		return err
	}

	lex := config.CreateLexicon(v)
	if path := v.GetString("server.mapping_file"); path != "" {
		if _, err := parsers.LoadCodeMappingsInto(ctx, path, lex); err != nil {
			return err
		}
		logger.GetGlobalLogger().WithFields(logger.Fields{
			"mapping_file": path,
			"codes":        lex.Size(),
		}).Info("Loaded code mappings")
	}
	service.WithLexicon(lex)

	srv, err := server.NewServer(service, serverConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
