// Package main is the adowork CLI: an MCP server that exposes Azure
// DevOps work tracking as tools over stdio.
//
// # Basic Usage
//
// Start the server for one project:
//
//	adowork serve --organization contoso --project Platform
//
// Or scope it by area path (the leading segment names the project):
//
//	adowork serve --organization contoso --area-path "Platform\Identity"
//
// Print the tool surface as an OpenAPI document:
//
//	adowork print-openapi
//
// # Environment Variables
//
//   - MCP_FORCE_NEWLINE: force newline output framing
//   - MCP_FORCE_CONTENT_LENGTH: force Content-Length output framing
//     (wins when both are set)
//   - MCP_DEBUG: enable debug logging, same as --verbose
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crestline/adowork/internal/ado"
	"github.com/crestline/adowork/internal/auth"
	"github.com/crestline/adowork/internal/bulk"
	"github.com/crestline/adowork/internal/config"
	"github.com/crestline/adowork/internal/handles"
	"github.com/crestline/adowork/internal/mcp"
	"github.com/crestline/adowork/internal/metrics"
	"github.com/crestline/adowork/internal/sampling"
	"github.com/crestline/adowork/internal/tools"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const serverName = "adowork"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// flagConfig collects flag values before they are merged over the
// optional config file.
type flagConfig struct {
	configPath        string
	organization      string
	project           string
	areaPath          string
	areaPaths         []string
	copilotGUID       string
	verbose           bool
	autoLaunchBrowser bool
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "adowork",
		Short:        "MCP server for Azure DevOps work tracking",
		Long:         "adowork speaks the Model Context Protocol over stdio and exposes\nAzure DevOps queries, query handles, and bulk work-item operations as tools.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
		buildPrintOpenAPICmd(),
		buildConfigSchemaCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "adowork %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func addConfigFlags(cmd *cobra.Command, flags *flagConfig) {
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file; flags override it")
	cmd.Flags().StringVar(&flags.organization, "organization", "", "Azure DevOps organization name")
	cmd.Flags().StringVar(&flags.project, "project", "", "Project name")
	cmd.Flags().StringVar(&flags.areaPath, "area-path", "", "Area path; its first segment names the project")
	cmd.Flags().StringSliceVar(&flags.areaPaths, "area-paths", nil, "Additional area paths")
	cmd.Flags().StringVar(&flags.copilotGUID, "copilot-guid", "", "GUID of the automation account to ignore in staleness checks")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	cmd.Flags().BoolVar(&flags.autoLaunchBrowser, "auto-launch-browser", false, "Allow the credential source to open a browser for login")
}

// resolveConfig merges flags over the optional config file and
// validates the result.
func resolveConfig(cmd *cobra.Command, flags *flagConfig) (*config.Config, error) {
	cfg := &config.Config{}
	if flags.configPath != "" {
		loaded, err := config.LoadFile(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("organization") {
		cfg.Organization = flags.organization
	}
	if cmd.Flags().Changed("project") {
		cfg.Project = flags.project
	}
	if cmd.Flags().Changed("area-path") {
		cfg.AreaPath = flags.areaPath
	}
	if cmd.Flags().Changed("area-paths") {
		cfg.AreaPaths = flags.areaPaths
	}
	if cmd.Flags().Changed("copilot-guid") {
		cfg.CopilotGUID = flags.copilotGUID
	}
	if flags.verbose {
		cfg.Verbose = true
	}
	if flags.autoLaunchBrowser {
		cfg.AutoLaunchBrowser = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr; stdout
// carries protocol frames only.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildServeCmd() *cobra.Command {
	flags := &flagConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			env := config.ReadEnv()
			logger := newLogger(cfg.Verbose || env.Debug)
			slog.SetDefault(logger)
			return runServe(cmd.Context(), cfg, env, logger)
		},
	}
	addConfigFlags(cmd, flags)
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, env config.EnvOverrides, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := auth.AzureCLISource(cfg.AutoLaunchBrowser)
	if err != nil {
		return fmt.Errorf("credential source: %w", err)
	}

	registry := metrics.NewRegistry()
	prom := metrics.NewPromMetrics()

	provider := auth.NewProvider(source,
		auth.WithLogger(logger),
		auth.WithAcquisitionObserver(func(outcome string) {
			registry.IncrementCounter("token_acquisitions", 1, map[string]string{"outcome": outcome})
			prom.TokenAcquisitions.WithLabelValues(outcome).Inc()
		}),
	)

	store := handles.NewStore()
	defer store.StopCleanup()

	client := ado.NewHTTPClient(cfg.Organization, cfg.Project, provider, logger)
	engine := bulk.NewEngine(client, store, logger, registry, prom)

	resources, err := mcp.NewResourceCatalog()
	if err != nil {
		return fmt.Errorf("resource catalog: %w", err)
	}

	prompts := mcp.NewPromptCatalog()
	transport := mcp.NewFramedTransport(os.Stdin, os.Stdout, mcp.TransportOptions{
		Logger:             logger,
		ForceNewline:       env.ForceNewline,
		ForceContentLength: env.ForceContentLength,
	})
	srv := mcp.NewServer(transport, mcp.ServerOptions{
		Name:      serverName,
		Version:   version,
		Logger:    logger,
		Registry:  registry,
		Prom:      prom,
		Resources: resources,
		Prompts:   prompts,
	})

	deps := tools.Deps{
		Client:   client,
		Store:    store,
		Engine:   engine,
		Sampling: sampling.NewMCPClient(srv.Sampling()),
		Registry: registry,
		Prompts:  prompts,
		Logger:   logger,
	}
	if _, err := tools.RegisterAll(srv, deps); err != nil {
		return err
	}

	go watchHandleCount(ctx, store, registry, prom)

	logger.Info("starting server",
		"organization", cfg.Organization,
		"project", cfg.Project,
		"version", version)
	return srv.Serve(ctx)
}

// watchHandleCount mirrors the live handle count into the gauges.
func watchHandleCount(ctx context.Context, store *handles.Store, registry *metrics.Registry, prom *metrics.PromMetrics) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := float64(store.Count())
			registry.SetGauge("active_handles", n, nil)
			prom.ActiveHandles.Set(n)
		}
	}
}

func buildPrintOpenAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-openapi",
		Short: "Print the tool surface as an OpenAPI 3 document",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Register against a throwaway server; the handlers are
			// never invoked, only the schemas matter.
			transport := mcp.NewFramedTransport(nullReader{}, nullWriter{}, mcp.TransportOptions{ForceNewline: true})
			srv := mcp.NewServer(transport, mcp.ServerOptions{Name: serverName, Version: version})
			requiresSampling, err := tools.RegisterAll(srv, tools.Deps{
				Prompts: mcp.NewPromptCatalog(),
			})
			if err != nil {
				return err
			}
			doc, err := mcp.OpenAPIDocJSON(serverName, version, srv.Tools(), requiresSampling)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		},
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema of the config file format",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

type nullReader struct{}

func (nullReader) Read(p []byte) (int, error) { return 0, os.ErrClosed }

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
