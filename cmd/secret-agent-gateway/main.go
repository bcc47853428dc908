// Command secret-agent-gateway manages authenticated access to the agent
// stack's backends and runs connectivity diagnostics against them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrtlabs/secret-agent-go/config"
	"github.com/scrtlabs/secret-agent-go/diag"
	"github.com/scrtlabs/secret-agent-go/gateway"
	"github.com/scrtlabs/secret-agent-go/observability"
)

type rootFlags struct {
	direct       bool
	insecure     bool
	certPath     string
	timeout      time.Duration
	probeTimeout time.Duration
	logJSON      bool
	verbose      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "secret-agent-gateway",
		Short:         "Authenticated client gateway for the secret agent stack",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			observability.NewLogger(level, flags.logJSON)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&flags.direct, "direct", false, "bypass the reverse proxy and talk to services directly")
	pf.BoolVar(&flags.insecure, "insecure-skip-verify", false, "disable TLS certificate verification")
	pf.StringVar(&flags.certPath, "cert", "", "PEM certificate to trust (overrides "+config.EnvSSLCertPath+")")
	pf.DurationVar(&flags.timeout, "timeout", config.DefaultRequestTimeout, "outbound HTTP request timeout")
	pf.DurationVar(&flags.probeTimeout, "probe-timeout", config.DefaultProbeTimeout, "per-backend probe timeout")
	pf.BoolVar(&flags.logJSON, "log-json", false, "emit JSON logs")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newCheckCmd(flags))
	root.AddCommand(newServeCmd(flags))
	return root
}

func buildGateway(flags *rootFlags) *gateway.Gateway {
	cfg := config.FromEnv()
	if flags.certPath != "" {
		cfg.SSLCertPath = flags.certPath
	}

	mode := gateway.ModeProxied
	if flags.direct {
		mode = gateway.ModeDirect
	}

	return gateway.New(cfg,
		gateway.WithMode(mode),
		gateway.WithTLS(gateway.TLSOptions{
			ServerCertPath:     cfg.SSLCertPath,
			InsecureSkipVerify: flags.insecure,
		}),
		gateway.WithRequestTimeout(flags.timeout),
		gateway.WithProbeTimeout(flags.probeTimeout),
	)
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every backend and report reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(); err != nil {
				return err
			}

			gw := buildGateway(flags)
			defer gw.Close(cmd.Context())

			report := gw.TestConnections(cmd.Context())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report)
			}

			if !report.Healthy() {
				return fmt.Errorf("one or more backends unreachable")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	return cmd
}

// validateConfig surfaces all configuration problems at once instead of
// letting the first accessor trip over them later.
func validateConfig() error {
	if err := config.FromEnv().Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	return nil
}

func printReport(cmd *cobra.Command, report gateway.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connection test %s (%s mode)\n", report.ID, report.Mode)
	for _, b := range report.Backends {
		if b.OK {
			fmt.Fprintf(out, "  ✓ %-8s %s (%s)\n", b.Backend, b.Detail, b.Latency.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(out, "  ✗ %-8s %s\n", b.Backend, b.Error)
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		addr         string
		interval     time.Duration
		otlpEndpoint string
		traceStdout  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve connection diagnostics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, "secret-agent-gateway", otlpEndpoint, traceStdout)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			meterProvider, err := observability.InitMetrics(ctx, "secret-agent-gateway")
			if err != nil {
				return err
			}
			defer meterProvider.Shutdown(context.Background())

			gw := buildGateway(flags)
			defer gw.Close(context.Background())

			checker, err := diag.NewChecker(gw, slog.Default())
			if err != nil {
				return err
			}

			server := diag.NewServer(checker, addr, interval, slog.Default())
			server.Start()

			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8090", "listen address for the diagnostics server")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "websocket push interval")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for trace export")
	cmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "pretty-print spans to stdout")
	return cmd
}
