// sae-sim runs an SAE handshake between two simulated stations.
//
// Both stations share an in-memory wireless medium that can drop, duplicate
// and delay frames. The run reports each station's outcome and the PMKID both
// sides derived.
//
// Usage:
//
//	sae-sim run [options]
//	sae-sim config [options]
//
// Options:
//
//	-c, --config          YAML config file
//	--group               Finite cyclic group (default: 19)
//	--akm                 AKM suite type, 8 for SAE or 9 for FT-SAE (default: 8)
//	--mac-a, --mac-b      Station addresses
//	--password-a          Password of station A (default: "password")
//	--password-b          Password of station B (default: "password")
//	--initiate-both       Let both stations send a commit
//	--drop-rate           Probability a frame is lost
//	--duplicate-rate      Probability a frame is delivered twice
//	--delay-max           Upper bound of random frame delay
//	--seed                Seed for the medium simulator (default: time based)
//	--retransmit          Retransmission period (default: 40ms)
//	--timeout             Overall time limit (default: 10s)
//	--log-level           disabled, error, warn, info, debug or trace
//	--telemetry-addr      Serve Prometheus metrics on this address
//
// Every option can also be set with a SAE_SIM_ environment variable, for
// example SAE_SIM_STATION_A_PASSWORD.
//
// Example:
//
//	sae-sim run --password-b wrong --drop-rate 0.2 --log-level debug
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backkem/sae/pkg/sae"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"group":          "group",
	"akm":            "akm",
	"mac-a":          "station_a.mac",
	"mac-b":          "station_b.mac",
	"password-a":     "station_a.password",
	"password-b":     "station_b.password",
	"initiate-both":  "initiate_both",
	"drop-rate":      "drop_rate",
	"duplicate-rate": "duplicate_rate",
	"delay-max":      "delay_max",
	"seed":           "seed",
	"retransmit":     "retransmit",
	"timeout":        "timeout",
	"log-level":      "log_level",
	"telemetry-addr": "telemetry_addr",
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:          "sae-sim",
		Short:        "Simulate an SAE handshake between two stations",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")
	flags.Uint16("group", sae.GroupP256, "finite cyclic group")
	flags.Uint8("akm", sae.AKMSuiteTypeSAE, "AKM suite type")
	flags.String("mac-a", "02:00:00:00:00:0a", "address of station A")
	flags.String("mac-b", "02:00:00:00:00:0b", "address of station B")
	flags.String("password-a", "password", "password of station A")
	flags.String("password-b", "password", "password of station B")
	flags.Bool("initiate-both", false, "let both stations send a commit")
	flags.Float64("drop-rate", 0, "probability a frame is lost")
	flags.Float64("duplicate-rate", 0, "probability a frame is delivered twice")
	flags.Duration("delay-max", 0, "upper bound of random frame delay")
	flags.Int64("seed", 0, "seed for the medium simulator")
	flags.Duration("retransmit", 40*time.Millisecond, "retransmission period")
	flags.Duration("timeout", 10*time.Second, "overall time limit")
	flags.String("log-level", "info", "log level")
	flags.String("telemetry-addr", "", "serve Prometheus metrics on this address")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(newRunCmd(v, &configFile), newConfigCmd(v, &configFile))
	return root
}

func newRunCmd(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one handshake and report the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, *configFile)
			if err != nil {
				return err
			}

			level, err := parseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			lf := logging.NewDefaultLoggerFactory()
			lf.DefaultLogLevel = level
			lf.Writer = cmd.ErrOrStderr()

			reg := prometheus.NewRegistry()
			if cfg.TelemetryAddr != "" {
				srv, err := serveTelemetry(cfg.TelemetryAddr, reg, lf.NewLogger("telemetry"))
				if err != nil {
					return err
				}
				defer srv.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sim, err := newSimulation(cfg, lf, reg)
			if err != nil {
				return err
			}
			defer sim.Close()

			rep := sim.Run(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rep.A)
			fmt.Fprintln(out, rep.B)
			if !rep.Success() {
				return errHandshakeFailed
			}
			return nil
		},
	}
}

func newConfigCmd(v *viper.Viper, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, *configFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// serveTelemetry exposes the registry on /metrics until the server is closed.
func serveTelemetry(addr string, reg *prometheus.Registry, log logging.LeveledLogger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("telemetry listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Infof("Serving telemetry on http://%s/metrics", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("Telemetry server: %v", err)
		}
	}()
	return srv, nil
}
