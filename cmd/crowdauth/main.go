// Package main provides a CLI for the crowdauth authentication service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msimon/crowdauth/auth"
	"github.com/msimon/crowdauth/identity"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-h", "-help", "--help", "help":
			printUsage()
			return nil
		case "serve":
			return runServe(os.Args[2:])
		case "authenticate":
			return runAuthenticate(os.Args[2:])
		}
	}

	return runServe(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [serve|authenticate] [options]

Commands:
  serve          Run the NATS authentication service (default)
  authenticate   Authenticate a single identity and print the session

Use '%s <command> -h' for more information.
`, os.Args[0], os.Args[0])
}

// envOrDefault returns the environment variable value if set, otherwise the default.
func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// runServe handles the 'serve' subcommand.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	var configPath string
	fs.StringVar(&configPath, "c", envOrDefault("CROWDAUTH_CONFIG", ""), "Path to configuration file")
	fs.StringVar(&configPath, "config", envOrDefault("CROWDAUTH_CONFIG", ""), "Path to configuration file")

	fs.Usage = func() {
		printCommandUsage(fs, "serve", "Run the NATS authentication service.")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	config, logger, authenticator, err := loadConfigAndAuthenticator(configPath, auth.WithMetrics(auth.NewMetrics(registry)))
	if err != nil {
		return err
	}
	defer authenticator.Close()

	service, err := auth.NewService(authenticator, config.Server.ToServiceConfig(), auth.WithServiceLogger(logger))
	if err != nil {
		return fmt.Errorf("creating authentication service: %w", err)
	}

	var debugService *auth.DebugService
	if config.Server.DebugSubject != "" {
		debugService, err = auth.NewDebugService(authenticator, config.Server.ToDebugConfig(), auth.WithDebugLogger(logger))
		if err != nil {
			return fmt.Errorf("creating debug service: %w", err)
		}
	}

	var metricsServer *http.Server
	if config.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{
			Addr:              config.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics on %s", config.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server failed: %v", err)
			}
		}()
	}

	ctx, cancel := setupSignalHandler(func() {
		service.Stop()
		if debugService != nil {
			debugService.Stop()
		}
		if metricsServer != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	})
	defer cancel()

	debugErrCh := make(chan error, 1)
	if debugService != nil {
		go func() {
			if err := debugService.Start(ctx); err != nil {
				debugErrCh <- err
				cancel()
				return
			}
			debugErrCh <- nil
		}()
	}

	// Start the authentication service (blocks until shutdown)
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("running authentication service: %w", err)
	}

	if debugService != nil {
		if err := <-debugErrCh; err != nil {
			return fmt.Errorf("running debug service: %w", err)
		}
	}

	return nil
}

// authenticateOutput is printed by the 'authenticate' subcommand.
type authenticateOutput struct {
	Username  string             `json:"username"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Plan      auth.Plan          `json:"plan"`
	Failures  []auth.FailureInfo `json:"failures,omitempty"`
}

// runAuthenticate handles the 'authenticate' subcommand.
func runAuthenticate(args []string) error {
	fs := flag.NewFlagSet("authenticate", flag.ExitOnError)

	var configPath, identityPath, authID string
	var dryRun bool
	fs.StringVar(&configPath, "c", envOrDefault("CROWDAUTH_CONFIG", ""), "Path to configuration file")
	fs.StringVar(&configPath, "config", envOrDefault("CROWDAUTH_CONFIG", ""), "Path to configuration file")
	fs.StringVar(&identityPath, "identity", "", "Path to an identity record JSON file")
	fs.StringVar(&authID, "auth-id", "", "Authentication identifier resolved by the configured strategies")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the group plan without changing the directory")

	fs.Usage = func() {
		printCommandUsage(fs, "authenticate", "Authenticate a single identity and print the session.")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	var in auth.Input
	switch {
	case identityPath != "" && authID != "":
		return fmt.Errorf("-identity and -auth-id are mutually exclusive")
	case identityPath != "":
		data, err := os.ReadFile(identityPath)
		if err != nil {
			return fmt.Errorf("reading identity file: %w", err)
		}
		var r identity.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("parsing identity file: %w", err)
		}
		in.Record = &r
	case authID != "":
		in.AuthID = authID
	default:
		return fmt.Errorf("-identity or -auth-id is required")
	}

	_, _, authenticator, err := loadConfigAndAuthenticator(configPath)
	if err != nil {
		return err
	}
	defer authenticator.Close()

	ctx, cancel := setupSignalHandler(nil)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if dryRun {
		plan, err := authenticator.Plan(ctx, in)
		if err != nil {
			return err
		}
		return enc.Encode(plan)
	}

	result, err := authenticator.Authenticate(ctx, in)
	if err != nil {
		return err
	}

	out := authenticateOutput{
		Username:  result.User.Username,
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
		Plan:      result.Sync.Plan,
	}
	for _, o := range result.Sync.Failures() {
		out.Failures = append(out.Failures, auth.FailureInfo{Op: o.Op, Group: o.Group, Error: o.Err.Error()})
	}
	return enc.Encode(out)
}

func loadConfigAndAuthenticator(configPath string, opts ...auth.Option) (*auth.Config, auth.Logger, *auth.Authenticator, error) {
	if configPath == "" {
		return nil, nil, nil, fmt.Errorf("-c/--config is required")
	}

	config, err := auth.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := auth.NewLogger(config.Log.Level, config.Log.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	opts = append([]auth.Option{auth.WithLogger(logger)}, opts...)
	authenticator, err := auth.NewAuthenticatorWithConfig(context.Background(), config, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating authenticator: %w", err)
	}

	return config, logger, authenticator, nil
}

func setupSignalHandler(onStop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if onStop != nil {
			onStop()
		}
	}()

	return ctx, cancel
}

func printCommandUsage(fs *flag.FlagSet, name, description string) {
	fmt.Fprintf(os.Stderr, "Usage: %s %s [options]\n\n", os.Args[0], name)
	fmt.Fprintf(os.Stderr, "%s\n\n", description)
	fmt.Fprintf(os.Stderr, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
	fmt.Fprintf(os.Stderr, "  CROWDAUTH_CONFIG   Path to configuration file\n")
	fmt.Fprintf(os.Stderr, "\nExample:\n")
	fmt.Fprintf(os.Stderr, "  %s %s -c config.yaml\n", os.Args[0], name)
	fmt.Fprintf(os.Stderr, "\nConfiguration file format (YAML):\n")
	fmt.Fprintf(os.Stderr, `  directory:
    type: crowd
    crowd:
      baseUrl: https://crowd.example.com/crowd
      applicationName: crowdauth
      applicationPassword: secret
  identity:
    file:
      - id: local
        usersPath: users.json
  sync:
    groupPrefix: "crowd-authenticator:"
    defaultGroups: [users]
  server:
    natsUrl: nats://localhost:4222
    natsNkey: crowdauth.nk
    debugSubject: crowdauth.debug
    metricsAddr: ":9090"
`)
}
