package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/server"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/telemetry"
)

const banner = `
 _  __          __        __            _
| |/ /___ _   _\ \      / /_ _ _ __ __| | ___ _ __
| ' // _ \ | | |\ \ /\ / / _` + "`" + ` | '__/ _` + "`" + ` |/ _ \ '_ \
| . \  __/ |_| | \ V  V / (_| | | | (_| |  __/ | | |
|_|\_\___|\__, |  \_/\_/ \__,_|_|  \__,_|\___|_| |_|
          |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keywarden API server",
		Long:  "Start the HTTP server that exposes the key lifecycle admin API and the verification endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	if dev {
		viper.Set("logging.level", "debug")
	}
	logger := newLogger()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	engine := service.NewEngine(st, logger)
	authSvc := service.NewAuthService(st, jwtSecret())

	// First-run check
	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no operator account found - run: keywarden admin create")
	}

	// Anonymous telemetry, disabled via KEYWARDEN_TELEMETRY=0
	tracker := telemetry.New(context.Background(), st, func() telemetry.Properties {
		return telemetry.Properties{
			Version:   appVersion,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			Driver:    st.Driver(),
		}
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	// Typed view of the config file; viper env vars override individual knobs.
	fileCfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		fileCfg = loaded
		logger.Info("config loaded", "path", path)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.Version = versionString()
	if fileCfg.Verify.RateLimit > 0 {
		srvCfg.VerifyRateLimit = fileCfg.Verify.RateLimit
	}
	if v := viper.GetInt("verify.rate_limit"); v > 0 {
		srvCfg.VerifyRateLimit = v
	}
	if fileCfg.Auth.LoginRateLimit > 0 {
		srvCfg.LoginRateLimit = fileCfg.Auth.LoginRateLimit
	}
	if v := viper.GetInt("auth.login_rate_limit"); v > 0 {
		srvCfg.LoginRateLimit = v
	}
	if origins := fileCfg.Server.CORS.Origins; len(origins) > 0 && !dev {
		srvCfg.CORSOrigins = origins
	}
	if d, err := time.ParseDuration(fileCfg.Server.ShutdownTimeout); err == nil && d > 0 {
		srvCfg.ShutdownTimeout = d
	}
	if interval := fileCfg.Sweep.Interval; interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			srvCfg.SweepInterval = d
		}
	}

	srv := server.New(srvCfg, st, engine, authSvc, logger)

	fmt.Printf("→ Keywarden %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
