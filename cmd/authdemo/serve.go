package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/httpauth"
	"github.com/panyam/authcore/oauth2"
)

type serveOptions struct {
	addr          string
	secret        string
	tokenTTL      time.Duration
	sessionTTL    time.Duration
	sweepEvery    time.Duration
	scsSessions   bool
	secureCookies bool
}

func serveCmd(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth routes and the demo API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVar(&opts.secret, "secret", "", "token signing secret (overrides AUTHCORE_SIGNING_SECRET)")
	f.DurationVar(&opts.tokenTTL, "token-ttl", 0, "bearer token lifetime")
	f.DurationVar(&opts.sessionTTL, "session-ttl", 0, "session lifetime")
	f.DurationVar(&opts.sweepEvery, "sweep-every", 10*time.Minute, "interval between expired session and handshake sweeps; 0 disables")
	f.BoolVar(&opts.scsSessions, "scs-sessions", false, "keep sessions in an scs memstore instead of the backend")
	f.BoolVar(&opts.secureCookies, "secure-cookies", false, "mark cookies Secure")
	return cmd
}

// newCore builds a Core from the environment, flag overrides and the
// selected backend. Providers with credentials are enabled.
func newCore(ctx context.Context, flags *globalFlags, opts *serveOptions, reg prometheus.Registerer) (*ac.Core, func(), error) {
	logger := flags.logger()
	cfg, err := ac.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = logger
	if reg != nil {
		cfg.Metrics = ac.NewMetrics(reg, "authcore")
	}
	scsSessions := false
	if opts != nil {
		if opts.secret != "" {
			cfg.SigningSecret = []byte(opts.secret)
		}
		if opts.tokenTTL > 0 {
			cfg.TokenTTL = opts.tokenTTL
		}
		if opts.sessionTTL > 0 {
			cfg.SessionTTL = opts.sessionTTL
		}
		scsSessions = opts.scsSessions
	}

	stores, closer, err := openStores(ctx, flags, scsSessions)
	if err != nil {
		return nil, nil, err
	}
	core, err := ac.New(*cfg, stores)
	if err != nil {
		closer()
		return nil, nil, err
	}
	for _, p := range oauth2.ProvidersFromConfig(cfg) {
		if err := core.AddProvider(p); err != nil {
			closer()
			return nil, nil, err
		}
	}
	return core, closer, nil
}

func serve(ctx context.Context, flags *globalFlags, opts *serveOptions) error {
	logger := flags.logger()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	core, closer, err := newCore(ctx, flags, opts, reg)
	if err != nil {
		return err
	}
	defer closer()

	auth := httpauth.NewHandler(core)
	auth.SecureCookies = opts.secureCookies
	auth.Logger = logger

	r := mux.NewRouter()
	auth.Routes(r.PathPrefix("/auth").Subrouter())
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "providers": core.Providers()})
	}).Methods(http.MethodGet)
	api.Handle("/whoami", auth.Middleware.ExtractAccount(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := ac.PrincipalFromContext(r.Context())
		if p.Account == nil {
			writeJSON(w, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, map[string]any{
			"authenticated": true,
			"method":        p.Method.String(),
			"account":       httpauth.NewAccountView(p.Account),
		})
	}))).Methods(http.MethodGet)
	api.Handle("/admin/stats", auth.Middleware.RequireRole(ac.RoleAdministrative)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		families, err := reg.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		counts := map[string]float64{}
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				if c := m.GetCounter(); c != nil {
					counts[mf.GetName()] += c.GetValue()
				}
			}
		}
		writeJSON(w, counts)
	}))).Methods(http.MethodGet)

	if opts.sweepEvery > 0 {
		go sweepLoop(ctx, core, opts.sweepEvery, logger)
	}

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr, "store", flags.store, "providers", core.Providers())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepLoop(ctx context.Context, core *ac.Core, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := core.Sweep(ctx); err != nil {
				logger.Warn("sweep failed", "err", err)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
