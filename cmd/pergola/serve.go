package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/pergola"
	httpadapter "github.com/aretw0/pergola/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve --graph [name=]graph.yaml ...",
	Short: "Serve graphs over HTTP",
	Long: `Starts the HTTP API for one or more graphs sharing the configured store.
Each --graph is mounted under /graphs/<name>; the name defaults to the file's
base name without extension. Metrics are served on /metrics, or on a separate
listener with --metrics-addr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, _ := cmd.Flags().GetStringArray("graph")
		if len(specs) == 0 {
			return errors.New("at least one --graph is required")
		}

		env, err := openEnv(cmd, false, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer env.Close()

		engines := make(map[string]*pergola.Engine, len(specs))
		for _, spec := range specs {
			name, path := graphSpec(spec)
			if _, dup := engines[name]; dup {
				return fmt.Errorf("graph %q mounted twice", name)
			}
			eng, err := env.LoadEngine(path)
			if err != nil {
				return fmt.Errorf("graph %s: %w", name, err)
			}
			engines[name] = eng
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = env.Config.HTTP.Addr
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		handler := httpadapter.NewHandler(engines,
			httpadapter.WithLogger(env.Logger),
			httpadapter.WithGatherer(prometheus.DefaultGatherer),
		)
		servers := []*http.Server{{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}}
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			servers = append(servers, &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)
		for _, srv := range servers {
			g.Go(func() error {
				env.Logger.Info("listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var errs []error
			for _, srv := range servers {
				errs = append(errs, srv.Shutdown(shutdownCtx))
			}
			env.Logger.Info("server stopped")
			return errors.Join(errs...)
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d graph(s) on %s\n", len(engines), addr)
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringArray("graph", nil, "Graph to mount as [name=]path (repeatable)")
	serveCmd.Flags().String("addr", "", "Listen address (defaults to http.addr from the config)")
	serveCmd.Flags().String("metrics-addr", "", "Separate listen address for /metrics")
	rootCmd.AddCommand(serveCmd)
}

// graphSpec splits "name=path"; a bare path is named after its file.
func graphSpec(spec string) (name, path string) {
	if name, path, ok := strings.Cut(spec, "="); ok && name != "" {
		return name, path
	}
	base := filepath.Base(spec)
	return strings.TrimSuffix(base, filepath.Ext(base)), spec
}
