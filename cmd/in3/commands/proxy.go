package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/log"
	lproxy "github.com/incubed/in3-go/light/proxy"
)

// MakeProxyCommand constructs a command that serves verified JSON-RPC over
// HTTP until it is interrupted.
func MakeProxyCommand(conf *config.Config, logger log.Logger, newClient ClientProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a JSON-RPC server answering with verified responses",
		Long: `Run a JSON-RPC server answering with verified responses.

Every request is sent to the nodes of the configured chain and only
answered once a response verified. Wallets and dapps can use the proxy
like any other node. A request may select another chain through its
"in3" section.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := conf.ChainID()
			if err != nil {
				return err
			}
			c, err := newClient(conf, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Failed to save client state", "err", err)
				}
			}()

			p, err := lproxy.NewProxy(c, chainID, *conf.Proxy, logger.With("module", "proxy"))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if conf.Instrumentation.Prometheus {
				srv := startPrometheusServer(conf.Instrumentation.PrometheusListenAddr, logger)
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}
			return p.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("proxy.laddr", conf.Proxy.ListenAddress, "serve the proxy on the given address")
	cmd.Flags().Int("proxy.max-open-connections", conf.Proxy.MaxOpenConnections,
		"maximum number of simultaneous connections")
	cmd.Flags().StringSlice("proxy.cors-allowed-origins", conf.Proxy.CORSAllowedOrigins,
		"origins a cross-domain request can be executed from")
	return cmd
}

// startPrometheusServer starts a Prometheus HTTP server, listening for
// metrics collectors on addr.
func startPrometheusServer(addr string, logger log.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}
