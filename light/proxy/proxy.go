// Package proxy serves verified JSON-RPC over HTTP. Every request is handed
// to a light client; callers only ever see responses whose proofs verified.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light"
	"github.com/incubed/in3-go/types"
)

// Config of the proxy server.
type Config struct {
	// ListenAddress is the tcp address to listen on, e.g. "127.0.0.1:8545".
	ListenAddress string `mapstructure:"laddr"`
	// MaxOpenConnections caps concurrent connections (0 = unlimited).
	MaxOpenConnections int `mapstructure:"max-open-connections"`
	// MaxBodyBytes is the largest request body accepted.
	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`
	// CORSAllowedOrigins enables CORS for the listed origins ("*" for all).
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`
	// RateLimit is the number of requests served per second (0 = unlimited)
	// with bursts of up to RateBurst requests.
	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`
	// WriteTimeout bounds the time to answer one request, retries included.
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
}

// DefaultConfig returns a default configuration of the proxy.
func DefaultConfig() Config {
	return Config{
		ListenAddress:      "127.0.0.1:8545",
		MaxOpenConnections: 900,
		MaxBodyBytes:       1 << 20,
		RateBurst:          10,
		WriteTimeout:       60 * time.Second,
	}
}

// ValidateBasic performs basic validation.
func (c Config) ValidateBasic() error {
	switch {
	case c.ListenAddress == "":
		return errors.New("empty listen address")
	case c.MaxOpenConnections < 0:
		return errors.New("max-open-connections can't be negative")
	case c.MaxBodyBytes <= 0:
		return errors.New("max-body-bytes must be positive")
	case c.RateLimit < 0:
		return errors.New("rate-limit can't be negative")
	case c.RateLimit > 0 && c.RateBurst < 1:
		return errors.New("rate-burst must be at least 1 with a rate limit")
	case c.WriteTimeout <= 0:
		return errors.New("write-timeout must be positive")
	}
	return nil
}

// A Proxy serves verified JSON-RPC for the default chain ChainID. Requests
// may pick another chain through their in3 section.
type Proxy struct {
	Config   Config
	ChainID  types.ChainID
	Client   light.Executor
	Logger   log.Logger
	Listener net.Listener
}

// NewProxy creates the server.
func NewProxy(client light.Executor, chainID types.ChainID, cfg Config, logger log.Logger) (*Proxy, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid proxy config: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Proxy{
		Config:  cfg,
		ChainID: chainID,
		Client:  client,
		Logger:  logger,
	}, nil
}

// Handler returns the HTTP handler of the proxy.
func (p *Proxy) Handler() http.Handler {
	var h http.Handler = makeJSONRPCHandler(p.Client, p.ChainID, p.Config.MaxBodyBytes, p.Logger)
	if p.Config.RateLimit > 0 {
		h = rateLimited(h, rate.NewLimiter(rate.Limit(p.Config.RateLimit), p.Config.RateBurst))
	}
	if len(p.Config.CORSAllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: p.Config.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
		}).Handler(h)
	}
	return recoverAndLogHandler(h, p.Logger)
}

// Listen opens the listener, limited to MaxOpenConnections connections.
func (p *Proxy) Listen() error {
	ln, err := net.Listen("tcp", p.Config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", p.Config.ListenAddress, err)
	}
	if p.Config.MaxOpenConnections > 0 {
		ln = netutil.LimitListener(ln, p.Config.MaxOpenConnections)
	}
	p.Listener = ln
	return nil
}

// ListenAndServe listens and serves until ctx is done.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	if p.Listener == nil {
		if err := p.Listen(); err != nil {
			return err
		}
	}

	s := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      p.Config.WriteTimeout,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	sig := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Shutdown(sctx)
		case <-sig:
		}
	}()
	defer close(sig)

	p.Logger.Info("Starting proxy", "addr", p.Listener.Addr().String(), "chain", p.ChainID)
	if err := s.Serve(p.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func rateLimited(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":"rate limit exceeded"}}`, CodeRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter remembers the status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// recoverAndLogHandler wraps an HTTP handler, adding error logging. If the
// inner handler panics, the panic is logged and a 500 is sent.
func recoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		begin := time.Now()

		defer func() {
			if e := recover(); e != nil {
				logger.Error("Panic in proxy handler", "err", e, "stack", string(debug.Stack()))
				sw.WriteHeader(http.StatusInternalServerError)
			}
			logger.Debug("Served proxy request",
				"method", r.Method,
				"status", sw.status,
				"duration", time.Since(begin),
				"remoteAddr", r.RemoteAddr,
			)
		}()

		handler.ServeHTTP(sw, r)
	})
}
