package commands

import (
	"encoding/json"
	"fmt"

	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light"
	"github.com/incubed/in3-go/light/transport/http"
	"github.com/incubed/in3-go/types"
)

// ClientProvider builds the light client used by a command.
type ClientProvider func(conf *config.Config, logger log.Logger) (*light.Client, error)

// DefaultClientProvider returns a client talking to the builtin chains over
// HTTP, configured by conf.
func DefaultClientProvider(conf *config.Config, logger log.Logger) (*light.Client, error) {
	tr := http.New(http.MaxBodyBytes(conf.Client.MaxResponseBytes))
	return light.NewClient(types.BuiltinChains(), tr, light.DefaultVerifiers(conf.Client.MaxBlockAge),
		ClientOptions(conf, logger)...)
}

// ClientOptions translates conf into client options. The store is opened
// here, so only call it once per process.
func ClientOptions(conf *config.Config, logger log.Logger) []light.Option {
	opts := []light.Option{
		light.Logger(logger),
		light.MaxAttempts(conf.Client.MaxAttempts),
		light.RequestTimeout(conf.Client.RequestTimeout),
		light.SignatureCount(conf.Client.SignatureCount),
		light.WeightConfig(*conf.Weights),
	}

	st, err := config.DefaultStoreProvider(conf)
	if err != nil {
		logger.Error("Can't open store, node lists won't be cached", "err", err)
	} else {
		opts = append(opts, light.Store(st))
	}

	// validated by conf.ValidateBasic
	if s, _ := conf.Signer(); s != nil {
		opts = append(opts, light.Signer(s))
	}

	if conf.Instrumentation.Prometheus {
		opts = append(opts, light.WithMetrics(light.PrometheusMetrics(conf.Instrumentation.Namespace)))
	}
	return opts
}

// parseParams turns command line arguments into JSON-RPC params. Arguments
// that are valid JSON are passed on as they are, anything else as string.
func parseParams(args []string) (json.RawMessage, error) {
	params := make([]json.RawMessage, len(args))
	for i, a := range args {
		if json.Valid([]byte(a)) {
			params[i] = json.RawMessage(a)
			continue
		}
		bz, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("param #%d: %w", i, err)
		}
		params[i] = bz
	}
	return json.Marshal(params)
}
