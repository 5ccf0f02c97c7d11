package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light/nodelist"
	"github.com/incubed/in3-go/light/proxy"
	"github.com/incubed/in3-go/light/signer"
	"github.com/incubed/in3-go/light/signer/pk"
	"github.com/incubed/in3-go/types"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// StoreBackendMem keeps node lists and anchors in memory only.
	StoreBackendMem = "memdb"
	// StoreBackendLevelDB keeps them in a goleveldb database.
	StoreBackendLevelDB = "goleveldb"
	// StoreBackendFile keeps every entry in its own file.
	StoreBackendFile = "file"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultIn3Dir    = ".in3"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration of the in3 client.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Client          *ClientConfig          `mapstructure:"client"`
	Weights         *nodelist.WeightConfig `mapstructure:"weights"`
	Proxy           *proxy.Config          `mapstructure:"proxy"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	weights := nodelist.DefaultWeightConfig()
	proxyCfg := proxy.DefaultConfig()
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Client:          DefaultClientConfig(),
		Weights:         &weights,
		Proxy:           &proxyCfg,
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseConfig = TestBaseConfig()
	cfg.Client = TestClientConfig()
	cfg.Proxy.ListenAddress = "127.0.0.1:0"
	return cfg
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Client.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [client] section: %w", err)
	}
	if err := cfg.Weights.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [weights] section: %w", err)
	}
	if err := cfg.Proxy.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [proxy] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration of the in3 client.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// The chain requests go to unless they name another one. Either a
	// builtin chain name or a chain id.
	Chain string `mapstructure:"chain"`

	// Storage of node lists and trust anchors: memdb | goleveldb | file
	StoreBackend string `mapstructure:"store-backend"`

	// Directory of the store
	StorePath string `mapstructure:"store-dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// Hex encoded secp256k1 key used to sign requests. Empty disables
	// signing.
	SignerKey string `mapstructure:"signer-key"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Chain:        "mainnet",
		StoreBackend: StoreBackendLevelDB,
		StorePath:    defaultDataDir,
		LogLevel:     DefaultLogLevel,
		LogFormat:    LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Chain = "local"
	cfg.StoreBackend = StoreBackendMem
	return cfg
}

// ChainID returns the id of the configured chain.
func (cfg BaseConfig) ChainID() (types.ChainID, error) {
	return types.ParseChainID(cfg.Chain)
}

// StoreDir returns the full path to the store directory.
func (cfg BaseConfig) StoreDir() string {
	return rootify(cfg.StorePath, cfg.RootDir)
}

// Signer returns the signer configured by SignerKey, or nil.
func (cfg BaseConfig) Signer() (signer.Signer, error) {
	if cfg.SignerKey == "" {
		return nil, nil
	}
	return pk.FromHex(cfg.SignerKey)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	if _, err := cfg.ChainID(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	switch cfg.StoreBackend {
	case StoreBackendMem, StoreBackendLevelDB, StoreBackendFile:
	default:
		return fmt.Errorf("unknown store-backend %q", cfg.StoreBackend)
	}
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain' or 'json')")
	}
	if _, err := cfg.Signer(); err != nil {
		return fmt.Errorf("signer-key: %w", err)
	}
	return nil
}

// DefaultLogLevel is the log level of a fresh configuration.
const DefaultLogLevel = log.LogLevelInfo

//-----------------------------------------------------------------------------
// ClientConfig

// ClientConfig defines how requests are sent and verified.
type ClientConfig struct {
	// Nodes tried per request before giving up
	MaxAttempts int `mapstructure:"max-attempts"`

	// Time a single node has to answer
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// Proof requested from nodes: none | standard | full
	Proof string `mapstructure:"proof"`

	// Signer nodes asked to sign block hashes on eth chains
	SignatureCount int `mapstructure:"signature-count"`

	// Blocks the node has to deliver on top of a proven block
	Finality uint64 `mapstructure:"finality"`

	// Oldest block, relative to the trust anchor, accepted without being
	// linked to it. 0 selects the verifier default.
	MaxBlockAge uint64 `mapstructure:"max-block-age"`

	// Largest node response accepted
	MaxResponseBytes int64 `mapstructure:"max-response-bytes"`
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxAttempts:      7,
		RequestTimeout:   10 * time.Second,
		Proof:            types.ProofStandard.String(),
		SignatureCount:   1,
		MaxResponseBytes: 10 << 20,
	}
}

// TestClientConfig returns a client configuration for testing.
func TestClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxAttempts = 3
	cfg.RequestTimeout = time.Second
	return cfg
}

// ProofMode returns the parsed proof mode.
func (cfg *ClientConfig) ProofMode() (types.ProofMode, error) {
	return types.ParseProofMode(cfg.Proof)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ClientConfig) ValidateBasic() error {
	if cfg.MaxAttempts < 1 {
		return errors.New("max-attempts must be at least 1")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	if _, err := cfg.ProofMode(); err != nil {
		return err
	}
	if cfg.SignatureCount < 0 {
		return errors.New("signature-count can't be negative")
	}
	if cfg.MaxResponseBytes <= 0 {
		return errors.New("max-response-bytes must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "in3",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus-listen-addr can't be empty with prometheus enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
