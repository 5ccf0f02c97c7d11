package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/creachadair/atomicfile"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist and writes a default config file if there is none.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, defaultConfigDir), filepath.Join(rootDir, defaultDataDir)} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return writeDefaultConfigFileIfNone(rootDir)
}

// ConfigFile returns the path of the config file below rootDir.
func ConfigFile(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath. This function is called by cmd/in3/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(ConfigFile(rootDir))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	_, err := atomicfile.WriteAll(path, &buffer, 0644)
	return err
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	_, err := os.Stat(ConfigFile(rootDir))
	if errors.Is(err, fs.ErrNotExist) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return err
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/in3/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.in3" by default, but could be changed via $IN3_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Chain requests go to unless they name another one: a builtin chain
# (mainnet | goerli | btc | ipfs | local) or a chain id
chain = "{{ .BaseConfig.Chain }}"

# Storage of node lists and trust anchors: memdb | goleveldb | file
# * memdb
#   - nothing survives a restart, boot nodes are used every time
# * goleveldb (github.com/syndtr/goleveldb)
#   - pure go
# * file
#   - one file per entry, replaced atomically
store-backend = "{{ .BaseConfig.StoreBackend }}"

# Directory of the store
store-dir = "{{ .BaseConfig.StorePath }}"

# Output level for logging: debug | info | warn | error
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Hex encoded secp256k1 key used to sign requests. Leave empty to send
# unsigned requests.
signer-key = "{{ .BaseConfig.SignerKey }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###          Client Configuration Options           ###
#######################################################
[client]

# Nodes tried per request before giving up
max-attempts = {{ .Client.MaxAttempts }}

# Time a single node has to answer
request-timeout = "{{ .Client.RequestTimeout }}"

# Proof requested from nodes: none | standard | full
proof = "{{ .Client.Proof }}"

# Signer nodes asked to sign block hashes on eth chains
signature-count = {{ .Client.SignatureCount }}

# Blocks the node has to deliver on top of a proven block
finality = {{ .Client.Finality }}

# Oldest block, relative to the trust anchor, accepted without being linked
# to it. 0 selects the verifier default.
max-block-age = {{ .Client.MaxBlockAge }}

# Largest node response accepted, in bytes
max-response-bytes = {{ .Client.MaxResponseBytes }}

#######################################################
###        Node Weight Configuration Options        ###
#######################################################
[weights]

initial-weight = {{ .Weights.InitialWeight }}
ceiling = {{ .Weights.Ceiling }}
floor = {{ .Weights.Floor }}

# Factors applied to the weight of a node after a success or failure
success-factor = {{ .Weights.SuccessFactor }}
failure-factor = {{ .Weights.FailureFactor }}

# Failures in a row after which a node is blacklisted
max-consecutive-failures = {{ .Weights.MaxConsecutiveFailures }}
blacklist-duration = "{{ .Weights.BlacklistDuration }}"

#######################################################
###          Proxy Server Configuration Options     ###
#######################################################
[proxy]

# TCP address the verifying JSON-RPC proxy listens on
laddr = "{{ .Proxy.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors-allowed-origins = [{{ range .Proxy.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# Maximum number of simultaneous connections
# 0 - unlimited.
max-open-connections = {{ .Proxy.MaxOpenConnections }}

# Maximum size of request body, in bytes
max-body-bytes = {{ .Proxy.MaxBodyBytes }}

# Requests served per second, 0 - unlimited
rate-limit = {{ .Proxy.RateLimit }}
rate-burst = {{ .Proxy.RateBurst }}

# Time to answer one request, retries included
write-timeout = "{{ .Proxy.WriteTimeout }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
