// Package config loads the gateway's configuration surface, spec.md
// §6, from CLI flags with an optional YAML file merged on top,
// grounded on zalando-skipper/config/config.go's flag-then-yaml-merge
// pattern (config.Config, NewConfig, Parse).
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/protojour/arx/backend"
	"github.com/protojour/arx/gateway"
)

// Config is the full set of recognized options from spec.md §6. Every
// field carries a yaml tag so a config file can set it; flags of the
// same name (dashed) are registered by NewConfig and parsed on top.
type Config struct {
	ConfigFile string `yaml:"-"`

	Address     string `yaml:"address"`
	GatewayName string `yaml:"gateway-name"`

	LogLevel  string `yaml:"log_level"`
	AccessLog bool   `yaml:"access_log"`

	AuthlyURL string `yaml:"authly_url"`

	RequestMaxSize int64 `yaml:"request_max_size"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout"`

	HTTPAcceptInvalidCerts bool `yaml:"http_accept_invalid_certs"`
	UseRootCerts           bool `yaml:"use_root_certs"`
	UseWebpkiCerts         bool `yaml:"use_webpki_certs"`

	BackoffMinRetryInterval time.Duration `yaml:"backoff_min_retry_interval"`
	BackoffMaxRetryInterval time.Duration `yaml:"backoff_max_retry_interval"`
	BackoffMaxNumRetries    int           `yaml:"backoff_max_num_retries"`
	BackoffJitter           string        `yaml:"backoff_jitter"` // none|full|bounded

	HTTPCompressionLevel              string `yaml:"http_compression_level"` // fastest|best|default|<i32>
	HTTPCompressionMinSize            int    `yaml:"http_compression_min_size"`
	HTTPCompressionCompressImages     bool   `yaml:"http_compression_compress_images"`
	HTTPCompressionExemptContentTypes string `yaml:"http_compression_exempt_content_types"` // comma-separated

	CORSAllowOrigin         string `yaml:"cors_allow_origin"`   // comma-separated, "*" means any
	CORSAllowMethods        string `yaml:"cors_allow_methods"`  // comma-separated, "*" means any
	CORSAllowHeaders        string `yaml:"cors_allow_headers"`  // comma-separated, "*" means any
	CORSExposeHeaders       string `yaml:"cors_expose_headers"` // comma-separated
	CORSAllowCredentials    bool   `yaml:"cors_allow_credentials"`
	CORSAllowPrivateNetwork bool   `yaml:"cors_allow_private_network"`
	CORSMaxAge              int    `yaml:"cors_max_age"`

	StaticDir string `yaml:"static_dir"`
	DocsDir   string `yaml:"docs_dir"`
	OntoDir   string `yaml:"onto_dir"`

	fs *flag.FlagSet
}

const (
	defaultAddress         = ":80"
	defaultGatewayName     = "arx"
	defaultLogLevel        = "info"
	defaultConnectTimeout  = 10 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultResponseTimeout = 30 * time.Second
	defaultKeepAlive       = 30 * time.Second
)

// NewConfig returns a Config with its flags registered on a private
// FlagSet (rather than the global flag package skipper uses), so
// Parse can be called more than once in tests without colliding with
// other packages' flags.
func NewConfig() *Config {
	c := &Config{fs: flag.NewFlagSet("arx", flag.ContinueOnError)}

	c.fs.StringVar(&c.ConfigFile, "config-file", "", "path to a YAML file merged over the flag defaults")
	c.fs.StringVar(&c.Address, "address", defaultAddress, "address to listen on")
	c.fs.StringVar(&c.GatewayName, "gateway-name", defaultGatewayName, "name this gateway binds to in declarative route parentRefs")

	c.fs.StringVar(&c.LogLevel, "log-level", defaultLogLevel, "tracing/log verbosity")
	c.fs.BoolVar(&c.AccessLog, "access-log", true, "enable per-request access logging")

	c.fs.StringVar(&c.AuthlyURL, "authly-url", "", "base URL of the identity service")

	c.fs.Int64Var(&c.RequestMaxSize, "request-max-size", 0, "rejection threshold for request body size, 0 disables")

	c.fs.DurationVar(&c.ConnectTimeout, "connect-timeout", defaultConnectTimeout, "outbound connect timeout")
	c.fs.DurationVar(&c.RequestTimeout, "request-timeout", defaultRequestTimeout, "outbound overall request timeout")
	c.fs.DurationVar(&c.ResponseTimeout, "response-timeout", defaultResponseTimeout, "outbound response timeout")
	c.fs.DurationVar(&c.KeepAliveTimeout, "keep-alive-timeout", defaultKeepAlive, "outbound TCP/HTTP2 keep-alive interval")

	c.fs.BoolVar(&c.HTTPAcceptInvalidCerts, "http-accept-invalid-certs", false, "accept invalid upstream TLS certificates")
	c.fs.BoolVar(&c.UseRootCerts, "use-root-certs", true, "trust the OS root certificate store")
	c.fs.BoolVar(&c.UseWebpkiCerts, "use-webpki-certs", true, "trust the webpki root bundle")

	c.fs.DurationVar(&c.BackoffMinRetryInterval, "backoff-min-retry-interval", 100*time.Millisecond, "minimum outbound retry backoff interval")
	c.fs.DurationVar(&c.BackoffMaxRetryInterval, "backoff-max-retry-interval", 10*time.Second, "maximum outbound retry backoff interval")
	c.fs.IntVar(&c.BackoffMaxNumRetries, "backoff-max-num-retries", 0, "maximum outbound retry attempts, 0 disables retries")
	c.fs.StringVar(&c.BackoffJitter, "backoff-jitter", "full", "retry jitter mode: none|full|bounded")

	c.fs.StringVar(&c.HTTPCompressionLevel, "http-compression-level", "default", "fastest|best|default|<i32>")
	c.fs.IntVar(&c.HTTPCompressionMinSize, "http-compression-min-size", 0, "minimum known response size to compress")
	c.fs.BoolVar(&c.HTTPCompressionCompressImages, "http-compression-compress-images", false, "also compress image/* (except image/svg+xml, always compressed)")
	c.fs.StringVar(&c.HTTPCompressionExemptContentTypes, "http-compression-exempt-content-types", "", "comma-separated content types never compressed")

	c.fs.StringVar(&c.CORSAllowOrigin, "cors-allow-origin", "", "comma-separated allowed origins, * means any")
	c.fs.StringVar(&c.CORSAllowMethods, "cors-allow-methods", "*", "comma-separated allowed methods, * means any")
	c.fs.StringVar(&c.CORSAllowHeaders, "cors-allow-headers", "*", "comma-separated allowed headers, * means any")
	c.fs.StringVar(&c.CORSExposeHeaders, "cors-expose-headers", "", "comma-separated exposed response headers")
	c.fs.BoolVar(&c.CORSAllowCredentials, "cors-allow-credentials", false, "set Access-Control-Allow-Credentials")
	c.fs.BoolVar(&c.CORSAllowPrivateNetwork, "cors-allow-private-network", false, "honor Access-Control-Request-Private-Network")
	c.fs.IntVar(&c.CORSMaxAge, "cors-max-age", 0, "Access-Control-Max-Age in seconds, 0 omits the header")

	c.fs.StringVar(&c.StaticDir, "static-dir", "", "directory served at /static/*path")
	c.fs.StringVar(&c.DocsDir, "docs-dir", "", "directory served at /docs/*path, empty disables the app")
	c.fs.StringVar(&c.OntoDir, "onto-dir", "", "directory served at /onto/*path, empty disables the app")

	return c
}

// Parse parses args against the registered flags, then, when
// -config-file names a file, unmarshals it over the already-parsed
// Config and re-parses args so CLI flags take final precedence over
// the file — the same two-pass order as skipper's Config.Parse.
func (c *Config) Parse(args []string) error {
	if err := c.fs.Parse(args); err != nil {
		return err
	}

	if c.ConfigFile != "" {
		raw, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("config: reading %s: %w", c.ConfigFile, err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return fmt.Errorf("config: parsing %s: %w", c.ConfigFile, err)
		}
		if err := c.fs.Parse(args); err != nil {
			return err
		}
	}

	return nil
}

// LogrusLevel parses LogLevel, defaulting to Info on an unrecognized
// value rather than failing startup over a log-verbosity typo.
func (c *Config) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Jitter translates BackoffJitter into backend.Jitter, defaulting to
// JitterFull for an unrecognized value (matching the flag's own
// default).
func (c *Config) Jitter() backend.Jitter {
	switch strings.ToLower(c.BackoffJitter) {
	case "none":
		return backend.JitterNone
	case "bounded":
		return backend.JitterBounded
	default:
		return backend.JitterFull
	}
}

// CompressionLevel translates HTTPCompressionLevel's string vocabulary
// (fastest|best|default|<i32>) into a compress/flate-compatible level.
func (c *Config) CompressionLevel() int {
	switch strings.ToLower(strings.TrimSpace(c.HTTPCompressionLevel)) {
	case "fastest":
		return 1
	case "best":
		return 9
	case "default", "":
		return 0
	default:
		if n, err := strconv.Atoi(c.HTTPCompressionLevel); err == nil {
			return n
		}
		return 0
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BackoffPolicy builds the backend.BackoffPolicy spec.md §6 names.
func (c *Config) BackoffPolicy() backend.BackoffPolicy {
	return backend.BackoffPolicy{
		MinInterval: c.BackoffMinRetryInterval,
		MaxInterval: c.BackoffMaxRetryInterval,
		MaxRetries:  c.BackoffMaxNumRetries,
		Jitter:      c.Jitter(),
	}
}

// ClientConfig builds the backend.Config shared by every outbound
// client holder; UserAgent is left to the caller since it differs
// between the default and mesh holders in the original (mesh clients
// identify themselves distinctly to the identity mesh).
func (c *Config) ClientConfig(userAgent string) backend.Config {
	return backend.Config{
		UserAgent:          userAgent,
		ConnectTimeout:     c.ConnectTimeout,
		RequestTimeout:     c.RequestTimeout,
		ResponseTimeout:    c.ResponseTimeout,
		KeepAliveTimeout:   c.KeepAliveTimeout,
		AcceptInvalidCerts: c.HTTPAcceptInvalidCerts,
		UseRootCerts:       c.UseRootCerts,
		UseWebpkiCerts:     c.UseWebpkiCerts,
		Backoff:            c.BackoffPolicy(),
	}
}

// CompressionConfig builds the gateway.CompressionConfig spec.md §6
// names for the response-compression predicate.
func (c *Config) CompressionConfig() gateway.CompressionConfig {
	return gateway.CompressionConfig{
		Level:              c.CompressionLevel(),
		MinSize:            c.HTTPCompressionMinSize,
		CompressImages:     c.HTTPCompressionCompressImages,
		ExemptContentTypes: splitList(c.HTTPCompressionExemptContentTypes),
	}
}

// CORSConfig builds the gateway.CORSConfig spec.md §6 names.
func (c *Config) CORSConfig() gateway.CORSConfig {
	return gateway.CORSConfig{
		AllowOrigin:         splitList(c.CORSAllowOrigin),
		AllowMethods:        splitList(c.CORSAllowMethods),
		AllowHeaders:        splitList(c.CORSAllowHeaders),
		ExposeHeaders:       splitList(c.CORSExposeHeaders),
		AllowCredentials:    c.CORSAllowCredentials,
		AllowPrivateNetwork: c.CORSAllowPrivateNetwork,
		MaxAge:              c.CORSMaxAge,
	}
}
