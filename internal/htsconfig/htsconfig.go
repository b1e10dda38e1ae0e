// Package htsconfig loads and validates the server configuration: a TOML
// file merged with HTSGET_-prefixed environment variables, covering the
// listen addresses, the paired data server, engine tuning, the service-info
// descriptor and the resolver table.
package htsconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Data        DataServer  `mapstructure:"data"`
	Engine      Engine      `mapstructure:"engine"`
	Log         Log         `mapstructure:"log"`
	ServiceInfo ServiceInfo `mapstructure:"service_info"`
	Resolvers   []Resolver  `mapstructure:"resolver"`
}

// Server configures the ticket server's HTTP listener.
type Server struct {
	Addr    string `mapstructure:"addr"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

// DataServer configures the paired data server local ticket URLs point back
// at. Scheme is derived from the ticket server's TLS settings, not
// configured separately: mixing a TLS ticket server with a plaintext data
// server would leak the ranges the ticket protects.
type DataServer struct {
	Enabled    bool   `mapstructure:"enabled"`
	Authority  string `mapstructure:"authority"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// Engine tunes the format engines.
type Engine struct {
	// BlockSizeLimit bounds the header probe read and the merged chunk
	// size, in bytes.
	BlockSizeLimit uint64 `mapstructure:"block_size_limit"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// ServiceInfo holds the static service descriptor served at
// /reads/service-info and /variants/service-info.
type ServiceInfo struct {
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	Version          string `mapstructure:"version"`
	OrganizationName string `mapstructure:"organization_name"`
	OrganizationURL  string `mapstructure:"organization_url"`
	ContactURL       string `mapstructure:"contact_url"`
	DocumentationURL string `mapstructure:"documentation_url"`
	CreatedAt        string `mapstructure:"created_at"`
	UpdatedAt        string `mapstructure:"updated_at"`
	Environment      string `mapstructure:"environment"`
}

// Resolver is one entry of the resolver table, evaluated in declared order.
type Resolver struct {
	Name         string  `mapstructure:"name"`
	Regex        string  `mapstructure:"regex"`
	Substitution string  `mapstructure:"substitution"`
	Storage      Storage `mapstructure:"storage"`
	Guard        Guard   `mapstructure:"guard"`
}

// Storage is the tagged storage variant a resolver binds matched keys to.
// Kind selects which of the variant blocks applies.
type Storage struct {
	Kind  string       `mapstructure:"kind"`
	Local LocalStorage `mapstructure:"local"`
	S3    S3Storage    `mapstructure:"s3"`
	GCS   GCSStorage   `mapstructure:"gcs"`
}

// The storage kinds a resolver can bind to.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageGCS   = "gcs"
)

// LocalStorage configures the local-file backend.
type LocalStorage struct {
	Path string `mapstructure:"path"`
}

// S3Storage configures the S3 backend. Endpoint overrides the default S3
// endpoint for S3-compatible servers.
type S3Storage struct {
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

// GCSStorage configures the GCS backend. SignerEmail and SignerKeyFile name
// the service account identity used to mint V4 signed ticket URLs.
type GCSStorage struct {
	Bucket        string `mapstructure:"bucket"`
	SignerEmail   string `mapstructure:"signer_email"`
	SignerKeyFile string `mapstructure:"signer_key_file"`
}

// Guard restricts the queries a resolver may serve. A nil list means "allow
// any value"; an unset interval bound means unbounded, while a bound set to
// zero is enforced like any other value.
type Guard struct {
	AllowReferenceNames []string `mapstructure:"allow_reference_names"`
	AllowFields         []string `mapstructure:"allow_fields"`
	AllowTags           []string `mapstructure:"allow_tags"`
	AllowFormats        []string `mapstructure:"allow_formats"`
	AllowClasses        []string `mapstructure:"allow_classes"`
	AllowIntervalStart  *uint32  `mapstructure:"allow_interval_start"`
	AllowIntervalEnd    *uint32  `mapstructure:"allow_interval_end"`
}

// Load reads the TOML configuration at path (optional; empty means defaults
// plus environment only), applies HTSGET_-prefixed environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.addr", "localhost:3000")
	v.SetDefault("data.enabled", true)
	v.SetDefault("data.path_prefix", "/data")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("HTSGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations a running server could not honor. Every
// resolver regex must compile, every substitution reference must name a
// capture group the regex actually defines, and every storage block must be
// complete for its declared kind.
func (c *Config) Validate() error {
	if len(c.Resolvers) == 0 {
		return fmt.Errorf("no resolvers configured")
	}
	for i := range c.Resolvers {
		r := &c.Resolvers[i]
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return fmt.Errorf("resolver %d: compiling regex %q: %v", i, r.Regex, err)
		}
		if err := validateSubstitution(re, r.Substitution); err != nil {
			return fmt.Errorf("resolver %d: %v", i, err)
		}
		if err := r.Storage.validate(); err != nil {
			return fmt.Errorf("resolver %d: %v", i, err)
		}
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

func (s *Storage) validate() error {
	switch s.Kind {
	case StorageLocal:
		if s.Local.Path == "" {
			return fmt.Errorf("local storage requires a path")
		}
	case StorageS3:
		if s.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires a bucket")
		}
	case StorageGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("gcs storage requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage kind %q", s.Kind)
	}
	return nil
}

// substitutionRefs matches the $name, ${name}, $n and ${n} references the
// regexp package's Expand understands.
var substitutionRefs = regexp.MustCompile(`\$(?:\{([^}]*)\}|([0-9A-Za-z_]+))`)

// validateSubstitution rejects substitution templates referencing capture
// groups re does not define, so a bad resolver entry fails at load time
// instead of silently expanding to an empty key at request time.
func validateSubstitution(re *regexp.Regexp, substitution string) error {
	names := make(map[string]bool)
	for _, n := range re.SubexpNames() {
		if n != "" {
			names[n] = true
		}
	}

	for _, m := range substitutionRefs.FindAllStringSubmatch(substitution, -1) {
		ref := m[1]
		if ref == "" {
			ref = m[2]
		}
		if ref == "" {
			return fmt.Errorf("substitution %q contains an empty ${} reference", substitution)
		}
		if n, ok := parseGroupNumber(ref); ok {
			if n > re.NumSubexp() {
				return fmt.Errorf("substitution %q references group %d, but regex %q has only %d", substitution, n, re.String(), re.NumSubexp())
			}
			continue
		}
		if !names[ref] {
			return fmt.Errorf("substitution %q references group %q, which regex %q does not define", substitution, ref, re.String())
		}
	}
	return nil
}

func parseGroupNumber(ref string) (int, bool) {
	n := 0
	for _, c := range ref {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
