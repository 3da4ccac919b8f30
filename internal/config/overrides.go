package config

import (
	"io/ioutil"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Overrides holds ambient, non-protocol tuning knobs — never the six
// Common.cfg keys or PeerInfo.cfg rows, which always keep spec.md §6's
// exact fixed grammar. Loaded the way the teacher's handleServer layers
// ~/rain/config.yaml over torrent.DefaultConfig: start from DefaultOverrides,
// then yaml.Unmarshal on top if the file exists.
type Overrides struct {
	OutboundQueueDepth int           `yaml:"outboundQueueDepth"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	ConnectReadTimeout time.Duration `yaml:"connectReadTimeout"`
	AuditDir           string        `yaml:"auditDir"`
	LogLevel           string        `yaml:"logLevel"`
}

// DefaultOverrides mirrors the teacher's torrent.DefaultConfig: sane values
// used when no overrides file is given or a key is left unset.
func DefaultOverrides() Overrides {
	return Overrides{
		OutboundQueueDepth: 64,
		DialTimeout:        time.Minute,
		ConnectReadTimeout: 3 * time.Minute,
		AuditDir:           "",
		LogLevel:           "notice",
	}
}

// LoadOverrides expands ~ in path (github.com/mitchellh/go-homedir, as the
// teacher's handleServer does for its --config flag) and merges the YAML
// file at path onto DefaultOverrides. A missing file is not an error —
// overrides are optional ambient tuning, not protocol configuration.
func LoadOverrides(path string) (Overrides, error) {
	o := DefaultOverrides()
	if path == "" {
		return o, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return o, err
	}
	b, err := ioutil.ReadFile(expanded) // nolint: gosec
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return o, err
	}
	if err := yaml.Unmarshal(b, &o); err != nil {
		return o, err
	}
	return o, nil
}

// ExpandPath expands a leading ~ the same way for Common.cfg/PeerInfo.cfg
// paths passed on the command line.
func ExpandPath(path string) (string, error) {
	return homedir.Expand(path)
}
