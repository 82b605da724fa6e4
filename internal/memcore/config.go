package memcore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/agentmem/memvcs/internal/memcore/errs"
)

// Config is the decoded form of the repo-level structured config file
// (<gitDir>/config), covering every key in the configuration table.
type Config struct {
	Author struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"author"`

	Core struct {
		DefaultBranch string `toml:"default_branch"`
		Compression   bool   `toml:"compression"`
	} `toml:"core"`

	GC struct {
		PruneDays int `toml:"prune_days"`
	} `toml:"gc"`

	Signing struct {
		Enabled bool `toml:"enabled"`
	} `toml:"signing"`

	Encryption struct {
		Enabled bool `toml:"enabled"`
		Salt    string `toml:"salt"`
		KDF     struct {
			MemoryKiB uint32 `toml:"memory"`
			Passes    uint32 `toml:"passes"`
		} `toml:"kdf"`
	} `toml:"encryption"`

	Merge struct {
		// StrategyOverride maps a memory class name ("episodic", "semantic",
		// "procedural", "other") to a replacement strategy name.
		StrategyOverride map[string]string `toml:"strategy_override"`
	} `toml:"merge"`

	Pack struct {
		Delta struct {
			Enabled   bool `toml:"enabled"`
			MaxChain  int  `toml:"max_chain"`
		} `toml:"delta"`
	} `toml:"pack"`

	Similarity struct {
		Tau1 float64 `toml:"tau1"`
		Tau2 int     `toml:"tau2"`
		Tau3 float64 `toml:"tau3"`
	} `toml:"similarity"`

	Trust struct {
		DefaultLevel string `toml:"default_level"`
	} `toml:"trust"`
}

// DefaultConfig returns the configuration applied to a freshly initialized
// repository, matching the defaults named throughout spec.md.
func DefaultConfig() *Config {
	c := &Config{}
	c.Core.DefaultBranch = "main"
	c.Core.Compression = true
	c.GC.PruneDays = 90
	c.Signing.Enabled = false
	c.Encryption.Enabled = false
	c.Encryption.KDF.MemoryKiB = 64 * 1024 // 64 MiB minimum per spec
	c.Encryption.KDF.Passes = 3
	c.Merge.StrategyOverride = map[string]string{}
	c.Pack.Delta.Enabled = true
	c.Pack.Delta.MaxChain = 16
	c.Similarity.Tau1 = 0.5
	c.Similarity.Tau2 = 15
	c.Similarity.Tau3 = 0.7
	c.Trust.DefaultLevel = "UNTRUSTED"
	return c
}

// LoadConfig reads and decodes the TOML config file at path.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configuration values that violate a stated invariant,
// such as the KDF hardness floor or the pack delta chain-depth ceiling.
func (c *Config) Validate() error {
	if c.Encryption.Enabled && c.Encryption.KDF.MemoryKiB < 64*1024 {
		return errs.New(errs.InvalidConfig, fmt.Sprintf("encryption.kdf.memory must be >= 65536 KiB, got %d", c.Encryption.KDF.MemoryKiB))
	}
	if c.Encryption.Enabled && c.Encryption.KDF.Passes < 3 {
		return errs.New(errs.InvalidConfig, fmt.Sprintf("encryption.kdf.passes must be >= 3, got %d", c.Encryption.KDF.Passes))
	}
	if c.Pack.Delta.MaxChain > 16 {
		return errs.New(errs.InvalidConfig, fmt.Sprintf("pack.delta.max_chain must be <= 16, got %d", c.Pack.Delta.MaxChain))
	}
	return nil
}

// Save encodes the config as TOML and writes it atomically to path.
func (c *Config) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-config-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(c); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// StrategyFor resolves the effective merge strategy name for class,
// consulting merge.strategy_override before falling back to the class's
// built-in default.
func (c *Config) StrategyFor(class MemoryClass) string {
	if override, ok := c.Merge.StrategyOverride[class.String()]; ok && override != "" {
		return override
	}
	switch class {
	case ClassEpisodic:
		return "episodic"
	case ClassProcedural:
		return "procedural"
	default:
		return "semantic"
	}
}
