package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/n5knossos/core"
)

// Settings is the TOML configuration of a conversion.  Any setting may also be given on
// the command line, which takes precedence.
type Settings struct {
	Logging core.LogConfig `toml:"logging"`
	Source  SourceConfig   `toml:"source"`
	Extract ExtractConfig  `toml:"extract"`
	Cuber   CuberConfig    `toml:"cuber"`
	Server  ServerConfig   `toml:"server"`
}

// SourceConfig gives the container and dataset to convert.
type SourceConfig struct {
	// Container is a local path or a gs:// or s3:// reference.
	Container string `toml:"container"`
	Dataset   string `toml:"dataset"`
	Engine    string `toml:"engine"`
	CacheMB   int    `toml:"cache_mb"`
}

type ExtractConfig struct {
	Dir        string `toml:"dir"` // image slice directory
	ChunkSize  int    `toml:"chunk_size"`
	Workers    int    `toml:"workers"`
	Retries    int    `toml:"retries"`
	Format     string `toml:"format"`
	Sequential bool   `toml:"sequential"`
	DryRun     bool   `toml:"dryrun"`
}

type CuberConfig struct {
	Binary    string   `toml:"binary"`
	Config    string   `toml:"config"`
	OutputDir string   `toml:"output_dir"`
	Args      []string `toml:"args"`
	Strict    bool     `toml:"strict"`
	Skip      bool     `toml:"skip"`
}

type ServerConfig struct {
	HTTPAddress string   `toml:"http"`
	CorsDomains []string `toml:"cors_domains"`
}

// LoadSettings reads a TOML settings file.  Relative paths in the file are taken relative
// to the file's own directory.
func LoadSettings(filename string) (*Settings, error) {
	s := new(Settings)
	if filename == "" {
		return s, nil
	}
	md, err := toml.DecodeFile(filename, s)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML settings %q: %v", filename, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		core.Warningf("Ignoring unknown settings in %s: %v\n", filename, undecoded)
	}
	if err := s.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML settings: %v", err)
	}
	core.Debugf("Settings from %s: %+v\n", filename, *s)
	return s, nil
}

type pathSetting struct {
	name string
	path *string
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (s *Settings) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	paths := []pathSetting{
		{"logging.logfile", &s.Logging.Logfile},
		{"extract.dir", &s.Extract.Dir},
		{"cuber.config", &s.Cuber.Config},
		{"cuber.output_dir", &s.Cuber.OutputDir},
	}
	// only local containers are paths
	if !strings.Contains(s.Source.Container, "://") {
		paths = append(paths, pathSetting{"source.container", &s.Source.Container})
	}
	for _, p := range paths {
		if *p.path == "" {
			continue
		}
		abs, err := core.ConvertToAbsolute(*p.path, configDir)
		if err != nil {
			return fmt.Errorf("error converting %s to absolute path: %q", p.name, *p.path)
		}
		*p.path = abs
	}
	return nil
}
