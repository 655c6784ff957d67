package model

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the CLI configuration: agent definitions, known targets
// and optional run schedules.
type Config struct {
	Version   int              `json:"version"` // fixed 0 for now
	Verbose   *bool            `json:"verbose,omitempty"`
	Agents    []AgentConfig    `json:"agents,omitempty"`
	Targets   []TargetConfig   `json:"targets,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// AgentConfig declares one agent. Script source is either inline or
// loaded from scriptFile relative to the config file.
type AgentConfig struct {
	Name       string  `json:"name"`
	Command    string  `json:"command"`
	Script     string  `json:"script,omitempty"`
	ScriptFile *string `json:"scriptFile,omitempty"`

	OnlyIfTargetAlive *bool `json:"onlyIfTargetAlive,omitempty"`
	OnlyIfIsAlive     *bool `json:"onlyIfIsAlive,omitempty"`
	SkipIfRanBefore   *bool `json:"skipIfRanBefore,omitempty"`

	Categories []string `json:"categories,omitempty"`
}

// TargetConfig seeds one target and its already known subdomains.
type TargetConfig struct {
	Name       string   `json:"name"`
	IsAlive    *bool    `json:"isAlive,omitempty"`
	Subdomains []string `json:"subdomains,omitempty"`
}

// ScheduleConfig attaches a cron expression to a (target, agent) pair.
type ScheduleConfig struct {
	Cron   string `json:"cron"`
	Target string `json:"target"`
	Agent  string `json:"agent"`

	Subdomain     *string `json:"subdomain,omitempty"`
	AllSubdomains *bool   `json:"allSubdomains,omitempty"`
}

// LoadConfig validates YAML from r against the CUE schema and decodes
// it into Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns an empty but valid configuration.
func DefaultConfig() Config {
	return Config{Version: 0}
}

// ResolveScripts loads every scriptFile reference, relative paths
// resolved against baseDir. Inline script and scriptFile together are
// rejected.
func (c *Config) ResolveScripts(baseDir string) error {
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.ScriptFile == nil {
			continue
		}
		if a.Script != "" {
			return fmt.Errorf("agent %s: both script and scriptFile given", a.Name)
		}
		path := *a.ScriptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: reading script: %w", a.Name, err)
		}
		a.Script = string(source)
	}
	return nil
}

// CueErrDetails flattens a CUE validation error into printable lines.
func CueErrDetails(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		msg, args := e.Msg()
		line := fmt.Sprintf(msg, args...)
		if path := e.Path(); len(path) > 0 {
			if strings.HasPrefix(path[0], "#") {
				path = path[1:]
			}
			if len(path) > 0 {
				line = strings.Join(path, ".") + ": " + line
			}
		}
		out = append(out, line)
	}
	return out
}
