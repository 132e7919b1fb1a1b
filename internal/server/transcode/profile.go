package transcode

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Profile holds the encode settings of one codec.
type Profile struct {
	Params map[string]string `yaml:"params"`
	Ladder []string          `yaml:"ladder"`
}

// Profiles is keyed by codec name.
type Profiles map[string]Profile

func ParseProfiles(data []byte) (Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	for name, prof := range p {
		if len(prof.Ladder) == 0 {
			return nil, fmt.Errorf("profile %q: empty quality ladder", name)
		}
	}
	return p, nil
}

// DefaultProfiles returns the built-in profiles.
func DefaultProfiles() Profiles {
	p, err := ParseProfiles(defaultProfiles)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadProfiles returns the built-in profiles with the codecs defined in the
// file at path replacing their defaults. An empty path yields the defaults.
func LoadProfiles(path string) (Profiles, error) {
	p := DefaultProfiles()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	overlay, err := ParseProfiles(data)
	if err != nil {
		return nil, err
	}
	maps.Copy(p, overlay)
	return p, nil
}

// Job is the plan for one codec's encode.
type Job struct {
	Codec   string
	Params  map[string]string
	Ladder  []string
	Primary bool
}

// Settings combine the enabled codecs with their profiles.
type Settings struct {
	Codecs   Codec
	Profiles Profiles
}

// Plan returns one job per enabled codec in priority order; exactly the first is primary.
func (s Settings) Plan() ([]Job, error) {
	enabled := s.Codecs.Enabled()
	if len(enabled) == 0 {
		return nil, ErrNoCodecs
	}
	jobs := make([]Job, 0, len(enabled))
	for i, c := range enabled {
		prof, ok := s.Profiles[c.String()]
		if !ok {
			return nil, fmt.Errorf("no profile for codec %s", c)
		}
		jobs = append(jobs, Job{
			Codec:   c.String(),
			Params:  maps.Clone(prof.Params),
			Ladder:  slices.Clone(prof.Ladder),
			Primary: i == 0,
		})
	}
	return jobs, nil
}
