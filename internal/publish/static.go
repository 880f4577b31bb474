package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"gopkg.in/yaml.v3"
)

type staticEntry struct {
	Merchant string `yaml:"merchant"`
	Code     string `yaml:"code"`
	Version  string `yaml:"version"`
	Crc      string `yaml:"crc"`
	Size     int    `yaml:"size"`
	Path     string `yaml:"path"`
	Scope    string `yaml:"scope"`
	Target   string `yaml:"target"`
}

type staticFile struct {
	Publishes []staticEntry `yaml:"publishes"`
}

// StaticSource serves a fixed publish table loaded from YAML.
type StaticSource struct {
	byMerchant map[string][]repo.FilePublish
}

func scopeType(scope string) (int, error) {
	switch scope {
	case "", "merchant":
		return repo.PublishTypeMerchant, nil
	case "line":
		return repo.PublishTypeLine, nil
	case "terminal":
		return repo.PublishTypeTerminal, nil
	}
	return 0, fmt.Errorf("unknown scope %q", scope)
}

func LoadStaticFile(path string) (*StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("publish -> read %s: %w", path, err)
	}
	return ParseStatic(raw)
}

func ParseStatic(raw []byte) (*StaticSource, error) {
	var doc staticFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("publish -> parse yaml: %w", err)
	}

	s := &StaticSource{byMerchant: make(map[string][]repo.FilePublish)}
	for i, e := range doc.Publishes {
		pt, err := scopeType(e.Scope)
		if err != nil {
			return nil, fmt.Errorf("publish -> entry %d: %w", i, err)
		}
		if e.Merchant == "" || e.Code == "" || len(e.Version) != 4 {
			return nil, fmt.Errorf("publish -> entry %d: merchant, code and a 4 char version are required", i)
		}
		s.byMerchant[e.Merchant] = append(s.byMerchant[e.Merchant], repo.FilePublish{
			ID:            int64(i + 1),
			MerchantID:    e.Merchant,
			FileTypeID:    e.Code,
			FileVer:       e.Version,
			Crc:           e.Crc,
			FileSize:      e.Size,
			FilePath:      e.Path,
			PublishType:   pt,
			PublishTarget: e.Target,
		})
	}
	return s, nil
}

func (s *StaticSource) Expected(_ context.Context, t Target) (map[string]Expectation, error) {
	return resolve(s.byMerchant[t.MerchantID], t), nil
}

func (s *StaticSource) Lookup(_ context.Context, merchantID, code, version string) (*Expectation, bool, error) {
	e, ok := lookup(s.byMerchant[merchantID], code, version)
	return e, ok, nil
}
