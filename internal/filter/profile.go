package filter

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/navdata"
)

// Profile represents the record filter section of a compile profile
type Profile struct {
	Airports       *Rule `yaml:"airports,omitempty"`
	Navaids        *Rule `yaml:"navaids,omitempty"`
	Runways        *Rule `yaml:"runways,omitempty"`
	ProcedureFixes *Rule `yaml:"procedure_fixes,omitempty"`
	Boundaries     *Rule `yaml:"boundaries,omitempty"`
	// Airways is matched against name, class and format of each segment
	Airways *Rule `yaml:"airways,omitempty"`
	// BBox uses the command line format "minlon,minlat,maxlon,maxlat"
	BBox string `yaml:"bbox,omitempty"`
}

// Rule defines filtering rules for one record kind
type Rule struct {
	// Include lists attribute values to keep. Values may be glob patterns.
	// If empty, everything is included.
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude is applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these attributes must be non-empty
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadProfile loads a filter profile from a YAML file
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses a YAML filter profile
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse filter YAML: %w", err)
	}
	if _, err := config.ParseBBox(p.BBox); err != nil {
		return nil, fmt.Errorf("invalid filter bbox: %w", err)
	}
	return &p, nil
}

// Filter decides which records and airway segments enter the compiled database
type Filter struct {
	rules   map[navdata.Kind]*Rule
	airways *Rule
	bbox    *config.BBox
}

// New creates a filter from a profile. bbox overrides the profile's bbox when set.
func New(p *Profile, bbox *config.BBox) (*Filter, error) {
	if p == nil {
		p = &Profile{}
	}
	f := &Filter{
		rules: map[navdata.Kind]*Rule{
			navdata.KindAirport:      p.Airports,
			navdata.KindNavaid:       p.Navaids,
			navdata.KindRunway:       p.Runways,
			navdata.KindProcedureFix: p.ProcedureFixes,
			navdata.KindBoundary:     p.Boundaries,
		},
		airways: p.Airways,
		bbox:    bbox,
	}
	if f.bbox == nil || !f.bbox.IsSet {
		b, err := config.ParseBBox(p.BBox)
		if err != nil {
			return nil, err
		}
		f.bbox = b
	}
	return f, nil
}

// Keep reports whether rec passes the bbox and its kind's rule
func (f *Filter) Keep(rec navdata.Record) bool {
	if f == nil {
		return true
	}
	if !f.inBBox(rec) {
		return false
	}
	rule := f.rules[rec.Kind()]
	if rule == nil {
		return true
	}
	return rule.Match(navdata.Attributes(rec))
}

// KeepSegment reports whether an airway segment passes the airway rule.
// Segments carry no position of their own, the bbox applies to their
// endpoints through the records filtered out.
func (f *Filter) KeepSegment(seg *navdata.AirwaySegment) bool {
	if f == nil || f.airways == nil {
		return true
	}
	return f.airways.Match(map[string]string{
		"name":   seg.Name,
		"class":  seg.Class.String(),
		"format": string(seg.Format),
	})
}

// HasFilter returns true if any filtering is enabled
func (f *Filter) HasFilter() bool {
	if f == nil {
		return false
	}
	if f.bbox != nil && f.bbox.IsSet {
		return true
	}
	if f.airways.active() {
		return true
	}
	for _, r := range f.rules {
		if r.active() {
			return true
		}
	}
	return false
}

func (f *Filter) inBBox(rec navdata.Record) bool {
	if f.bbox == nil || !f.bbox.IsSet {
		return true
	}
	if b, ok := rec.(*navdata.Boundary); ok {
		lo, hi := b.Bounds()
		return lo.Lon <= f.bbox.MaxLon && hi.Lon >= f.bbox.MinLon &&
			lo.Lat <= f.bbox.MaxLat && hi.Lat >= f.bbox.MinLat
	}
	pos := rec.Common().Pos
	return f.bbox.Contains(pos.Lat, pos.Lon)
}

func (r *Rule) active() bool {
	return r != nil && (len(r.Include) > 0 || len(r.Exclude) > 0 || len(r.RequireAny) > 0)
}

// Match checks if the given attributes match the rule.
// Returns true if the record should be included.
func (r *Rule) Match(attrs map[string]string) bool {
	if r == nil {
		return true
	}

	// Check require_any - at least one attribute must be present
	if len(r.RequireAny) > 0 {
		found := false
		for _, key := range r.RequireAny {
			if attrs[key] != "" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Include) > 0 {
		matched := false
		for key, values := range r.Include {
			if value, ok := attrs[key]; ok && matchAny(values, value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range r.Exclude {
		if value, ok := attrs[key]; ok && matchAny(values, value) {
			return false
		}
	}
	return true
}

// matchAny treats an empty list as "any value"
func matchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == value {
			return true
		}
		if ok, err := path.Match(p, value); err == nil && ok {
			return true
		}
	}
	return false
}
