package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Overlaps checks if the box spanned by two corners intersects the bounding box
func (b *BBox) Overlaps(minLat, minLon, maxLat, maxLon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return maxLon >= b.MinLon && minLon <= b.MaxLon && maxLat >= b.MinLat && minLat <= b.MaxLat
}

func (b *BBox) String() string {
	if b == nil || !b.IsSet {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	// Validate
	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}
	if bbox.MinLat < -90 || bbox.MaxLat > 90 || bbox.MinLon < -180 || bbox.MaxLon > 180 {
		return nil, fmt.Errorf("bbox %s is outside WGS84 bounds", s)
	}

	return bbox, nil
}

// Config holds the global configuration for a compile run
type Config struct {
	// Source settings
	SceneryConfig string   // FSX/P3D scenery.cfg scenery library
	SimRoot       string   // Simulator root for relative scenery.cfg paths
	Manifests     []string // scenery_packs.ini style manifests
	SceneryDirs   []string // Additional scenery roots, read as custom areas
	XPlaneDirs    []string // Directories holding earth_*.dat navdata tables
	OSMFiles      []string // OSM extracts with aerodrome nodes

	// Output settings
	Database     string // Path of the compiled SQLite database
	DropExisting bool   // Recreate the schema before loading
	JournalMode  string
	FindingsCSV  string // Write validation findings to this CSV file
	BaselineCSV  string // Only report findings not present in this CSV file

	// Filtering and preparation
	BBox        *BBox  // Geographic bounding box filter
	FilterFile  string // Path to filter profile YAML
	ScriptFile  string // Lua prep script or compiled .nvps artifact
	IndexScopes []string

	// Processing settings
	Workers              int
	BatchSize            int
	BatchRetries         int
	MaxErrorsPerFile     int
	ProgressEvery        int
	ResolveErrorsPerFile int
	StageErrors          int // Abort a stage beyond this many errors
	TieToleranceNM       float64
	CoordToleranceM      float64
	CacheSize            int

	// Finalization
	Purge  bool // Physically delete superseded navaids
	Vacuum bool

	// Publish settings (PostgreSQL)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string
	Projection int // Target SRID (4326 or 3857)

	// Export settings
	OutputDir string

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:             "navdata.sqlite",
		DropExisting:         true,
		JournalMode:          "WAL",
		BBox:                 &BBox{},
		Workers:              runtime.NumCPU(),
		BatchSize:            1000,
		BatchRetries:         3,
		MaxErrorsPerFile:     1000,
		ProgressEvery:        5000,
		ResolveErrorsPerFile: 2500,
		StageErrors:          50000,
		TieToleranceNM:       0.01,
		CoordToleranceM:      5,
		CacheSize:            65536,
		Purge:                true,
		Vacuum:               true,
		DBHost:               "localhost",
		DBPort:               5432,
		DBName:               "navdata",
		DBUser:               "postgres",
		DBSchema:             "public",
		Projection:           4326, // WGS84 by default
		OutputDir:            "./navdata_export",
		MetricsInterval:      30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// HasSources reports whether any source is configured
func (c *Config) HasSources() bool {
	return c.SceneryConfig != "" || len(c.Manifests) > 0 || len(c.SceneryDirs) > 0 ||
		len(c.XPlaneDirs) > 0 || len(c.OSMFiles) > 0
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !c.HasSources() {
		return fmt.Errorf("at least one source is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.BatchRetries < 0 {
		return fmt.Errorf("batch retries must not be negative")
	}
	if c.TieToleranceNM < 0 || c.CoordToleranceM < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}
	if c.Projection != 4326 && c.Projection != 3857 {
		return fmt.Errorf("projection must be 4326 or 3857, got %d", c.Projection)
	}
	return nil
}

// File is the YAML compile profile. Unset fields keep the current values.
type File struct {
	Database string `yaml:"database"`
	Sources  struct {
		SceneryConfig string   `yaml:"scenery_config"`
		SimRoot       string   `yaml:"sim_root"`
		Manifests     []string `yaml:"manifests"`
		Scenery       []string `yaml:"scenery"`
		XPlane        []string `yaml:"xplane"`
		OSM           []string `yaml:"osm"`
	} `yaml:"sources"`
	Thresholds struct {
		MaxErrorsPerFile     int     `yaml:"max_errors_per_file"`
		ResolveErrorsPerFile int     `yaml:"resolve_errors_per_file"`
		StageErrors          int     `yaml:"stage_errors"`
		BatchSize            int     `yaml:"batch_size"`
		BatchRetries         *int    `yaml:"batch_retries"`
		TieToleranceNM       float64 `yaml:"tie_tolerance_nm"`
		CoordToleranceM      float64 `yaml:"coord_tolerance_m"`
	} `yaml:"thresholds"`
	BBox    string   `yaml:"bbox"`
	Filter  string   `yaml:"filter"`
	Script  string   `yaml:"script"`
	Indexes []string `yaml:"indexes"`
	Purge   *bool    `yaml:"purge"`
	Vacuum  *bool    `yaml:"vacuum"`
}

// LoadFile applies a YAML compile profile onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read compile profile: %w", err)
	}
	return c.Apply(data)
}

// Apply applies YAML compile profile data onto c
func (c *Config) Apply(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse compile profile: %w", err)
	}

	setString(&c.Database, f.Database)
	setString(&c.SceneryConfig, f.Sources.SceneryConfig)
	setString(&c.SimRoot, f.Sources.SimRoot)
	c.Manifests = append(c.Manifests, f.Sources.Manifests...)
	c.SceneryDirs = append(c.SceneryDirs, f.Sources.Scenery...)
	c.XPlaneDirs = append(c.XPlaneDirs, f.Sources.XPlane...)
	c.OSMFiles = append(c.OSMFiles, f.Sources.OSM...)

	t := f.Thresholds
	setInt(&c.MaxErrorsPerFile, t.MaxErrorsPerFile)
	setInt(&c.ResolveErrorsPerFile, t.ResolveErrorsPerFile)
	setInt(&c.StageErrors, t.StageErrors)
	setInt(&c.BatchSize, t.BatchSize)
	if t.BatchRetries != nil {
		c.BatchRetries = *t.BatchRetries
	}
	if t.TieToleranceNM > 0 {
		c.TieToleranceNM = t.TieToleranceNM
	}
	if t.CoordToleranceM > 0 {
		c.CoordToleranceM = t.CoordToleranceM
	}

	if f.BBox != "" {
		bbox, err := ParseBBox(f.BBox)
		if err != nil {
			return fmt.Errorf("invalid profile bbox: %w", err)
		}
		c.BBox = bbox
	}
	setString(&c.FilterFile, f.Filter)
	setString(&c.ScriptFile, f.Script)
	if len(f.Indexes) > 0 {
		c.IndexScopes = f.Indexes
	}
	if f.Purge != nil {
		c.Purge = *f.Purge
	}
	if f.Vacuum != nil {
		c.Vacuum = *f.Vacuum
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
