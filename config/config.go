// Package config loads annotation engine configuration from YAML and
// converts it to engine options. Zero values mean "use the default";
// only set fields override anything.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxmed/annotate"
	"github.com/voxmed/annotate/geom"
)

// Vec3 is a YAML-friendly [x, y, z] triple in millimeters.
type Vec3 [3]float64

func (v Vec3) vec() geom.Vec3 { return geom.V3(v[0], v[1], v[2]) }

// Config is the full engine configuration.
type Config struct {
	Quant struct {
		StepMM           float64 `yaml:"step_mm"`
		OriginMM         *Vec3   `yaml:"origin_mm"`
		FallbackOriginMM *Vec3   `yaml:"fallback_origin_mm"`
	} `yaml:"quant"`

	Workspace struct {
		SizeMM Vec3 `yaml:"size_mm"`
		Slices struct {
			Axial    int `yaml:"axial"`
			Sagittal int `yaml:"sagittal"`
			Coronal  int `yaml:"coronal"`
		} `yaml:"slices"`
	} `yaml:"workspace"`

	Scheduler struct {
		BatchLimit int `yaml:"batch_limit"`
	} `yaml:"scheduler"`

	History struct {
		Limit            int `yaml:"limit"`
		KeyframeInterval int `yaml:"keyframe_interval"`
	} `yaml:"history"`

	Mesh struct {
		MaxRetries   int `yaml:"max_retries"`
		GrowthFactor int `yaml:"growth_factor"`
		Capacity     int `yaml:"capacity"`
	} `yaml:"mesh"`

	ViewSync struct {
		LineBudget   int  `yaml:"line_budget"`
		ContourCache *int `yaml:"contour_cache"`
	} `yaml:"view_sync"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine would silently clamp or ignore.
func (c *Config) Validate() error {
	if c.Quant.StepMM < 0 {
		return fmt.Errorf("config: quant.step_mm %v must not be negative", c.Quant.StepMM)
	}
	for axis, v := range c.Workspace.SizeMM {
		if v < 0 {
			return fmt.Errorf("config: workspace.size_mm[%d] %v must not be negative", axis, v)
		}
	}
	for name, n := range map[string]int{
		"workspace.slices.axial":    c.Workspace.Slices.Axial,
		"workspace.slices.sagittal": c.Workspace.Slices.Sagittal,
		"workspace.slices.coronal":  c.Workspace.Slices.Coronal,
		"scheduler.batch_limit":     c.Scheduler.BatchLimit,
		"history.limit":             c.History.Limit,
		"history.keyframe_interval": c.History.KeyframeInterval,
		"mesh.max_retries":          c.Mesh.MaxRetries,
		"mesh.capacity":             c.Mesh.Capacity,
		"view_sync.line_budget":     c.ViewSync.LineBudget,
	} {
		if n < 0 {
			return fmt.Errorf("config: %s %d must not be negative", name, n)
		}
	}
	if c.Mesh.GrowthFactor != 0 && c.Mesh.GrowthFactor < 2 {
		return fmt.Errorf("config: mesh.growth_factor %d must be at least 2", c.Mesh.GrowthFactor)
	}
	return nil
}

// Options converts the set fields to engine options. Unset fields
// contribute nothing, leaving the engine defaults in place.
func (c *Config) Options() []annotate.Option {
	var opts []annotate.Option

	if c.Quant.StepMM > 0 {
		opts = append(opts, annotate.WithQuantStep(c.Quant.StepMM))
	}
	if c.Quant.OriginMM != nil {
		opts = append(opts, annotate.WithQuantOrigin(c.Quant.OriginMM.vec()))
	}
	if c.Quant.FallbackOriginMM != nil {
		opts = append(opts, annotate.WithQuantFallbackOrigin(c.Quant.FallbackOriginMM.vec()))
	}
	if c.Workspace.SizeMM != (Vec3{}) {
		opts = append(opts, annotate.WithWorkspace(c.Workspace.SizeMM.vec()))
	}
	if c.Scheduler.BatchLimit > 0 {
		opts = append(opts, annotate.WithBatchLimit(c.Scheduler.BatchLimit))
	}
	if c.History.Limit > 0 {
		opts = append(opts, annotate.WithHistoryLimit(c.History.Limit))
	}
	if c.History.KeyframeInterval > 0 {
		opts = append(opts, annotate.WithKeyframeInterval(c.History.KeyframeInterval))
	}
	if c.Mesh.MaxRetries > 0 {
		opts = append(opts, annotate.WithMaxRetries(c.Mesh.MaxRetries))
	}
	if c.Mesh.GrowthFactor >= 2 {
		opts = append(opts, annotate.WithGrowthFactor(c.Mesh.GrowthFactor))
	}
	if c.Mesh.Capacity > 0 {
		opts = append(opts, annotate.WithMeshCapacity(c.Mesh.Capacity))
	}
	if c.ViewSync.LineBudget > 0 {
		opts = append(opts, annotate.WithLineBudget(c.ViewSync.LineBudget))
	}
	if c.ViewSync.ContourCache != nil {
		opts = append(opts, annotate.WithContourCache(*c.ViewSync.ContourCache))
	}
	return opts
}

// SliceBounds returns the configured per-view slice counts, or zeros
// when unset. Callers apply them through Engine.SetSliceBounds.
func (c *Config) SliceBounds() (axial, sagittal, coronal int) {
	return c.Workspace.Slices.Axial, c.Workspace.Slices.Sagittal, c.Workspace.Slices.Coronal
}
