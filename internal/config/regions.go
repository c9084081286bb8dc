package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crosscount/internal/geometry"
)

// RegionDef is one named region of a region file
type RegionDef struct {
	Name        string      `yaml:"name" validate:"required"`
	Points      [][]float64 `yaml:"points" validate:"min=2,dive,len=2"` // [[x1,y1], [x2,y2], ...]
	Classes     []int       `yaml:"classes,omitempty" validate:"dive,gte=0"`
	SegmentOnly bool        `yaml:"segment_only,omitempty"`
}

// RegionFile is the YAML layout of -region-file:
//
//	regions:
//	  - name: door
//	    points: [[640, 0], [640, 720]]
//	  - name: shelf
//	    points: [[100, 100], [300, 100], [300, 300], [100, 300]]
//	    classes: [0]
type RegionFile struct {
	Regions []RegionDef `yaml:"regions" validate:"min=1,dive"`
}

// LoadRegionFile reads and validates a region file
func LoadRegionFile(path string) ([]RegionDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region file: %w", err)
	}

	var file RegionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse region file %s: %w", path, err)
	}
	if err := Validate(&file); err != nil {
		return nil, fmt.Errorf("region file %s: %w", path, err)
	}
	return file.Regions, nil
}

// Region converts the definition into a geometry region
func (s RegionDef) Region() (geometry.Region, error) {
	points := make([]geometry.Point, 0, len(s.Points))
	for _, p := range s.Points {
		if len(p) != 2 {
			return geometry.Region{}, fmt.Errorf("region %s: point %v is not [x, y]", s.Name, p)
		}
		points = append(points, geometry.Pt(p[0], p[1]))
	}
	region, err := geometry.NewRegion(points)
	if err != nil {
		return geometry.Region{}, fmt.Errorf("region %s: %w", s.Name, err)
	}
	return region, nil
}
