// Package zones carries the static hardware zone catalog and the rules that
// map grid cells to zones.
package zones

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed zones.yaml
var catalogYAML []byte

// ID identifies a hardware zone in the static catalog.
type ID string

const (
	DigitizerTop       ID = "digitizer_top"
	DigitizerBottom    ID = "digitizer_bottom"
	DigitizerLeftEdge  ID = "digitizer_left_edge"
	DigitizerRightEdge ID = "digitizer_right_edge"
	LCDConnector       ID = "lcd_connector"
)

// Zone describes one physical region/component and its repair guidance.
type Zone struct {
	ID          ID       `yaml:"id"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Severity    string   `yaml:"severity"`
	RepairSteps []string `yaml:"repair_steps"`
}

// Catalog is the load-time-constant zone reference data.
type Catalog struct {
	zones []Zone
	byID  map[ID]Zone
}

// Load parses the embedded catalog. The data is compiled in, so an error
// here means the build itself shipped a broken catalog.
func Load() (*Catalog, error) {
	var doc struct {
		Zones []Zone `yaml:"zones"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse zone catalog: %w", err)
	}
	if len(doc.Zones) == 0 {
		return nil, fmt.Errorf("zone catalog is empty")
	}

	c := &Catalog{
		zones: doc.Zones,
		byID:  make(map[ID]Zone, len(doc.Zones)),
	}
	for _, z := range doc.Zones {
		c.byID[z.ID] = z
	}
	return c, nil
}

// Lookup returns the zone for an id; the second return is false for
// unknown ids.
func (c *Catalog) Lookup(id ID) (Zone, bool) {
	z, ok := c.byID[id]
	return z, ok
}

// All returns the zones in catalog order.
func (c *Catalog) All() []Zone {
	out := make([]Zone, len(c.zones))
	copy(out, c.zones)
	return out
}
