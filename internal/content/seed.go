package content

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

//go:embed seed/*.yaml
var seedFS embed.FS

// seedRecord is the YAML shape of a seed entry.
type seedRecord struct {
	ID          int64    `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Priority    string   `yaml:"priority"`
	Audience    string   `yaml:"audience"`
	MediaURL    string   `yaml:"mediaUrl"`
	Location    string   `yaml:"location"`
	Date        string   `yaml:"date"`
	ValidFrom   string   `yaml:"validFrom"`
	ValidUntil  string   `yaml:"validUntil"`
	Tags        []string `yaml:"tags"`
	Active      bool     `yaml:"active"`
}

func (s seedRecord) record(kind types.Kind) types.ContentRecord {
	return types.ContentRecord{
		ID:   s.ID,
		Kind: kind,
		Payload: types.Payload{
			Title:       s.Title,
			Description: s.Description,
			Category:    s.Category,
			Priority:    types.Priority(s.Priority),
			Audience:    s.Audience,
			MediaURL:    s.MediaURL,
			Location:    s.Location,
			Date:        s.Date,
			ValidFrom:   s.ValidFrom,
			ValidUntil:  s.ValidUntil,
		},
		Tags:      types.NormalizeTags(s.Tags),
		IsActive:  s.Active,
		CreatedAt: s.ID,
		UpdatedAt: s.ID,
	}
}

// ParseSeed decodes a YAML list of seed entries for collection c.
func ParseSeed(c types.Collection, data []byte) ([]types.ContentRecord, error) {
	var entries []seedRecord
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse seed for %s: %w", c, err)
	}
	records := make([]types.ContentRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record(c.Kind()))
	}
	return records, nil
}

// DefaultSeeds returns the embedded seed data for every collection.
func DefaultSeeds() map[types.Collection][]types.ContentRecord {
	seeds := make(map[types.Collection][]types.ContentRecord)
	for _, c := range types.Collections() {
		data, err := seedFS.ReadFile("seed/" + string(c) + ".yaml")
		if err != nil {
			seeds[c] = []types.ContentRecord{}
			continue
		}
		records, err := ParseSeed(c, data)
		if err != nil {
			panic(err) // embedded data is fixed at build time
		}
		seeds[c] = records
	}
	return seeds
}
