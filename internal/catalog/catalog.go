// Package catalog holds the read-only item and skill tables.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/legends-of-valor/internal/domain"
	"gopkg.in/yaml.v3"
)

// Catalog is an immutable lookup over items and skills
type Catalog struct {
	items  map[string]domain.Item
	skills map[string]domain.Skill
}

type file struct {
	Items  []domain.Item  `yaml:"items"`
	Skills []domain.Skill `yaml:"skills"`
}

// New builds a catalog from in-memory tables
func New(items []domain.Item, skills []domain.Skill) (*Catalog, error) {
	c := &Catalog{
		items:  make(map[string]domain.Item, len(items)),
		skills: make(map[string]domain.Skill, len(skills)),
	}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("item %q has no id", it.Name)
		}
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("duplicate item id %q", it.ID)
		}
		c.items[it.ID] = it
	}
	for _, sk := range skills {
		if sk.ID == "" {
			return nil, fmt.Errorf("skill %q has no id", sk.Name)
		}
		if _, dup := c.skills[sk.ID]; dup {
			return nil, fmt.Errorf("duplicate skill id %q", sk.ID)
		}
		c.skills[sk.ID] = sk
	}
	return c, nil
}

// Load reads a catalog YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(f.Items, f.Skills)
}

// GetItem returns an item definition
func (c *Catalog) GetItem(id string) (*domain.Item, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return &it, nil
}

// GetSkill returns a skill definition
func (c *Catalog) GetSkill(id string) (*domain.Skill, error) {
	sk, ok := c.skills[id]
	if !ok {
		return nil, domain.ErrSkillNotFound
	}
	return &sk, nil
}

// Skills lists every skill ordered by tier then id
func (c *Catalog) Skills() []domain.Skill {
	out := make([]domain.Skill, 0, len(c.skills))
	for _, sk := range c.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BonusFor sums the stat bonuses of the given equipped items
func (c *Catalog) BonusFor(itemIDs []string) (domain.Stats, error) {
	var total domain.Stats
	for _, id := range itemIDs {
		it, err := c.GetItem(id)
		if err != nil {
			return domain.Stats{}, fmt.Errorf("item %s: %w", id, err)
		}
		total = total.Add(it.Bonus)
	}
	return total, nil
}
