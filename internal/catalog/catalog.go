// Package catalog classifies collectable entities and persists the curated
// catalog the collector iterates over. Categories and priorities follow the
// role each series plays in PVPC price analysis.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voltio/internal/model"
)

// Keyword sets checked in declaration order; the first category with a hit
// wins. ESIOS names mix Spanish and English.
var categoryKeywords = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryPrice, []string{
		"precio", "price", "pvpc", "mercado", "market", "coste", "cost",
		"componente", "término", "tarifa", "peaje",
	}},
	{model.CategoryProduction, []string{
		"generación", "generation", "producción", "production", "programada",
		"nuclear", "hidráulica", "eólica", "solar", "térmica", "carbón",
		"ciclo combinado", "renovable", "wind", "photovoltaic",
	}},
	{model.CategoryDemand, []string{
		"demanda", "demand", "consumo", "consumption", "prevista", "forecast",
		"scheduled", "real", "actual",
	}},
	{model.CategoryCapacity, []string{
		"potencia", "capacity", "instalada", "installed", "disponible", "available",
	}},
	{model.CategoryExchange, []string{
		"intercambio", "exchange", "importación", "exportación", "import", "export",
		"saldo", "balance", "frontera", "francia", "portugal", "marruecos",
	}},
	{model.CategoryStorage, []string{
		"bombeo", "pumping", "almacenamiento", "storage", "reserva", "reserve",
		"batería", "battery",
	}},
	{model.CategoryEmissions, []string{
		"emisiones", "emissions", "co2", "carbono", "carbon",
	}},
	{model.CategoryRenewable, []string{
		"renovable", "renewable", "limpia", "clean", "verde", "green",
	}},
}

// Categorize assigns a category from the indicator's name, short name and
// description.
func Categorize(name, shortName, description string) model.Category {
	text := strings.ToLower(name + " " + description + " " + shortName)
	for _, group := range categoryKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(text, keyword) {
				return group.category
			}
		}
	}
	return model.CategoryOther
}

// AssignPriority ranks an indicator 1 (critical) to 5 (background) for its
// usefulness to PVPC prediction.
func AssignPriority(name, shortName string, category model.Category) int {
	text := strings.ToLower(name + " " + shortName)

	switch category {
	case model.CategoryPrice:
		if containsAny(text, "pvpc", "mercado diario", "spot", "precio final") {
			return 1
		}
	case model.CategoryDemand:
		if containsAny(text, "demanda prevista", "demanda real", "demanda programada") {
			return 1
		}
	}

	switch category {
	case model.CategoryProduction, model.CategoryRenewable:
		if containsAny(text, "solar", "eólica", "hidráulica", "nuclear") {
			return 2
		}
	case model.CategoryExchange:
		return 2
	case model.CategoryCapacity, model.CategoryStorage:
		return 3
	case model.CategoryEmissions:
		return 4
	}
	return 5
}

// BuildEntity classifies one raw ESIOS indicator.
func BuildEntity(id int, name, shortName, description string) model.Entity {
	category := Categorize(name, shortName, description)
	return model.Entity{
		ID:        strconv.Itoa(id),
		Name:      name,
		ShortName: shortName,
		Source:    model.SourceESIOS,
		Category:  category,
		Priority:  AssignPriority(name, shortName, category),
		IsActive:  true,
	}
}

// Sort orders entities the way the collector iterates them: priority
// ascending, then id. Matches the database listing order.
func Sort(entities []model.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Priority != entities[j].Priority {
			return entities[i].Priority < entities[j].Priority
		}
		return entities[i].ID < entities[j].ID
	})
}

type fileEntry struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ShortName string `yaml:"short_name,omitempty"`
	Source    string `yaml:"source"`
	Category  string `yaml:"category"`
	Priority  int    `yaml:"priority"`
	IsActive  bool   `yaml:"is_active"`
}

type file struct {
	GeneratedAt string      `yaml:"generated_at"`
	Total       int         `yaml:"total"`
	Entities    []fileEntry `yaml:"entities"`
}

// Save writes the catalog YAML consumed by Load.
func Save(path string, entities []model.Entity) error {
	out := file{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Total:       len(entities),
		Entities:    make([]fileEntry, 0, len(entities)),
	}
	for _, entity := range entities {
		out.Entities = append(out.Entities, fileEntry{
			ID:        entity.ID,
			Name:      entity.Name,
			ShortName: entity.ShortName,
			Source:    string(entity.Source),
			Category:  string(entity.Category),
			Priority:  entity.Priority,
			IsActive:  entity.IsActive,
		})
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a catalog YAML back into entities.
func Load(path string) ([]model.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var in file
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}

	entities := make([]model.Entity, 0, len(in.Entities))
	for _, entry := range in.Entities {
		entities = append(entities, model.Entity{
			ID:        entry.ID,
			Name:      entry.Name,
			ShortName: entry.ShortName,
			Source:    model.Source(entry.Source),
			Category:  model.Category(entry.Category),
			Priority:  entry.Priority,
			IsActive:  entry.IsActive,
		})
	}
	return entities, nil
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
