// Package catalog maintains the priced model catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

type documentPayload struct {
	Models []modelPayload `yaml:"models"`
}

type modelPayload struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	InputPrice  string         `yaml:"input_price"`
	OutputPrice string         `yaml:"output_price"`
	ImagePrice  string         `yaml:"image_price"`
	Status      string         `yaml:"status"`
	Description string         `yaml:"description"`
	Extra       map[string]any `yaml:"extra"`
}

// ParseDocument converts a YAML or JSON catalog document into models.
// Entries sharing a name are merged; the first non-empty value wins.
func ParseDocument(data []byte) ([]models.Model, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("parse catalog: empty document")
	}
	var doc documentPayload
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: decode: %w", err)
	}

	byName := make(map[string]models.Model)
	for i, entry := range doc.Models {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("parse catalog: model %d: missing name", i)
		}
		model, err := convertModel(name, entry)
		if err != nil {
			return nil, err
		}
		if existing, ok := byName[name]; ok {
			byName[name] = mergeModel(existing, model)
			continue
		}
		byName[name] = model
	}
	if len(byName) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.Model, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out, nil
}

func convertModel(name string, entry modelPayload) (models.Model, error) {
	model := models.Model{
		ModelName:   name,
		ModelType:   models.ModelTypeChat,
		Status:      models.ModelStatusActive,
		Description: strings.TrimSpace(entry.Description),
		Extra:       datatypes.JSON([]byte("{}")),
	}
	if raw := strings.ToLower(strings.TrimSpace(entry.Type)); raw != "" {
		model.ModelType = models.ModelType(raw)
		if !model.ModelType.Valid() {
			return models.Model{}, fmt.Errorf("parse catalog: model %s: unknown type %q", name, entry.Type)
		}
	}
	if raw := strings.ToLower(strings.TrimSpace(entry.Status)); raw != "" {
		model.Status = models.ModelStatus(raw)
		if !model.Status.Valid() {
			return models.Model{}, fmt.Errorf("parse catalog: model %s: unknown status %q", name, entry.Status)
		}
	}

	var err error
	if model.InputTokenPrice, err = parsePrice(name, "input_price", entry.InputPrice); err != nil {
		return models.Model{}, err
	}
	if model.OutputTokenPrice, err = parsePrice(name, "output_price", entry.OutputPrice); err != nil {
		return models.Model{}, err
	}
	if strings.TrimSpace(entry.ImagePrice) != "" {
		imagePrice, errImage := parsePrice(name, "image_price", entry.ImagePrice)
		if errImage != nil {
			return models.Model{}, errImage
		}
		model.ImagePrice = &imagePrice
	}

	if len(entry.Extra) > 0 {
		data, errMarshal := json.Marshal(entry.Extra)
		if errMarshal != nil {
			return models.Model{}, fmt.Errorf("parse catalog: model %s: encode extra: %w", name, errMarshal)
		}
		model.Extra = datatypes.JSON(data)
	}
	return model, nil
}

func parsePrice(model, field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse catalog: model %s: %s: %w", model, field, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse catalog: model %s: %s must not be negative", model, field)
	}
	return value, nil
}

func mergeModel(base, incoming models.Model) models.Model {
	if base.InputTokenPrice.IsZero() {
		base.InputTokenPrice = incoming.InputTokenPrice
	}
	if base.OutputTokenPrice.IsZero() {
		base.OutputTokenPrice = incoming.OutputTokenPrice
	}
	if base.ImagePrice == nil {
		base.ImagePrice = incoming.ImagePrice
	}
	if base.Description == "" {
		base.Description = incoming.Description
	}
	if string(base.Extra) == "{}" {
		base.Extra = incoming.Extra
	}
	return base
}
