// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package entity holds the static registry of entity types: their class
// names, tables and channeled counterparts. It is resolved once at startup
// and read-only afterwards.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ChanneledPrefix marks channeled class names ("ChanneledCustomer").
const ChanneledPrefix = "Channeled"

// Config describes one entity type.
type Config struct {
	// Type is the route name, e.g. "customer".
	Type string `mapstructure:"type"`
	// Class is the short class name used in cache keys, e.g. "Customer".
	Class string `mapstructure:"class"`
	// ChanneledClass is the per-channel counterpart, empty if there is none.
	ChanneledClass string `mapstructure:"channeled_class"`
	Table          string `mapstructure:"table"`
	ChanneledTable string `mapstructure:"channeled_table"`
	Enabled        bool   `mapstructure:"enabled"`
}

// HasChanneled reports whether the entity has a channeled counterpart.
func (c Config) HasChanneled() bool {
	return c.ChanneledClass != ""
}

// IsChanneled reports whether class follows the channeled naming convention.
func IsChanneled(class string) bool {
	return strings.HasPrefix(class, ChanneledPrefix)
}

// Registry indexes entity configs by route name and by class.
type Registry struct {
	byType    map[string]Config
	byClass   map[string]Config
	channeled map[string][]string
}

// NewRegistry validates configs and builds a Registry.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{
		byType:    make(map[string]Config, len(configs)),
		byClass:   make(map[string]Config, len(configs)),
		channeled: make(map[string][]string),
	}

	for _, c := range configs {
		if c.Type == "" || c.Class == "" {
			return nil, fmt.Errorf("entity config %+v: type and class are required", c)
		}
		if IsChanneled(c.Class) {
			return nil, fmt.Errorf("entity %s: base class must not start with %q", c.Type, ChanneledPrefix)
		}
		if c.Table == "" {
			return nil, fmt.Errorf("entity %s: table is required", c.Type)
		}
		if c.HasChanneled() {
			if !IsChanneled(c.ChanneledClass) {
				return nil, fmt.Errorf("entity %s: channeled class %q must start with %q", c.Type, c.ChanneledClass, ChanneledPrefix)
			}
			if c.ChanneledTable == "" {
				return nil, fmt.Errorf("entity %s: channeled table is required", c.Type)
			}
		}
		if _, dup := r.byType[c.Type]; dup {
			return nil, fmt.Errorf("entity %s: duplicate type", c.Type)
		}
		if _, dup := r.byClass[c.Class]; dup {
			return nil, fmt.Errorf("entity %s: duplicate class %s", c.Type, c.Class)
		}

		r.byType[c.Type] = c
		r.byClass[c.Class] = c
		if c.Enabled && c.HasChanneled() {
			r.channeled[c.Class] = append(r.channeled[c.Class], c.ChanneledClass)
		}
	}
	return r, nil
}

// Lookup returns the enabled config for a route name.
func (r *Registry) Lookup(entityType string) (Config, bool) {
	c, ok := r.byType[entityType]
	if !ok || !c.Enabled {
		return Config{}, false
	}
	return c, true
}

// KnownClass reports whether class is the base or channeled class of any
// registered entity.
func (r *Registry) KnownClass(class string) bool {
	if _, ok := r.byClass[class]; ok {
		return true
	}
	for _, c := range r.byClass {
		if c.ChanneledClass == class {
			return true
		}
	}
	return false
}

// Enabled returns the enabled configs sorted by route name.
func (r *Registry) Enabled() []Config {
	out := make([]Config, 0, len(r.byType))
	for _, c := range r.byType {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ChanneledMap returns base class -> channeled classes for every enabled
// entity with a channeled counterpart. The returned map is a copy.
func (r *Registry) ChanneledMap() map[string][]string {
	out := make(map[string][]string, len(r.channeled))
	for base, classes := range r.channeled {
		out[base] = append([]string(nil), classes...)
	}
	return out
}

// Default returns the built-in entity table.
func Default() []Config {
	return []Config{
		{Type: "customer", Class: "Customer", ChanneledClass: "ChanneledCustomer", Table: "customers", ChanneledTable: "channeled_customers", Enabled: true},
		{Type: "order", Class: "Order", ChanneledClass: "ChanneledOrder", Table: "orders", ChanneledTable: "channeled_orders", Enabled: true},
		{Type: "product", Class: "Product", ChanneledClass: "ChanneledProduct", Table: "products", ChanneledTable: "channeled_products", Enabled: true},
		{Type: "discount", Class: "Discount", ChanneledClass: "ChanneledDiscount", Table: "discounts", ChanneledTable: "channeled_discounts", Enabled: true},
		{Type: "price_rule", Class: "PriceRule", ChanneledClass: "ChanneledPriceRule", Table: "price_rules", ChanneledTable: "channeled_price_rules", Enabled: true},
		{Type: "vendor", Class: "Vendor", Table: "vendors", Enabled: true},
	}
}

// DefaultRegistry builds a Registry from Default.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Default())
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads an entity table from a YAML, JSON or TOML file with a
// top-level "entities" list. An empty path returns the default registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var file struct {
		Entities []Config `mapstructure:"entities"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode entities file: %w", err)
	}
	if len(file.Entities) == 0 {
		return nil, fmt.Errorf("entities file %s: no entities defined", path)
	}
	return NewRegistry(file.Entities)
}
