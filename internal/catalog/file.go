package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileEventType struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Roles       []string            `yaml:"roles"`
	Permissions []string            `yaml:"permissions"`
	Grants      map[string][]string `yaml:"grants"`
}

type fileCatalog struct {
	EventTypes        yaml.Node `yaml:"event_types"`
	GlobalPermissions []string  `yaml:"global_permissions"`
	GlobalRoles       yaml.Node `yaml:"global_roles"`
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	cat, err := Decode(f)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

// Decode parses a YAML catalog. Event types and global roles keep the order
// in which they are declared.
//
//	event_types:
//	  shop:
//	    name: Shop
//	    roles: [owner, staff]
//	    permissions: [view shop, manage orders]
//	    grants:
//	      owner: ["*"]
//	      staff: [view shop]
//	global_roles:
//	  auditor: [view audit log]
func Decode(r io.Reader) (Catalog, error) {
	var raw fileCatalog
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("decode yaml: %w", err)
	}

	var cat Catalog
	err := eachMappingEntry(&raw.EventTypes, "event_types", func(slug string, value *yaml.Node) error {
		var et fileEventType
		if err := value.Decode(&et); err != nil {
			return fmt.Errorf("event type %q: %w", slug, err)
		}
		cat.EventTypes = append(cat.EventTypes, Definition{
			Slug:        slug,
			Name:        et.Name,
			Description: et.Description,
			Roles:       et.Roles,
			Permissions: et.Permissions,
			Grants:      et.Grants,
		})
		return nil
	})
	if err != nil {
		return Catalog{}, err
	}

	cat.GlobalPermissions = raw.GlobalPermissions
	err = eachMappingEntry(&raw.GlobalRoles, "global_roles", func(name string, value *yaml.Node) error {
		var perms []string
		if err := value.Decode(&perms); err != nil {
			return fmt.Errorf("global role %q: %w", name, err)
		}
		cat.GlobalRoles = append(cat.GlobalRoles, RoleDefinition{Name: name, Permissions: perms})
		return nil
	})
	if err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func eachMappingEntry(node *yaml.Node, field string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: expected a mapping at line %d", field, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
