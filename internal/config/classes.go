package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClasses reads class names from an ultralytics dataset YAML. Both the list
// form (names: [a, b]) and the index map form (names: {0: a, 1: b}) are accepted.
func LoadClasses(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classes file: %w", err)
	}
	return ParseClasses(data)
}

func ParseClasses(data []byte) ([]string, error) {
	var ds datasetFile
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse classes: %w", err)
	}

	switch ds.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode class list: %w", err)
		}
		return names, nil

	case yaml.MappingNode:
		var byIndex map[int]string
		if err := ds.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("decode class map: %w", err)
		}
		ids := make([]int, 0, len(byIndex))
		for id := range byIndex {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		names := make([]string, 0, len(ids))
		for i, id := range ids {
			if id != i {
				return nil, fmt.Errorf("class ids are not contiguous at %d", id)
			}
			names = append(names, byIndex[id])
		}
		return names, nil

	default:
		return nil, fmt.Errorf("classes file has no names section")
	}
}
