package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/planner"
	"github.com/labiium/edurouter/internal/policy"
)

func reloadCatalogFile(engine *planner.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}
	var doc catalog.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return engine.ReloadCatalog(&doc)
}

func reloadPolicyFile(engine *planner.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy %s: %w", path, err)
	}
	var doc policy.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy %s: %w", path, err)
	}
	return engine.ReloadPolicy(&doc)
}
