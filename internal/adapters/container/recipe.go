package container

import (
	_ "embed"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

//go:embed recipes.yaml
var recipesYAML []byte

// Recipe describes one target of the multi-stage build recipe: the build
// arguments it requires and whether it takes the bypass/output socket pair.
type Recipe struct {
	Target  string   `yaml:"target"`
	Args    []string `yaml:"args"`
	Sockets bool     `yaml:"sockets"`
}

type recipeFile struct {
	Targets []Recipe `yaml:"targets"`
}

// loadRecipes parses the embedded recipe target table.
func loadRecipes() (map[string]Recipe, error) {
	var file recipeFile
	if err := yaml.Unmarshal(recipesYAML, &file); err != nil {
		return nil, zerr.Wrap(err, "failed to parse recipe table")
	}

	recipes := make(map[string]Recipe, len(file.Targets))
	for _, recipe := range file.Targets {
		recipes[recipe.Target] = recipe
	}
	return recipes, nil
}
