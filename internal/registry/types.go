package registry

import "github.com/spachava753/templatesync/internal/models"

// templateDef is a named template in the registry's templates table.
type templateDef struct {
	URL         string `yaml:"url" toml:"url"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty"`
}

// repositoryDef is a single repository record as written in the registry file.
type repositoryDef struct {
	Template     string `yaml:"template" toml:"template"`
	GitHub       string `yaml:"github" toml:"github"`
	AutoUpdate   *bool  `yaml:"auto_update,omitempty" toml:"auto_update,omitempty"` // nil = true
	LocalPath    string `yaml:"local_path,omitempty" toml:"local_path,omitempty"`
	BranchPrefix string `yaml:"branch_prefix,omitempty" toml:"branch_prefix,omitempty"`
}

// namedRepository keeps a repositoryDef together with its key and the
// position it was declared at, so entries stay in document order.
type namedRepository struct {
	Name string
	Line int
	Def  repositoryDef
}

// tomlFile is the TOML shape of a registry file.
type tomlFile struct {
	Templates    map[string]templateDef   `toml:"templates"`
	Repositories map[string]repositoryDef `toml:"repositories"`
	Settings     models.Settings          `toml:"settings"`
}
