package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/models"
)

// Load reads, parses and validates a registry from a local path or an
// http(s) URL. Every problem found is reported in a single *ConfigError.
func Load(ctx context.Context, source string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if isURL(source) {
		data, err = readURL(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}

	return Parse(source, data)
}

// Parse decodes registry data. The format is TOML when source ends in
// .toml and YAML otherwise.
func Parse(source string, data []byte) (*Registry, error) {
	var (
		templates map[string]templateDef
		repos     []namedRepository
		settings  models.Settings
		problems  []string
		err       error
	)

	if strings.EqualFold(filepath.Ext(stripQuery(source)), ".toml") {
		templates, repos, settings, err = decodeTOML(data)
	} else {
		templates, repos, settings, problems, err = decodeYAML(data)
	}
	if err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}

	config.ApplyDefaults(&settings)
	if err := config.ValidateSettings(settings); err != nil {
		problems = append(problems, err.Error())
	}

	baseDir := ""
	if !isURL(source) {
		baseDir = filepath.Dir(source)
	}

	entries, more := buildEntries(templates, repos, baseDir)
	problems = append(problems, more...)

	if len(problems) > 0 {
		return nil, &ConfigError{Source: source, Problems: problems}
	}

	reg, err := New(entries, settings)
	if err != nil {
		return nil, &ConfigError{Source: source, Err: err}
	}
	reg.source = source
	return reg, nil
}

func decodeYAML(data []byte) (map[string]templateDef, []namedRepository, models.Settings, []string, error) {
	var settings models.Settings
	templates := make(map[string]templateDef)

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, settings, nil, fmt.Errorf("parsing registry YAML: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil, settings, nil, fmt.Errorf("registry is empty")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil, settings, nil, fmt.Errorf("registry must be a mapping, found %s", kindName(doc.Kind))
	}

	var (
		repos    []namedRepository
		problems []string
	)
	seen := make(map[string]int)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		if line, dup := seen[key.Value]; dup {
			problems = append(problems, fmt.Sprintf("line %d: duplicate top-level key %q (first defined on line %d)", key.Line, key.Value, line))
			continue
		}
		seen[key.Value] = key.Line

		switch key.Value {
		case "templates":
			if err := val.Decode(&templates); err != nil {
				return nil, nil, settings, nil, fmt.Errorf("parsing templates: %w", err)
			}
		case "settings":
			if err := val.Decode(&settings); err != nil {
				return nil, nil, settings, nil, fmt.Errorf("parsing settings: %w", err)
			}
		case "repositories":
			var p []string
			repos, p = decodeRepositoryNodes(val)
			problems = append(problems, p...)
		default:
			problems = append(problems, fmt.Sprintf("line %d: unknown top-level key %q", key.Line, key.Value))
		}
	}

	return templates, repos, settings, problems, nil
}

// decodeRepositoryNodes walks the repositories mapping node by node so that
// duplicate names are reported with the line of their first definition.
func decodeRepositoryNodes(node *yaml.Node) ([]namedRepository, []string) {
	if node.Kind != yaml.MappingNode {
		return nil, []string{fmt.Sprintf("line %d: repositories must be a mapping, found %s", node.Line, kindName(node.Kind))}
	}

	var (
		repos    []namedRepository
		problems []string
	)
	firstSeen := make(map[string]int)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		name := key.Value

		if line, dup := firstSeen[name]; dup {
			problems = append(problems, fmt.Sprintf("line %d: duplicate repository %q (first defined on line %d)", key.Line, name, line))
			continue
		}
		firstSeen[name] = key.Line

		var def repositoryDef
		if err := val.Decode(&def); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: repository %q: %v", key.Line, name, err))
			continue
		}
		repos = append(repos, namedRepository{Name: name, Line: key.Line, Def: def})
	}

	return repos, problems
}

func decodeTOML(data []byte) (map[string]templateDef, []namedRepository, models.Settings, error) {
	var file tomlFile
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		// TOML itself rejects duplicate keys, so duplicate repositories land here
		return nil, nil, file.Settings, fmt.Errorf("parsing registry TOML: %w", err)
	}

	var repos []namedRepository
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) != 2 || key[0] != "repositories" || seen[key[1]] {
			continue
		}
		seen[key[1]] = true
		repos = append(repos, namedRepository{Name: key[1], Def: file.Repositories[key[1]]})
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, nil, file.Settings, fmt.Errorf("unknown registry keys: %v", undecoded)
	}

	return file.Templates, repos, file.Settings, nil
}

func buildEntries(templates map[string]templateDef, repos []namedRepository, baseDir string) ([]models.RepositoryEntry, []string) {
	var (
		entries  []models.RepositoryEntry
		problems []string
	)

	for _, r := range repos {
		prefix := fmt.Sprintf("repository %q", r.Name)
		entry := models.RepositoryEntry{
			Name:         r.Name,
			HostSlug:     strings.TrimSpace(r.Def.GitHub),
			AutoUpdate:   true,
			LocalPath:    r.Def.LocalPath,
			BranchPrefix: r.Def.BranchPrefix,
		}
		if r.Def.AutoUpdate != nil {
			entry.AutoUpdate = *r.Def.AutoUpdate
		}

		tmpl := strings.TrimSpace(r.Def.Template)
		switch {
		case tmpl == "":
			problems = append(problems, prefix+": template is required")
		case templates[tmpl].URL != "":
			entry.TemplateName = tmpl
			entry.TemplateRef = expandTemplateRef(templates[tmpl].URL)
		default:
			if _, ok := templates[tmpl]; ok {
				problems = append(problems, fmt.Sprintf("%s: template %q has no url", prefix, tmpl))
			}
			entry.TemplateRef = expandTemplateRef(tmpl)
		}
		if entry.TemplateRef != "" && !validTemplateRef(entry.TemplateRef) {
			problems = append(problems, fmt.Sprintf("%s: template %q is neither a known template nor a git URL", prefix, tmpl))
		}
		if entry.TemplateName == "" {
			entry.TemplateName = templateNameFromURL(entry.TemplateRef)
		}

		switch {
		case entry.HostSlug == "":
			problems = append(problems, prefix+": github is required")
		case !validHostSlug(entry.HostSlug):
			problems = append(problems, fmt.Sprintf("%s: github %q must look like owner/repo", prefix, entry.HostSlug))
		}

		if entry.LocalPath != "" && !filepath.IsAbs(entry.LocalPath) && baseDir != "" {
			entry.LocalPath = filepath.Join(baseDir, entry.LocalPath)
		}

		entries = append(entries, entry)
	}

	return entries, problems
}

func readURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching registry: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func stripQuery(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		return source[:i]
	}
	return source
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.AliasNode:
		return "an alias"
	}
	return "an empty document"
}
