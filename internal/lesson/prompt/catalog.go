// Package prompt builds the planning prompt from an embedded catalog of
// domain labels and age-band requirements.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessonstream/internal/lesson/textsource"
)

//go:embed catalog.yaml
var catalogFS embed.FS

type yamlCatalog struct {
	Catalog        string            `yaml:"catalog"`
	Version        int               `yaml:"version"`
	DefaultBand    string            `yaml:"default_band"`
	Domains        map[string]string `yaml:"domains"`
	AgeBands       []AgeBand         `yaml:"age_bands"`
	SystemTemplate string            `yaml:"system_template"`
	UserTemplate   string            `yaml:"user_template"`
}

type AgeBand struct {
	Key          string   `yaml:"key"`
	Label        string   `yaml:"label"`
	Aliases      []string `yaml:"aliases"`
	Requirements []string `yaml:"requirements"`
}

type Catalog struct {
	domains     map[string]string
	bands       map[string]AgeBand
	aliases     map[string]string
	defaultBand string
	system      *template.Template
	user        *template.Template
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	var (
		data []byte
		err  error
	)
	if p := strings.TrimSpace(path); p != "" {
		data, err = os.ReadFile(p)
	} else {
		data, err = catalogFS.ReadFile("catalog.yaml")
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var y yamlCatalog
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("prompt catalog: %w", err)
	}
	if strings.TrimSpace(y.Catalog) != "lesson_prompts" {
		return nil, fmt.Errorf("prompt catalog: unexpected catalog %q", y.Catalog)
	}
	if len(y.AgeBands) == 0 {
		return nil, errors.New("prompt catalog: no age bands defined")
	}

	c := &Catalog{
		domains: map[string]string{},
		bands:   map[string]AgeBand{},
		aliases: map[string]string{},
	}
	for k, v := range y.Domains {
		c.domains[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, b := range y.AgeBands {
		key := strings.TrimSpace(b.Key)
		if key == "" {
			return nil, errors.New("prompt catalog: age band key is required")
		}
		if _, dup := c.bands[key]; dup {
			return nil, fmt.Errorf("prompt catalog: duplicate age band %s", key)
		}
		c.bands[key] = b
		c.aliases[strings.ToLower(key)] = key
		for _, a := range b.Aliases {
			c.aliases[strings.ToLower(strings.TrimSpace(a))] = key
		}
	}
	c.defaultBand = strings.TrimSpace(y.DefaultBand)
	if _, ok := c.bands[c.defaultBand]; !ok {
		return nil, fmt.Errorf("prompt catalog: default band %q not defined", c.defaultBand)
	}

	var err error
	if c.system, err = template.New("system").Parse(y.SystemTemplate); err != nil {
		return nil, fmt.Errorf("prompt catalog: system template: %w", err)
	}
	if c.user, err = template.New("user").Parse(y.UserTemplate); err != nil {
		return nil, fmt.Errorf("prompt catalog: user template: %w", err)
	}
	return c, nil
}

// DomainLabel returns the display label for a domain key, or the key itself.
func (c *Catalog) DomainLabel(domain string) string {
	if l, ok := c.domains[strings.ToLower(strings.TrimSpace(domain))]; ok {
		return l
	}
	return domain
}

// Band resolves an age-group tag. Unknown tags map to the default band.
func (c *Catalog) Band(ageGroup string) AgeBand {
	if key, ok := c.aliases[strings.ToLower(strings.TrimSpace(ageGroup))]; ok {
		return c.bands[key]
	}
	return c.bands[c.defaultBand]
}

type Input struct {
	Prompt   string
	Domain   string
	AgeGroup string
}

type templateData struct {
	Prompt       string
	Domain       string
	DomainLabel  string
	AgeGroup     string
	AgeLabel     string
	Requirements []string
}

// Build renders the system and user prompts. Model settings are left to the
// caller.
func (c *Catalog) Build(in Input) (textsource.Request, error) {
	band := c.Band(in.AgeGroup)
	age := strings.TrimSpace(in.AgeGroup)
	if age == "" {
		age = band.Key
	}
	data := templateData{
		Prompt:       strings.TrimSpace(in.Prompt),
		Domain:       strings.TrimSpace(in.Domain),
		DomainLabel:  c.DomainLabel(in.Domain),
		AgeGroup:     age,
		AgeLabel:     band.Label,
		Requirements: band.Requirements,
	}
	var sys, user bytes.Buffer
	if err := c.system.Execute(&sys, data); err != nil {
		return textsource.Request{}, err
	}
	if err := c.user.Execute(&user, data); err != nil {
		return textsource.Request{}, err
	}
	return textsource.Request{System: sys.String(), Prompt: user.String()}, nil
}
