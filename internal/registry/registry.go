// Package registry holds the ordered list of monitored endpoints.
//
// The list is fixed for the lifetime of the process: either the default
// compiled into the binary or a YAML file named at start-up. Order matters,
// results are correlated with endpoints by index.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/statusgrid/internal/domain"
)

//go:embed endpoints.yaml
var defaultYAML []byte

// File is the on-disk shape of a registry.
type File struct {
	Endpoints []entry `yaml:"endpoints"`
}

type entry struct {
	URL         string `yaml:"url"`
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// Registry is an immutable, validated, ordered endpoint list.
type Registry struct {
	endpoints []domain.Endpoint
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	r, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("default registry: %w", err)
	}
	return r, nil
}

// Load reads the registry from path, or returns Default when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	r, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a YAML registry document.
func Parse(b []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	eps := make([]domain.Endpoint, 0, len(f.Endpoints))
	for _, e := range f.Endpoints {
		eps = append(eps, domain.Endpoint{
			URL:         strings.TrimSpace(e.URL),
			Name:        strings.TrimSpace(e.Name),
			Environment: domain.Environment(strings.TrimSpace(e.Environment)),
		})
	}
	return New(eps...)
}

// New validates eps and returns a registry holding a copy of them.
// Environment names are normalised to their canonical spelling.
func New(eps ...domain.Endpoint) (*Registry, error) {
	out := make([]domain.Endpoint, len(eps))
	copy(out, eps)
	for i := range out {
		if env, err := domain.ParseEnvironment(string(out[i].Environment)); err == nil {
			out[i].Environment = env
		}
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return &Registry{endpoints: out}, nil
}

// Endpoints returns a copy of the ordered endpoint list.
func (r *Registry) Endpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

func (r *Registry) Len() int { return len(r.endpoints) }

// Filter returns the endpoints of one environment, in registry order.
func (r *Registry) Filter(env domain.Environment) []domain.Endpoint {
	var out []domain.Endpoint
	for _, ep := range r.endpoints {
		if ep.Environment == env {
			out = append(out, ep)
		}
	}
	return out
}

func validate(eps []domain.Endpoint) error {
	errs := validation.Errors{}
	seen := make(map[string]int, len(eps))
	for i := range eps {
		ep := &eps[i]
		key := strconv.Itoa(i)
		err := validation.ValidateStruct(ep,
			validation.Field(&ep.URL,
				validation.Required,
				is.RequestURL,
				validation.By(httpURL),
				validation.By(unique(seen, i)),
			),
			validation.Field(&ep.Name, validation.Required),
			validation.Field(&ep.Environment,
				validation.Required,
				validation.In(domain.Prod, domain.Stage),
			),
		)
		if err != nil {
			errs[key] = err
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func unique(seen map[string]int, idx int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if prev, ok := seen[s]; ok {
			return fmt.Errorf("duplicates endpoint %d", prev)
		}
		seen[s] = idx
		return nil
	}
}
