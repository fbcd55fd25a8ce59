package backup

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeSpec maps one record type onto its table
type TypeSpec struct {
	Name       string            `yaml:"name"`
	Table      string            `yaml:"table"`
	PrimaryKey string            `yaml:"primary_key"`
	References map[string]string `yaml:"references,omitempty"`
	FileFields []string          `yaml:"file_fields,omitempty"`
}

// Domain returns the prefix of Name before the first dot
func (t TypeSpec) Domain() string {
	domain, _, _ := strings.Cut(t.Name, ".")
	return domain
}

// DomainSpec is an ordered group of record types
type DomainSpec struct {
	Name  string     `yaml:"name"`
	Types []TypeSpec `yaml:"types"`
}

// CatalogConfig is everything the catalog needs; there is no package-level state
type CatalogConfig struct {
	Domains         []DomainSpec `yaml:"domains"`
	ExcludedDomains []string     `yaml:"excluded_domains"`
	SkipTypes       []string     `yaml:"skip_types"`
	SkipPatterns    []string     `yaml:"skip_patterns"`
	NeverRestore    []string     `yaml:"never_restore"`
	Protected       []string     `yaml:"protected"`
	PriorityList    []string     `yaml:"priority_list"`
}

func typeSpec(name string, refs map[string]string, fileFields ...string) TypeSpec {
	return TypeSpec{
		Name:       name,
		Table:      strings.ReplaceAll(name, ".", "_"),
		PrimaryKey: "id",
		References: refs,
		FileFields: fileFields,
	}
}

// DefaultCatalogConfig is the built-in business catalog
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Domains: []DomainSpec{
			{Name: "identity", Types: []TypeSpec{
				typeSpec("identity.content_type", nil),
				typeSpec("identity.permission", map[string]string{"content_type_id": "identity.content_type"}),
				typeSpec("identity.group", nil),
				typeSpec("identity.user", nil),
				typeSpec("identity.session", map[string]string{"user_id": "identity.user"}),
			}},
			{Name: "organization", Types: []TypeSpec{
				typeSpec("organization.company", nil, "logo"),
				typeSpec("organization.department", map[string]string{"company_id": "organization.company"}),
				typeSpec("organization.employee", map[string]string{
					"department_id": "organization.department",
					"user_id":       "identity.user",
				}),
			}},
			{Name: "customers", Types: []TypeSpec{
				typeSpec("customers.customer", map[string]string{"account_manager_id": "organization.employee"}),
				typeSpec("customers.contact", map[string]string{"customer_id": "customers.customer"}),
			}},
			{Name: "sales", Types: []TypeSpec{
				typeSpec("sales.order", map[string]string{"customer_id": "customers.customer"}),
				typeSpec("sales.order_item", map[string]string{"order_id": "sales.order"}),
				typeSpec("sales.inspection", map[string]string{
					"order_id":     "sales.order",
					"inspector_id": "organization.employee",
				}, "report_file"),
				typeSpec("sales.installation", map[string]string{"order_id": "sales.order"}),
			}},
			{Name: "manufacturing", Types: []TypeSpec{
				typeSpec("manufacturing.work_order", map[string]string{"order_id": "sales.order"}),
				typeSpec("manufacturing.production_step", map[string]string{"work_order_id": "manufacturing.work_order"}),
			}},
			{Name: "reporting", Types: []TypeSpec{
				typeSpec("reporting.saved_report", map[string]string{"owner_id": "organization.employee"}, "export_file"),
			}},
			{Name: "integration", Types: []TypeSpec{
				typeSpec("integration.webhook", nil),
				typeSpec("integration.sync_log", map[string]string{"webhook_id": "integration.webhook"}),
			}},
			{Name: "audit", Types: []TypeSpec{
				typeSpec("audit.entry", map[string]string{"actor_id": "identity.user"}),
			}},
			{Name: "jobs", Types: []TypeSpec{
				{Name: "jobs.backup_job", Table: "backup_jobs", PrimaryKey: "id"},
				{Name: "jobs.restore_job", Table: "restore_jobs", PrimaryKey: "id"},
			}},
		},
		ExcludedDomains: []string{"identity", "audit", "jobs"},
		SkipTypes:       []string{"jobs.backup_job", "jobs.restore_job", "jobs.retention_schedule"},
		SkipPatterns:    []string{"session", "_log", ".log", "migration"},
		NeverRestore: []string{
			"identity.content_type",
			"identity.permission",
			"identity.session",
			"jobs.backup_job",
			"jobs.restore_job",
			"jobs.retention_schedule",
		},
		Protected: []string{"identity.user", "identity.group"},
		PriorityList: []string{
			"identity.group",
			"identity.user",
			"organization.company",
			"organization.department",
			"organization.employee",
			"customers.customer",
			"customers.contact",
			"sales.order",
			"sales.order_item",
			"sales.inspection",
			"sales.installation",
			"manufacturing.work_order",
			"manufacturing.production_step",
			"reporting.saved_report",
			"integration.webhook",
		},
	}
}

// LoadCatalogFile overlays a YAML file on the default catalog
func LoadCatalogFile(path string) (CatalogConfig, error) {
	cfg := DefaultCatalogConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("failed to read catalog file %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("failed to parse catalog file %s", path), err)
	}
	return cfg, nil
}

// Validate checks the catalog for internal consistency
func (c CatalogConfig) Validate() error {
	var errs Problems
	known := make(map[string]bool)
	domains := make(map[string]bool)

	for _, d := range c.Domains {
		if d.Name == "" {
			errs.Add("domains", "domain name is required", nil)
			continue
		}
		if domains[d.Name] {
			errs.Add("domains", "duplicate domain", d.Name)
		}
		domains[d.Name] = true

		for _, t := range d.Types {
			switch {
			case known[t.Name]:
				errs.Add("types", "duplicate type name", t.Name)
			case t.Domain() != d.Name:
				errs.Add("types", fmt.Sprintf("type must be prefixed with domain %q", d.Name), t.Name)
			case t.Table == "":
				errs.Add("types", "table is required", t.Name)
			case t.PrimaryKey == "":
				errs.Add("types", "primary key is required", t.Name)
			}
			known[t.Name] = true
		}
	}

	for _, d := range c.Domains {
		for _, t := range d.Types {
			for col, target := range t.References {
				if !known[target] {
					errs.Add("references", fmt.Sprintf("%s.%s references unknown type", t.Name, col), target)
				}
			}
		}
	}

	seen := make(map[string]bool)
	for _, name := range c.PriorityList {
		if !known[name] {
			errs.Add("priority_list", "unknown type", name)
		}
		if seen[name] {
			errs.Add("priority_list", "duplicate entry", name)
		}
		seen[name] = true
	}

	return errs.Err()
}

// Catalog answers which domains and types are in scope
type Catalog struct {
	config       CatalogConfig
	types        map[string]TypeSpec
	excluded     map[string]bool
	skip         map[string]bool
	neverRestore map[string]bool
	protected    map[string]bool
}

// NewCatalog validates cfg and indexes it
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigurationError("invalid catalog", err)
	}

	c := &Catalog{
		config:       cfg,
		types:        make(map[string]TypeSpec),
		excluded:     toSet(cfg.ExcludedDomains),
		skip:         toSet(cfg.SkipTypes),
		neverRestore: toSet(cfg.NeverRestore),
		protected:    toSet(cfg.Protected),
	}
	for _, d := range cfg.Domains {
		for _, t := range d.Types {
			c.types[t.Name] = t
		}
	}
	return c, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// ListDomains returns configured domains in order, minus excluded ones
func (c *Catalog) ListDomains() []string {
	var out []string
	for _, d := range c.config.Domains {
		if !c.excluded[d.Name] {
			out = append(out, d.Name)
		}
	}
	return out
}

// ShouldSkipType reports whether a type is never snapshotted
func (c *Catalog) ShouldSkipType(name string) bool {
	if c.skip[name] {
		return true
	}
	domain, _, _ := strings.Cut(name, ".")
	if c.excluded[domain] {
		return true
	}
	lower := strings.ToLower(name)
	for _, pattern := range c.config.SkipPatterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// Resolve looks up a type by its "domain.type" name
func (c *Catalog) Resolve(name string) (TypeSpec, bool) {
	t, ok := c.types[name]
	return t, ok
}

// TypesFor returns the requested domains with their types. Empty means every listed domain.
func (c *Catalog) TypesFor(domains []string) ([]DomainSpec, error) {
	if len(domains) == 0 {
		domains = c.ListDomains()
	}

	var out []DomainSpec
	var errs []error
	for _, name := range domains {
		idx := slices.IndexFunc(c.config.Domains, func(d DomainSpec) bool { return d.Name == name })
		switch {
		case idx < 0:
			errs = append(errs, fmt.Errorf("unknown domain %q", name))
		case c.excluded[name]:
			errs = append(errs, fmt.Errorf("domain %q is excluded from backups", name))
		default:
			out = append(out, c.config.Domains[idx])
		}
	}
	if len(errs) > 0 {
		return nil, NewValidationError("invalid domain selection", errors.Join(errs...))
	}
	return out, nil
}

// NeverRestore reports whether records of this type are dropped during restore
func (c *Catalog) NeverRestore(name string) bool {
	return c.neverRestore[name]
}

// Protected reports whether a type's table must never be cleared
func (c *Catalog) Protected(name string) bool {
	if c.protected[name] || c.neverRestore[name] {
		return true
	}
	domain, _, _ := strings.Cut(name, ".")
	return c.excluded[domain]
}

// PriorityList returns the parent-before-child type order
func (c *Catalog) PriorityList() []string {
	return slices.Clone(c.config.PriorityList)
}

// Domains returns every configured domain including excluded ones
func (c *Catalog) Domains() []DomainSpec {
	return slices.Clone(c.config.Domains)
}

// IsExcluded reports whether a domain is excluded from backups
func (c *Catalog) IsExcluded(domain string) bool {
	return c.excluded[domain]
}
