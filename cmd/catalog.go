package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/config"
	"mysql-data-vault/internal/display"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var catalogDomains []string

// catalogCmd shows the domain catalog without connecting to the database
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show backup domains and record types",
	Long: `Show the domains that can be backed up and the record types in each.

The built-in catalog can be narrowed or replaced with 'catalog_file'. Types
marked skip are never read; types marked never-restore are read but left out
of restores.

Examples:
  mysql-data-vault catalog
  mysql-data-vault catalog --domains sales --format yaml`,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringSliceVar(&catalogDomains, "domains", nil, "only show these domains")
	catalogCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
}

// catalogEntry is one record type as printed by the catalog command
type catalogEntry struct {
	Domain       string   `json:"domain"`
	Type         string   `json:"type"`
	Table        string   `json:"table"`
	PrimaryKey   string   `json:"primary_key"`
	References   []string `json:"references,omitempty"`
	Skipped      bool     `json:"skipped"`
	NeverRestore bool     `json:"never_restore"`
	Priority     int      `json:"priority"`
}

func runCatalog(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}

	// the catalog needs no database, so the connection settings are not validated
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	catalog, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}

	domains := catalogDomains
	if len(domains) == 0 {
		domains = catalog.ListDomains()
	}
	specs, err := catalog.TypesFor(domains)
	if err != nil {
		return err
	}

	entries := catalogEntries(catalog, specs)

	printer := newPrinter()
	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, entries)
	}

	t := display.NewTable(printer.Colors(), "DOMAIN", "TYPE", "TABLE", "PK", "REFERENCES", "PRIORITY", "FLAGS")
	t.AlignRight(5)
	for _, e := range entries {
		priority := "-"
		if e.Priority >= 0 {
			priority = strconv.Itoa(e.Priority)
		}
		var flags []string
		if e.Skipped {
			flags = append(flags, "skip")
		}
		if e.NeverRestore {
			flags = append(flags, "never-restore")
		}
		t.AddRow(e.Domain, e.Type, e.Table, e.PrimaryKey, strings.Join(e.References, ","), priority, strings.Join(flags, ","))
	}
	t.RenderTo(printer.Writer())
	return nil
}

func catalogEntries(catalog *backup.Catalog, specs []backup.DomainSpec) []catalogEntry {
	priority := make(map[string]int)
	for i, name := range catalog.PriorityList() {
		priority[name] = i
	}

	var entries []catalogEntry
	for _, domain := range specs {
		for _, ts := range domain.Types {
			e := catalogEntry{
				Domain:       domain.Name,
				Type:         ts.Name,
				Table:        ts.Table,
				PrimaryKey:   ts.PrimaryKey,
				Skipped:      catalog.ShouldSkipType(ts.Name),
				NeverRestore: catalog.NeverRestore(ts.Name),
				Priority:     -1,
			}
			if p, ok := priority[ts.Name]; ok {
				e.Priority = p
			}
			for field, ref := range ts.References {
				e.References = append(e.References, field+"->"+ref)
			}
			sort.Strings(e.References)
			entries = append(entries, e)
		}
	}
	return entries
}
