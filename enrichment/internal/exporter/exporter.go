// Package exporter turns a run's items into a flat results table and writes
// it as CSV or XLSX.
package exporter

import (
	"cmp"
	"slices"
	"strings"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
)

// Fixed leading columns of every export.
var baseColumns = []string{"manufacturer", "part_number", "description", "category", "status"}

// attrPrefix marks an attribute column whose name collides with a fixed one.
const attrPrefix = "attr:"

// Table is a rectangular export: every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Build lays out items in seq order. After the fixed columns comes one column
// per distinct attribute name of schema, in schema order; names differing
// only in case share the first spelling's column. An attribute named like a
// fixed column is headed "attr:<name>".
func Build(items []*domain.Item, schema []domain.AttributeDef) Table {
	attrs := attributeColumns(schema)

	columns := make([]string, 0, len(baseColumns)+len(attrs))
	columns = append(columns, baseColumns...)
	for _, a := range attrs {
		columns = append(columns, a.header)
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b *domain.Item) int { return cmp.Compare(a.Seq, b.Seq) })

	rows := make([][]string, 0, len(sorted))
	for _, it := range sorted {
		row := make([]string, 0, len(columns))
		row = append(row,
			it.Identity.Manufacturer,
			it.Identity.PartNumber,
			it.Identity.Description,
			it.CategoryKey,
			string(it.Status),
		)
		for _, a := range attrs {
			row = append(row, cell(it.ResultData, a.name))
		}
		rows = append(rows, row)
	}
	return Table{Columns: columns, Rows: rows}
}

// Objects returns one column-keyed map per row, for JSON output.
func (t Table) Objects() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		obj := make(map[string]string, len(t.Columns))
		for j, col := range t.Columns {
			obj[col] = row[j]
		}
		out[i] = obj
	}
	return out
}

type attrColumn struct {
	header string
	name   string
}

func attributeColumns(schema []domain.AttributeDef) []attrColumn {
	reserved := make(map[string]struct{}, len(baseColumns))
	for _, c := range baseColumns {
		reserved[c] = struct{}{}
	}

	var cols []attrColumn
	seen := make(map[string]struct{})
	for _, def := range schema {
		name := strings.TrimSpace(def.Attribute)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		header := name
		if _, clash := reserved[key]; clash {
			header = attrPrefix + name
		}
		cols = append(cols, attrColumn{header: header, name: name})
	}
	return cols
}

func cell(data map[string]string, name string) string {
	if v, ok := data[name]; ok {
		return v
	}
	for k, v := range data {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
