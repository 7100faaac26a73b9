package models

// CatalogTable describes one table or view visible to scope selection.
type CatalogTable struct {
	Name        string          `json:"name"`
	Columns     []CatalogColumn `json:"columns"`
	RowEstimate int64           `json:"row_estimate"`
	// SampleRows holds up to a few rows captured at scan time, rendered as
	// strings. Included in prompts for grounding; never re-fetched at prompt
	// time so prompt building stays deterministic.
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// CatalogColumn describes one column of a catalog table.
type CatalogColumn struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
	// ForeignKeyRef is "table.column" when this column references another
	// table, empty otherwise. A hint for the prompt builder, not a constraint.
	ForeignKeyRef string `json:"foreign_key_ref,omitempty"`
}
