package scope

import "fmt"

// TableShape is how a step definition reads its data table.
type TableShape int

const (
	// TableNone accepts any table, or none.
	TableNone TableShape = iota
	// TableRaw is the cell grid as written.
	TableRaw
	// TableHorizontal has a header row; each further row is a record.
	TableHorizontal
	// TableVertical has two columns of key and value.
	TableVertical
	// TableMatrix has a header row and a header column.
	TableMatrix
)

func (s TableShape) String() string {
	switch s {
	case TableRaw:
		return "raw"
	case TableHorizontal:
		return "horizontal"
	case TableVertical:
		return "vertical"
	case TableMatrix:
		return "matrix"
	default:
		return "none"
	}
}

// Table is a step's data table.
type Table struct {
	rows [][]string
}

func NewTable(rows [][]string) *Table {
	return &Table{rows: rows}
}

// Validate checks the table fits shape.
func (t *Table) Validate(shape TableShape) error {
	if shape == TableNone {
		return nil
	}
	if t == nil || len(t.rows) == 0 {
		return fmt.Errorf("step expects a %s data table", shape)
	}
	width := len(t.rows[0])
	for i, r := range t.rows {
		if len(r) != width {
			return fmt.Errorf("data table row %d has %d cells, want %d", i+1, len(r), width)
		}
	}
	switch shape {
	case TableHorizontal:
		if len(t.rows) < 2 {
			return fmt.Errorf("horizontal data table needs a header and at least one row")
		}
	case TableVertical:
		if width != 2 {
			return fmt.Errorf("vertical data table needs 2 columns, got %d", width)
		}
	case TableMatrix:
		if len(t.rows) < 2 || width < 2 {
			return fmt.Errorf("matrix data table needs a header row and a header column")
		}
	}
	return nil
}

// Raw returns the cells as written.
func (t *Table) Raw() [][]string {
	if t == nil {
		return nil
	}
	return t.rows
}

// Records maps each row after the header to its header-keyed cells.
func (t *Table) Records() []map[string]string {
	if t == nil || len(t.rows) < 2 {
		return nil
	}
	header := t.rows[0]
	out := make([]map[string]string, 0, len(t.rows)-1)
	for _, row := range t.rows[1:] {
		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// KeyValues reads a two-column table as key to value.
func (t *Table) KeyValues() map[string]string {
	if t == nil {
		return nil
	}
	out := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		if len(row) >= 2 {
			out[row[0]] = row[1]
		}
	}
	return out
}

// Matrix reads a table with both header row and header column as
// row key -> column key -> cell.
func (t *Table) Matrix() map[string]map[string]string {
	if t == nil || len(t.rows) < 2 {
		return nil
	}
	header := t.rows[0]
	out := make(map[string]map[string]string, len(t.rows)-1)
	for _, row := range t.rows[1:] {
		if len(row) == 0 {
			continue
		}
		cols := make(map[string]string, len(header)-1)
		for i := 1; i < len(header) && i < len(row); i++ {
			cols[header[i]] = row[i]
		}
		out[row[0]] = cols
	}
	return out
}
