package plugins

import (
	"sort"
	"time"
)

// Frame is a column-oriented batch of timestamped feature values from
// one plugin. Cell values are normalized risk features in [0,1]; nil
// marks a gap. Frames are independent per plugin and merged only after
// every collection task settles.
type Frame struct {
	Columns []string
	rows    map[int64][]*float64 // keyed by unix time
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns []string) *Frame {
	return &Frame{
		Columns: columns,
		rows:    make(map[int64][]*float64),
	}
}

// Set stores one cell. Unknown columns are ignored.
func (f *Frame) Set(ts time.Time, column string, value float64) {
	j := f.columnIndex(column)
	if j < 0 {
		return
	}
	key := ts.Unix()
	row, ok := f.rows[key]
	if !ok {
		row = make([]*float64, len(f.Columns))
		f.rows[key] = row
	}
	v := value
	row[j] = &v
}

// Get returns the cell for (ts, column); nil when absent.
func (f *Frame) Get(ts time.Time, column string) *float64 {
	j := f.columnIndex(column)
	if j < 0 {
		return nil
	}
	row, ok := f.rows[ts.Unix()]
	if !ok {
		return nil
	}
	return row[j]
}

// Timestamps returns the frame's row keys in ascending order.
func (f *Frame) Timestamps() []time.Time {
	keys := make([]int64, 0, len(f.rows))
	for k := range f.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = time.Unix(k, 0).UTC()
	}
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

func (f *Frame) columnIndex(column string) int {
	for j, c := range f.Columns {
		if c == column {
			return j
		}
	}
	return -1
}

// MergedFrame is the outer join of per-plugin frames on timestamp:
// columns are namespaced "plugin.feature", and gaps from failed or
// sparse plugins appear as nils rather than dropped rows.
type MergedFrame struct {
	Columns []string
	Rows    []MergedRow
}

// MergedRow is one timestamp of the merged frame.
type MergedRow struct {
	Timestamp time.Time
	Values    []*float64 // aligned with MergedFrame.Columns
}

// mergeFrames outer-joins the per-plugin frames on timestamp. A plugin
// that produced no frame (failure, timeout) still occupies its declared
// columns, filled with nils, so downstream consumers see gaps rather
// than silently narrower rows.
func mergeFrames(names []string, declared map[string][]string, frames map[string]*Frame) *MergedFrame {
	merged := &MergedFrame{}

	type source struct {
		name    string
		columns []string
		frame   *Frame // nil for failed plugins
	}
	var sources []source
	for _, name := range names {
		s := source{name: name, columns: declared[name]}
		if frame, ok := frames[name]; ok && frame != nil {
			s.frame = frame
			s.columns = frame.Columns
		}
		sources = append(sources, s)
		for _, col := range s.columns {
			merged.Columns = append(merged.Columns, name+"."+col)
		}
	}

	// Union of timestamps across all contributing frames.
	tsSet := make(map[int64]bool)
	for _, s := range sources {
		if s.frame == nil {
			continue
		}
		for k := range s.frame.rows {
			tsSet[k] = true
		}
	}
	keys := make([]int64, 0, len(tsSet))
	for k := range tsSet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		row := MergedRow{Timestamp: time.Unix(k, 0).UTC()}
		for _, s := range sources {
			var cells []*float64
			if s.frame != nil {
				cells = s.frame.rows[k]
			}
			for j := range s.columns {
				if cells != nil {
					row.Values = append(row.Values, cells[j])
				} else {
					row.Values = append(row.Values, nil)
				}
			}
		}
		merged.Rows = append(merged.Rows, row)
	}
	return merged
}

// Value returns the cell for a namespaced column in one row; nil when
// the column is unknown or the cell is a gap.
func (m *MergedFrame) Value(row MergedRow, column string) *float64 {
	for j, c := range m.Columns {
		if c == column {
			return row.Values[j]
		}
	}
	return nil
}
