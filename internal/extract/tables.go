package extract

import (
	"math"
	"sort"
	"strings"

	"github.com/nowusman/DocGuard/internal/domain"
)

// delimitedTables finds runs of at least two consecutive lines that split
// into the same number (two or more) of pipe- or tab-separated cells.
// Markdown separator rows are skipped.
func delimitedTables(page int, lines []string) []domain.TableRegion {
	var tables []domain.TableRegion
	var rows [][]string
	first := 0

	flush := func(end int) {
		if len(rows) >= 2 {
			// line numbers stand in for geometry in unpaged text
			tables = append(tables, domain.TableRegion{
				PageIndex:   page,
				BoundingBox: domain.Rect{X0: 0, Y0: float64(first), X1: float64(len(rows[0])), Y1: float64(end)},
				Cells:       rows,
			})
		}
		rows = nil
	}

	for i, line := range lines {
		cells := splitDelimited(line)
		if cells == nil {
			if isSeparatorRow(line) && len(rows) > 0 {
				continue
			}
			flush(i)
			continue
		}
		if len(rows) > 0 && len(cells) != len(rows[0]) {
			flush(i)
		}
		if len(rows) == 0 {
			first = i
		}
		rows = append(rows, cells)
	}
	flush(len(lines))
	return tables
}

func splitDelimited(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isSeparatorRow(trimmed) {
		return nil
	}
	var parts []string
	switch {
	case strings.Count(trimmed, "|") >= 1:
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "|"), "|")
		parts = strings.Split(trimmed, "|")
	case strings.Contains(line, "\t"):
		parts = strings.Split(strings.Trim(line, "\r\n"), "\t")
	default:
		return nil
	}
	if len(parts) < 2 {
		return nil
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSeparatorRow(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" || !strings.Contains(t, "-") {
		return false
	}
	return strings.Trim(t, "|-: +") == ""
}

// positionedLine is a run of text with its box on the page.
type positionedLine struct {
	Box  domain.Rect
	Text string
}

// layoutTables groups lines into visual rows and reports runs of at least
// two rows whose cells line up in the same columns.
func layoutTables(page int, lines []positionedLine) []domain.TableRegion {
	rows := groupRows(lines)

	var tables []domain.TableRegion
	var run [][]positionedLine
	flush := func() {
		if len(run) >= 2 {
			tables = append(tables, tableFromRows(page, run))
		}
		run = nil
	}

	for _, row := range rows {
		if len(row) < 2 {
			flush()
			continue
		}
		if len(run) > 0 && !columnsAlign(run[0], row) {
			flush()
		}
		run = append(run, row)
	}
	flush()
	return tables
}

// groupRows clusters lines whose tops are within half a line height, each
// row sorted left to right.
func groupRows(lines []positionedLine) [][]positionedLine {
	sorted := append([]positionedLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Box.Y0 != sorted[j].Box.Y0 {
			return sorted[i].Box.Y0 < sorted[j].Box.Y0
		}
		return sorted[i].Box.X0 < sorted[j].Box.X0
	})

	var rows [][]positionedLine
	for _, l := range sorted {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		if n := len(rows); n > 0 {
			top := rows[n-1][0].Box
			tol := math.Max(2, 0.5*top.Height())
			if math.Abs(l.Box.Y0-top.Y0) <= tol {
				rows[n-1] = append(rows[n-1], l)
				continue
			}
		}
		rows = append(rows, []positionedLine{l})
	}
	for _, r := range rows {
		sort.SliceStable(r, func(i, j int) bool { return r[i].Box.X0 < r[j].Box.X0 })
	}
	return rows
}

const columnTolerance = 8.0

func columnsAlign(a, b []positionedLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i].Box.X0-b[i].Box.X0) > columnTolerance {
			return false
		}
	}
	return true
}

func tableFromRows(page int, rows [][]positionedLine) domain.TableRegion {
	box := rows[0][0].Box
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, l := range row {
			cells[i][j] = strings.TrimSpace(l.Text)
			box = union(box, l.Box)
		}
	}
	return domain.TableRegion{PageIndex: page, BoundingBox: box, Cells: cells}
}

func union(a, b domain.Rect) domain.Rect {
	return domain.Rect{
		X0: math.Min(a.X0, b.X0),
		Y0: math.Min(a.Y0, b.Y0),
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
	}
}
