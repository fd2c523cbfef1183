package textsource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadWorkbook reads speaker notes from the first sheet of a workbook with
// one row per slide. The slide and notes columns are found from the header
// row; without a slide column rows are numbered in order.
func ReadWorkbook(path string) ([]Slide, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	header := rows[0]
	slideIdx, notesIdx := -1, -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "note") || strings.Contains(l, "script") || strings.Contains(l, "text"):
			if notesIdx == -1 {
				notesIdx = i
			}
		case strings.Contains(l, "slide") || l == "#" || l == "no" || l == "number":
			if slideIdx == -1 {
				slideIdx = i
			}
		}
	}
	// fallback: notes in the second column when the first one is the slide number
	if notesIdx == -1 {
		if len(header) > 1 {
			notesIdx = 1
		} else {
			notesIdx = 0
		}
	}

	var out []Slide
	for i, r := range rows {
		if i == 0 {
			continue
		}
		s := Slide{Number: len(out) + 1}
		if slideIdx >= 0 && slideIdx < len(r) {
			if n, err := strconv.Atoi(strings.TrimSpace(r[slideIdx])); err == nil && n > 0 {
				s.Number = n
			}
		}
		if notesIdx < len(r) {
			s.Notes = r[notesIdx]
		}
		// skip fully blank rows quietly
		if strings.TrimSpace(strings.Join(r, "")) == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
