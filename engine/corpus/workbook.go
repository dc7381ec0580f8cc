package corpus

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// DefaultPath is where the curated workbook lives relative to the working dir.
const DefaultPath = "data/qna.xlsx"

// Workbook reads the cell grid of one sheet of an .xlsx file.
type Workbook struct {
	Path  string
	Sheet string // empty selects the first sheet
}

// NewWorkbook returns a Workbook source for path, defaulting to DefaultPath.
func NewWorkbook(path string) *Workbook {
	if path == "" {
		path = DefaultPath
	}
	return &Workbook{Path: path}
}

// Rows opens the workbook and returns the selected sheet as a grid.
func (w *Workbook) Rows(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(w.Path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", w.Path, err)
	}
	defer f.Close()
	return ReadRows(f, w.Sheet)
}

// ReadRows reads a workbook from r and returns the grid of sheet (or the first sheet).
func ReadRows(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("corpus: read workbook: %w", err)
	}
	defer f.Close()
	return sheetRows(f, sheet)
}

func sheetRows(f *excelize.File, sheet string) ([][]string, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("corpus: workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("corpus: rows of sheet %q: %w", sheet, err)
	}
	return rows, nil
}
