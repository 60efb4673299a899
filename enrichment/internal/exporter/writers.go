package exporter

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet XLSX exports are written to.
const SheetName = "Results"

// WriteCSV writes the header row then every row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a single Results sheet and a bold header.
func WriteXLSX(w io.Writer, t Table) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", closeErr)
		}
	}()

	if err = f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err = setRow(f, 1, t.Columns); err != nil {
		return err
	}
	if len(t.Columns) > 0 {
		bold, styleErr := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if styleErr != nil {
			return fmt.Errorf("create header style: %w", styleErr)
		}
		last, cellErr := excelize.CoordinatesToCellName(len(t.Columns), 1)
		if cellErr != nil {
			return fmt.Errorf("header range: %w", cellErr)
		}
		if err = f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
	}

	for i, row := range t.Rows {
		if err = setRow(f, i+2, row); err != nil {
			return err
		}
	}

	if err = f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, rowNum int, values []string) error {
	start, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("row %d: %w", rowNum, err)
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(SheetName, start, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}
