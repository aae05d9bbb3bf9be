package voltammogram

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strconv"
)

// CSVHeader is the header row understood by the analysis backend.
var CSVHeader = []string{"Index", "Current_Amps", "Voltage_V", "Time_ms"}

// WriteCSV writes records as CSV with a header row.
// Volts are written with 3 decimals (mV resolution).
func WriteCSV(w io.Writer, records iter.Seq[Record]) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for r := range records {
		row := []string{
			strconv.Itoa(r.Index),
			strconv.FormatFloat(float64(r.Current), 'f', -1, 32),
			strconv.FormatFloat(float64(r.Volts), 'f', 3, 32),
			strconv.FormatUint(uint64(r.ElapsedMillis), 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", r.Index, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a voltammogram written by WriteCSV.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(CSVHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to read csv: missing header")
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (Record, error) {
	index, err := strconv.Atoi(row[0])
	if err != nil {
		return Record{}, fmt.Errorf("invalid index: %w", err)
	}
	current, err := strconv.ParseFloat(row[1], 32)
	if err != nil {
		return Record{}, fmt.Errorf("invalid current: %w", err)
	}
	volts, err := strconv.ParseFloat(row[2], 32)
	if err != nil {
		return Record{}, fmt.Errorf("invalid voltage: %w", err)
	}
	elapsed, err := strconv.ParseUint(row[3], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("invalid time: %w", err)
	}

	return Record{
		Index:         index,
		Current:       float32(current),
		Volts:         float32(volts),
		ElapsedMillis: uint32(elapsed),
	}, nil
}
