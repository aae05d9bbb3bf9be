package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/itohio/gopstat/pkg/analysis"
	"github.com/itohio/gopstat/pkg/voltammogram"
	"github.com/pterm/pterm"
)

// outputName numbers the files of repeated sweeps: out.csv becomes
// out_001.csv, out_002.csv...
func outputName(path string, i, repeat int) string {
	if repeat <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%03d%s", strings.TrimSuffix(path, ext), i+1, ext)
}

func writeRecords(path string, records []voltammogram.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := voltammogram.WriteCSV(f, slices.Values(records)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func currentUnit(gain uint8) string {
	if gain == 0 {
		return "nA"
	}
	return "µA"
}

func renderRecords(records []voltammogram.Record, maxPoints int, gain uint8) {
	shown := voltammogram.Downsample(nil, records, maxPoints)
	if len(shown) == 0 {
		pterm.Info.Println("Empty voltammogram")
		return
	}

	pterm.Println()
	pterm.DefaultSection.Println("Voltammogram")
	data := pterm.TableData{
		{"Index", "Potential (V)", "Current (" + currentUnit(gain) + ")", "Time (ms)"},
	}
	for _, r := range shown {
		data = append(data, []string{
			fmt.Sprintf("%d", r.Index),
			fmt.Sprintf("%.3f", r.Volts),
			fmt.Sprintf("%.4f", r.Current),
			fmt.Sprintf("%d", r.ElapsedMillis),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	if len(shown) < len(records) {
		pterm.Info.Printf("Showing %d of %d points\n", len(shown), len(records))
	}
}

func printResult(res analysis.Result, n int) {
	pterm.Info.Printf("Sweep %d: peak %.4f µA at %.3f V, concentration %.4f\n",
		n, res.PeakMicroamps, res.Peak.Volts, res.Concentration)
}

func renderHistory(history []analysis.Result) {
	pterm.Println()
	pterm.DefaultSection.Println("Concentration history")
	data := pterm.TableData{{"Sweep", "Peak (µA)", "Potential (V)", "Concentration"}}
	for i, res := range history {
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.4f", res.PeakMicroamps),
			fmt.Sprintf("%.3f", res.Peak.Volts),
			fmt.Sprintf("%.4f", res.Concentration),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
