package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/copyleftdev/qfe/internal/optimization"
)

func writeRecords(w io.Writer, format string, records []optimization.IterationRecord) error {
	switch format {
	case "table", "":
		return writeTable(w, records)
	case "json":
		return writeJSON(w, records)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTable(w io.Writer, records []optimization.IterationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "iter\tpoint\tfunction\tcost\tmax c\tdf\tdx\tmet\t")
	for _, r := range records {
		point := make([]string, len(r.Point))
		for i, v := range r.Point {
			point[i] = formatFloat(v)
		}
		fmt.Fprintf(tw, "%d\t(%s)\t%s\t%s\t%s\t%s\t%s\t%t\t\n",
			r.Iteration,
			strings.Join(point, ", "),
			formatFloat(r.Function),
			formatFloat(r.Cost),
			formatFloat(r.MaxConstraint),
			formatFloat(r.LastFunctionChange),
			formatFloat(r.LastPointChange),
			r.ConstraintsMet,
		)
	}
	return tw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

// jsonRecord mirrors IterationRecord with non-finite numbers as null.
type jsonRecord struct {
	Iteration          int        `json:"iteration"`
	Point              []*float64 `json:"point"`
	Function           *float64   `json:"function"`
	Cost               *float64   `json:"cost"`
	MaxConstraint      *float64   `json:"max_constraint"`
	LastFunctionChange *float64   `json:"last_function_change"`
	LastPointChange    *float64   `json:"last_point_change"`
	ConstraintsMet     bool       `json:"constraints_met"`
}

func writeJSON(w io.Writer, records []optimization.IterationRecord) error {
	out := make([]jsonRecord, len(records))
	for i, r := range records {
		point := make([]*float64, len(r.Point))
		for j, v := range r.Point {
			point[j] = finite(v)
		}
		out[i] = jsonRecord{
			Iteration:          r.Iteration,
			Point:              point,
			Function:           finite(r.Function),
			Cost:               finite(r.Cost),
			MaxConstraint:      finite(r.MaxConstraint),
			LastFunctionChange: finite(r.LastFunctionChange),
			LastPointChange:    finite(r.LastPointChange),
			ConstraintsMet:     r.ConstraintsMet,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
