package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var stdout io.Writer = os.Stdout

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func currentFormat() outputFormat {
	return outputFormat(strings.ToLower(outputFmt))
}

// wantsStructured reports whether -o selected a machine readable format.
func wantsStructured() bool {
	f := currentFormat()
	return f == formatJSON || f == formatYAML
}

// encode writes v as JSON or YAML. YAML keys follow the JSON tags, so v is
// round-tripped through encoding/json first.
func encode(v any) error {
	switch currentFormat() {
	case formatJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(stdout)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(generic)
	default:
		return fmt.Errorf("output %q cannot encode structured data; use json or yaml", outputFmt)
	}
}

func writeTable(columns []string, rows [][]string) {
	tw := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

// ellipsize cuts s to at most n runes.
func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
