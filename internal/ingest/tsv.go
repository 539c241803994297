package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/agentic-research/bidsmeta/api"
)

// BIDSNameColumn is the first column of a group table: the document's
// filename without its extension.
const BIDSNameColumn = "bids_name"

// WriteTSV writes records as a tab-separated group table. Nested objects
// are flattened to dotted column names. Columns are bids_name, the
// identity fields present in any record (canonical order), then every
// other column sorted.
func WriteTSV(w io.Writer, records []Record) error {
	rows := make([]map[string]string, len(records))
	seen := map[string]bool{}
	for i, r := range records {
		row := map[string]string{}
		flatten("", map[string]any(r.Document), row)
		for k := range row {
			seen[k] = true
		}
		rows[i] = row
	}

	header := []string{BIDSNameColumn}
	for _, f := range api.EntityFields {
		if seen[f] {
			header = append(header, f)
			delete(seen, f)
		}
	}
	delete(seen, BIDSNameColumn)
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	slices.Sort(rest)
	header = append(header, rest...)

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, r := range records {
		line := make([]string, len(header))
		line[0] = strings.TrimSuffix(filepath.Base(r.ID), ".json")
		for j, col := range header[1:] {
			line[j+1] = rows[i][col]
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func flatten(prefix string, v map[string]any, out map[string]string) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = cell(val)
	}
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
