package ingest

import (
	"encoding/csv"
	"errors"
	"strings"
	"sync"

	"soundfault/internal/normalize"
)

var errNoFeatures = errors.New("line carries no feature values")

// Parser reads one job per line: a JSON object or a CSV record. A CSV
// header line switches the parser to named columns for later lines;
// without one the columns are category,zcr,centroid,onset,rms with an
// optional leading id.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.JobFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	fields, err := p.csv.Parse(trim)
	if err != nil || fields == nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

var positionalColumns = map[int][]string{
	5: {"category", "zcr", "centroid", "onset", "rms"},
	6: {"id", "category", "zcr", "centroid", "onset", "rms"},
}

type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.JobFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		p.mu.Unlock()
		return nil, nil
	}
	columns := p.header
	p.mu.Unlock()
	if columns == nil {
		columns = positionalColumns[len(record)]
	}
	if columns == nil {
		return nil, errNoFeatures
	}
	fields := &normalize.JobFields{Values: map[string]string{}}
	for i, name := range columns {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch normalize.Key(v) {
		case "id", "jobid", "category", "tur", "device":
			return true
		}
		if normalize.FeatureKey(v) != "" {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = normalize.Key(v)
	}
	return out
}

func assignField(fields *normalize.JobFields, name string, value string) {
	value = strings.TrimSpace(value)
	switch normalize.Key(name) {
	case "id", "jobid":
		fields.ID = value
	case "category", "tur", "device":
		fields.Category = value
	default:
		if normalize.FeatureKey(name) != "" {
			fields.Values[name] = value
		}
	}
}
