package schema

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout of a question catalog.
type catalogFile struct {
	Questions []Field `yaml:"questions"`
}

// LoadFile reads a catalog from disk and builds a schema. The format is
// chosen by extension: .yaml/.yml or .csv (a spreadsheet export with a
// header row).
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var fields []Field
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		fields, err = ParseYAML(data)
	case ".csv":
		fields, err = ParseCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return New(fields)
}

// ParseYAML decodes a YAML catalog with a top-level "questions" list.
func ParseYAML(data []byte) ([]Field, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return cf.Questions, nil
}

// csvColumns are the header names recognised in a spreadsheet export.
var csvColumns = []string{
	"field_name", "label", "priority", "template", "inline_kb",
	"multi_select", "buttons", "destination", "group_id", "is_last",
}

// ParseCSV decodes a spreadsheet export. Boolean cells are true only when
// they read TRUE (any case); the buttons cell holds a JSON array and is
// ignored when it does not parse. Blank rows are skipped.
func ParseCSV(r io.Reader) ([]Field, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, required := range []string{"field_name", "priority", "template"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q (known columns: %s)", required, strings.Join(csvColumns, ", "))
		}
	}

	var fields []Field
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blankRow(rec) {
			continue
		}

		cell := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		prio, err := strconv.Atoi(cell("priority"))
		if err != nil {
			return nil, fmt.Errorf("line %d: priority %q: %w", line, cell("priority"), err)
		}

		fields = append(fields, Field{
			Name:           cell("field_name"),
			Label:          cell("label"),
			Priority:       prio,
			Question:       cell("template"),
			Choices:        parseButtons(cell("buttons")),
			InlineKeyboard: strings.EqualFold(cell("inline_kb"), "true"),
			MultiSelect:    strings.EqualFold(cell("multi_select"), "true"),
			Destination:    cell("destination"),
			GroupID:        cell("group_id"),
			IsLast:         strings.EqualFold(cell("is_last"), "true"),
		})
	}

	return fields, nil
}

func blankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseButtons(s string) []string {
	if s == "" {
		return nil
	}
	var buttons []string
	if err := json.Unmarshal([]byte(s), &buttons); err != nil {
		return nil
	}
	return buttons
}
