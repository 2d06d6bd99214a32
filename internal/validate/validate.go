// Package validate checks field values before a tool or the dialog engine
// writes them to a profile. Validators are pure: they never touch the
// profile and never return errors, only an (ok, message) pair.
package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Messages returned on rejection. They are addressed to whoever made the
// write (usually the language model), not to the subject.
const (
	MsgIncome = "Доход должен быть числом в рублях. Не проси пользователя исправить значение: " +
		"вызови инструмент снова с корректным числом."
	MsgName = "Имя должно содержать только буквы."
	MsgDate = "Дата должна быть в формате ДД.ММ.ГГГГ."
)

var numericRE = regexp.MustCompile(`^\d[\d\s]*$`)

var (
	incomeFields = map[string]bool{
		"desired_income":     true,
		"salary":             true,
		"salary_expectation": true,
	}
	nameFields = map[string]bool{
		"first_name":  true,
		"last_name":   true,
		"middle_name": true,
	}
	dateFields = map[string]bool{
		"birth_date":    true,
		"date_of_birth": true,
	}
)

// dateLayouts accept one- or two-digit day and month.
var dateLayouts = []string{"2.1.2006", "2-1-2006", "2006-1-2"}

// Validate reports whether value is acceptable for field. Field names are
// matched case-insensitively; fields without a rule are always accepted.
func Validate(field string, value any) (bool, string) {
	field = strings.ToLower(strings.TrimSpace(field))

	switch {
	case incomeFields[field]:
		if isNumeric(value) {
			return true, ""
		}
		return false, MsgIncome

	case nameFields[field]:
		if s, ok := value.(string); ok && isAlpha(s) {
			return true, ""
		}
		return false, MsgName

	case dateFields[field]:
		if s, ok := value.(string); ok && isDate(s) {
			return true, ""
		}
		return false, MsgDate
	}

	return true, ""
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case string:
		return numericRE.MatchString(strings.TrimSpace(v))
	}
	return false
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isDate(s string) bool {
	_, ok := ParseDate(s)
	return ok
}

// ParseDate parses a date in any of the accepted answer formats.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
