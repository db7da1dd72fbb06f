package errors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ParseContext locates a problem inside an ingested document
type ParseContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// EnhancedParseError is a row-level ingestion problem. Recoverable errors
// degrade the affected field instead of dropping the document.
type EnhancedParseError struct {
	*ReconcilerError
	Location    *ParseContext `json:"location"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

func (e *EnhancedParseError) Error() string {
	msg := e.ReconcilerError.Error()
	if e.Location == nil {
		return msg
	}

	location := fmt.Sprintf("at %s", filepath.Base(e.Location.File))
	if e.Location.Line > 0 {
		location += fmt.Sprintf(":%d", e.Location.Line)
	}
	if e.Location.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Location.Column)
	}
	return msg + " " + location
}

// GetDetailedError returns a multi-line description for terminal output
func (e *EnhancedParseError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}

	if loc := e.Location; loc != nil {
		lines = append(lines, fmt.Sprintf("  → File: %s", loc.File))
		if loc.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", loc.Line))
		}
		if loc.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", loc.Column))
		}
		if loc.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", loc.Value))
		}
		if loc.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", loc.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples: "+strings.Join(e.Examples, ", "))
	}

	return strings.Join(lines, "\n")
}

// NewEnhancedParseError creates a recoverable parse error
func NewEnhancedParseError(code ErrorCode, loc *ParseContext, message string, cause error) *EnhancedParseError {
	base := build(CategoryParse, code, message, cause)
	if loc != nil {
		base.WithContext("file", loc.File).
			WithContext("line", loc.Line).
			WithContext("column", loc.Column).
			WithContext("value", loc.Value)
	}

	return &EnhancedParseError{
		ReconcilerError: base,
		Location:        loc,
		Recoverable:     true,
	}
}

// WithExamples lists acceptable values for the offending field
func (e *EnhancedParseError) WithExamples(examples ...string) *EnhancedParseError {
	e.Examples = examples
	return e
}

// WithSuggestion sets the suggestion and returns the EnhancedParseError
func (e *EnhancedParseError) WithSuggestion(suggestion string) *EnhancedParseError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// InvalidQuantityError reports a quantity cell that is not a number. The line
// item is kept with no quantity.
func InvalidQuantityError(file string, line int, column, value string) *EnhancedParseError {
	loc := &ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "decimal number"}
	return NewEnhancedParseError(CodeInvalidQuantity, loc, "invalid quantity", nil).
		WithExamples("10", "2.5", "1,000").
		WithSuggestion("the item is kept and its quantity is ignored during matching")
}

// InvalidPriceError reports a unit price cell that is not a number
func InvalidPriceError(file string, line int, column, value string) *EnhancedParseError {
	loc := &ParseContext{File: file, Line: line, Column: column, Value: value, Expected: "decimal amount"}
	return NewEnhancedParseError(CodeInvalidPrice, loc, "invalid unit price", nil).
		WithExamples("12.50", "$1,250.00").
		WithSuggestion("the item is kept and its price is ignored during matching")
}

// MissingColumnError reports required columns absent from a header row
func MissingColumnError(file string, expected, actual []string) *EnhancedParseError {
	missing := findMissingColumns(expected, actual)
	loc := &ParseContext{
		File:     file,
		Line:     1,
		Expected: fmt.Sprintf("columns: %s", strings.Join(expected, ", ")),
	}

	err := NewEnhancedParseError(CodeMissingColumn, loc,
		fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")), nil).
		WithSuggestion("add the columns to the header row or configure column aliases")
	err.Recoverable = false
	return err
}

// EmptyValueError reports a blank code or description cell
func EmptyValueError(file string, line int, column string) *EnhancedParseError {
	loc := &ParseContext{File: file, Line: line, Column: column, Expected: "non-empty value"}
	return NewEnhancedParseError(CodeMissingField, loc, "required field is empty", nil).
		WithSuggestion("the item is matched on its remaining fields only")
}

// ParseErrorCollector accumulates row-level errors up to a limit
type ParseErrorCollector struct {
	errors          []*EnhancedParseError
	maxErrors       int
	continueOnError bool
}

// NewParseErrorCollector creates a collector. A maxErrors of zero means unlimited.
func NewParseErrorCollector(maxErrors int, continueOnError bool) *ParseErrorCollector {
	return &ParseErrorCollector{
		errors:          make([]*EnhancedParseError, 0),
		maxErrors:       maxErrors,
		continueOnError: continueOnError,
	}
}

// Add records err and reports whether processing should continue
func (c *ParseErrorCollector) Add(err *EnhancedParseError) bool {
	if err == nil {
		return true
	}

	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return c.continueOnError || err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *ParseErrorCollector) GetErrors() []*EnhancedParseError {
	return c.errors
}

// GetSummary summarizes the collected errors
func (c *ParseErrorCollector) GetSummary() *ErrorSummary {
	base := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		base[i] = err.ReconcilerError
	}
	return NewErrorSummary(base)
}

func findMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool, len(actual))
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}

// FormatParseErrorsForUser renders collected errors grouped by file
func FormatParseErrorsForUser(errs []*EnhancedParseError) string {
	switch len(errs) {
	case 0:
		return "No parse errors"
	case 1:
		return errs[0].GetDetailedError()
	}

	byFile := make(map[string][]*EnhancedParseError)
	for _, err := range errs {
		file := "unknown"
		if err.Location != nil {
			file = filepath.Base(err.Location.File)
		}
		byFile[file] = append(byFile[file], err)
	}

	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	const maxDetailed = 3
	lines := []string{fmt.Sprintf("Found %d parse errors:", len(errs)), ""}
	for _, file := range files {
		fileErrs := byFile[file]
		lines = append(lines, fmt.Sprintf("File: %s (%d errors)", file, len(fileErrs)))
		for i, err := range fileErrs {
			if i == maxDetailed {
				lines = append(lines, "", fmt.Sprintf("... and %d more errors in this file", len(fileErrs)-maxDetailed))
				break
			}
			lines = append(lines, "", err.GetDetailedError())
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
