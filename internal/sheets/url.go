package sheets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

var (
	spreadsheetURLRe = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
	spreadsheetIDRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	plainSheetNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ExtractSpreadsheetID returns the spreadsheet id from a Google Sheets URL
// such as https://docs.google.com/spreadsheets/d/<id>/edit. A bare id is
// returned unchanged.
func ExtractSpreadsheetID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: invalid spreadsheet reference: empty", core.ErrValidation)
	}
	if m := spreadsheetURLRe.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if spreadsheetIDRe.MatchString(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("%w: invalid spreadsheet reference %q", core.ErrValidation, ref)
}

// A1Range joins a sheet name and a cell range into A1 notation
// ("Sheet1!A1:Z"). Sheet names with spaces or punctuation are quoted. A
// rangeSpec that already names a sheet is returned as is.
func A1Range(sheetName, rangeSpec string) string {
	sheetName = strings.TrimSpace(sheetName)
	rangeSpec = strings.TrimSpace(rangeSpec)

	if sheetName == "" || strings.Contains(rangeSpec, "!") {
		return rangeSpec
	}
	if !plainSheetNameRe.MatchString(sheetName) {
		sheetName = "'" + strings.ReplaceAll(sheetName, "'", "''") + "'"
	}
	if rangeSpec == "" {
		return sheetName
	}
	return sheetName + "!" + rangeSpec
}
