package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/saintfish/chardet"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

const encodingProbeSize = 4096

// charsetDecoders maps chardet charset names onto decoders
var charsetDecoders = map[string]encoding.Encoding{
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"windows-1256": charmap.Windows1256,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"iso-8859-5":   charmap.ISO8859_5,
	"iso-8859-6":   charmap.ISO8859_6,
	"iso-8859-9":   charmap.ISO8859_9,
	"koi8-r":       charmap.KOI8R,
}

// csvRows wraps r in a csv.Reader, decoding legacy code pages to UTF-8
func (bp *BaseParser) csvRows(r io.Reader) (RowReader, string, error) {
	br := bufio.NewReaderSize(r, encodingProbeSize)
	charset := "utf-8"

	var dec io.Reader = br
	if bp.config.DetectEncoding {
		peek, _ := br.Peek(encodingProbeSize)
		charset = detectCharset(peek)
		if charset != "utf-8" {
			enc, ok := charsetDecoders[charset]
			if !ok {
				enc = charmap.Windows1252
			}
			dec = transform.NewReader(br, enc.NewDecoder())
		}
		bp.logger.WithField("encoding", charset).Debug("Detected CSV encoding")
	}

	cr := csv.NewReader(dec)
	cr.Comma = bp.config.Delimiter
	cr.Comment = bp.config.Comment
	cr.TrimLeadingSpace = bp.config.TrimLeadingSpace
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr, charset, nil
}

// detectCharset returns a lower-case charset name. Input that is already
// valid UTF-8 is never reinterpreted.
func detectCharset(peek []byte) string {
	if len(peek) == 0 || validUTF8Prefix(peek) {
		return "utf-8"
	}
	det, err := chardet.NewTextDetector().DetectBest(peek)
	if err != nil || det == nil {
		return "utf-8"
	}
	return strings.ToLower(det.Charset)
}

// validUTF8Prefix reports whether b is valid UTF-8, ignoring a rune cut off
// at the end of the sample window.
func validUTF8Prefix(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			return len(b) < utf8.UTFMax && !utf8.FullRune(b)
		}
		b = b[size:]
	}
	return true
}

// readXLSXRows loads the named sheet, or the first one, from a workbook
func readXLSXRows(r io.Reader, sheet string) ([][]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}
	return f.GetRows(sheet)
}

// readXLSRows loads the first sheet of a legacy workbook. The xls reader
// panics on some malformed files, so the panic is turned into an error.
func readXLSRows(r io.Reader) (rows [][]string, err error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			rows, err = nil, fmt.Errorf("xls: malformed workbook: %v", rec)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(b), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, fmt.Errorf("xls: no workbook stream")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	width := 0
	for i := 0; i <= int(sheet.MaxRow); i++ {
		if row := xlsRow(sheet, i); row != nil && row.LastCol() > width {
			width = row.LastCol()
		}
	}

	rows = make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		cols := make([]string, width)
		if row := xlsRow(sheet, i); row != nil {
			for j := 0; j < width; j++ {
				cols[j] = strings.TrimSpace(row.Col(j))
			}
		}
		rows = append(rows, cols)
	}
	return rows, nil
}

// xlsRow returns nil for rows the sheet does not store
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
