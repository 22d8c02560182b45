package parser

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

// ErrDelimiter is returned when a file uses a delimiter other than comma or
// tab.
var ErrDelimiter = errors.New("non-standard delimiter used for csv")

// ExtraHeader is the reserved bin for columns beyond the header row.
const ExtraHeader = "extra"

// Row is one raw record from a census file: sanitized, remapped field values
// plus any overflow columns.
type Row struct {
	Fields map[string]string
	Extra  []string
}

// RowSource yields rows until io.EOF.
type RowSource interface {
	Next() (Row, error)
}

// CSVReader produces rows from raw file bytes. The delimiter is sniffed from
// the first line, headers are sanitized and remapped through the per-org
// alias map, and overflow columns are captured into the reserved extra bin.
type CSVReader struct {
	headers  models.HeaderMapping
	data     []byte
	encoding string
}

func NewCSVReader(headers models.HeaderMapping, data []byte, encoding string) *CSVReader {
	return &CSVReader{headers: headers, data: data, encoding: encoding}
}

// Open sniffs the delimiter, decodes the bytes, and reads the header row.
// A sniff failure returns ErrDelimiter.
func (r *CSVReader) Open() (*RowIterator, error) {
	decoded, err := r.decode()
	if err != nil {
		return nil, err
	}

	delimiter, err := sniffDelimiter(decoded)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headerRow, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header row")
	}

	return &RowIterator{
		reader:  reader,
		headers: r.remapHeaders(headerRow),
	}, nil
}

func (r *CSVReader) decode() ([]byte, error) {
	stripped, err := io.ReadAll(utfbom.SkipOnly(bytes.NewReader(r.data)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file data")
	}
	if r.encoding == "" || strings.EqualFold(r.encoding, "utf-8") || strings.EqualFold(r.encoding, "ascii") {
		return stripped, nil
	}
	enc, err := ianaindex.IANA.Encoding(r.encoding)
	if err != nil || enc == nil {
		// Unknown label, assume the bytes are usable as-is.
		return stripped, nil
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), stripped)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode file as %s", r.encoding)
	}
	return decoded, nil
}

// remapHeaders sanitizes the client header row and substitutes canonical
// names through the alias map. Unknown headers pass through; empty headers
// are dropped.
func (r *CSVReader) remapHeaders(fields []string) []string {
	aliasToCanonical := r.headers.AliasToCanonical()

	headers := make([]string, 0, len(fields))
	for _, h := range fields {
		h = strings.ToLower(h)
		h = strings.TrimSpace(h)
		h = strings.Trim(h, `'"`)
		h = strings.ReplaceAll(h, "\r", " ")
		h = strings.ReplaceAll(h, "\n", " ")
		if h == "" {
			continue
		}
		if canonical, ok := aliasToCanonical[h]; ok {
			h = canonical
		}
		headers = append(headers, h)
	}
	return headers
}

func sniffDelimiter(data []byte) (rune, error) {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	commas := bytes.Count(line, []byte{','})
	tabs := bytes.Count(line, []byte{'\t'})
	switch {
	case tabs > commas:
		return '\t', nil
	case commas > 0:
		return ',', nil
	default:
		return 0, ErrDelimiter
	}
}

// RowIterator walks the data rows of an opened file.
type RowIterator struct {
	reader  *csv.Reader
	headers []string
}

// Headers returns the sanitized, remapped header list.
func (it *RowIterator) Headers() []string {
	return it.headers
}

// Next returns the next row, or io.EOF when the file is exhausted.
func (it *RowIterator) Next() (Row, error) {
	record, err := it.reader.Read()
	if err != nil {
		return Row{}, err
	}

	row := Row{Fields: make(map[string]string, len(it.headers))}
	for i, header := range it.headers {
		if i < len(record) {
			row.Fields[header] = record[i]
		}
	}
	if len(record) > len(it.headers) {
		row.Extra = record[len(it.headers):]
	}
	return row, nil
}

// Batches groups rows into batches of at most batchSize, invoking fn for
// each. Iteration stops on the first error from the source or fn.
func Batches(source RowSource, batchSize int, fn func(batch []Row) error) error {
	batch := make([]Row, 0, batchSize)
	for {
		row, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Row, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
