package probe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

type kind int

const (
	kindUnsupported kind = iota
	kindText
	kindJSON
)

func kindOf(contentType, url string) kind {
	switch {
	case strings.Contains(contentType, "csv"),
		strings.HasSuffix(url, ".csv"), strings.HasSuffix(url, ".txt"):
		return kindText
	case strings.Contains(contentType, "json"), strings.HasSuffix(url, ".json"):
		return kindJSON
	default:
		return kindUnsupported
	}
}

// shapeError is a terminal, non-retryable structural failure.
type shapeError struct{ msg string }

func (e *shapeError) Error() string { return e.msg }

// maxLineHead is how much of each line is kept for classification.
const maxLineHead = 4 << 10

// countLines counts non-empty lines.
func countLines(r io.Reader) (int64, error) {
	return scanLines(r, func(line []byte) bool { return len(line) > 0 })
}

// countObjectLines counts lines whose trimmed form starts with '{'.
func countObjectLines(r io.Reader) (int64, error) {
	return scanLines(r, func(line []byte) bool {
		return bytes.HasPrefix(bytes.TrimSpace(line), []byte("{"))
	})
}

func scanLines(r io.Reader, keep func(line []byte) bool) (int64, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head := make([]byte, 0, maxLineHead)
	var n int64
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if room := maxLineHead - len(head); room > 0 {
			head = append(head, frag[:min(len(frag), room)]...)
		}
		if isPrefix {
			continue
		}
		if keep(head) {
			n++
		}
		head = head[:0]
	}
}

// readDecoded reads at most limit bytes of body, transcoded to UTF-8 from
// the charset declared in contentType.
func readDecoded(body io.Reader, contentType string, limit int64) ([]byte, error) {
	limited := io.LimitReader(body, limit+1)
	r, err := charset.NewReader(limited, contentType)
	if err != nil {
		r = limited
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &shapeError{msg: fmt.Sprintf("JSON body exceeds %d bytes", limit)}
	}
	return data, nil
}

// countJSON counts records in a single JSON document: the length of a
// top-level array, or for an object the length of its first array-valued
// field in document order (1 when there is none). Any other top-level value
// is a *shapeError. Malformed input, trailing data included, returns a plain
// decode error.
func countJSON(data []byte) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}

	var n int64
	var shape error
	switch tok {
	case json.Delim('['):
		for dec.More() {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return 0, err
			}
			n++
		}
		if _, err := dec.Token(); err != nil {
			return 0, err
		}

	case json.Delim('{'):
		n = 1
		found := false
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return 0, err
			}
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return 0, err
			}
			if found || !isArray(v) {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(v, &items); err != nil {
				return 0, err
			}
			n, found = int64(len(items)), true
		}
		if _, err := dec.Token(); err != nil {
			return 0, err
		}

	default:
		shape = &shapeError{msg: "Unexpected JSON structure: " + scalarKind(tok)}
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("probe: trailing data after JSON value")
		}
		return 0, err
	}
	if shape != nil {
		return 0, shape
	}
	return n, nil
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimLeft(v, " \t\r\n")
	return len(v) > 0 && v[0] == '['
}

func scalarKind(tok json.Token) string {
	switch tok.(type) {
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", tok)
	}
}
