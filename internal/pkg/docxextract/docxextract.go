package docxextract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var ErrNoText = errors.New("docx has no extractable text")

// ExtractText returns the paragraph text of a .docx file, one paragraph per line.
func ExtractText(content []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx failed: %w", err)
	}
	defer r.Close()

	text, err := paragraphs(r.Editable().GetContent())
	if err != nil {
		return "", fmt.Errorf("parse docx body failed: %w", err)
	}
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// IsDocx reports whether b looks like a zip container holding a Word document.
func IsDocx(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04")) && bytes.Contains(b, []byte("word/"))
}

// paragraphs keeps the text of w:t runs and breaks lines at w:p boundaries.
func paragraphs(body string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	var (
		out    strings.Builder
		line   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				line.WriteByte('\t')
			case "br":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(line.String()); s != "" {
					out.WriteString(s)
					out.WriteByte('\n')
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
