package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"code.sajari.com/docconv"
)

const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// PDF extracts text with pdftotext, one page after another separated by a newline.
// A page without text contributes an empty line.
// The upload is written to a temporary file that is removed on every path.
func PDF(tmpDir string) Func {
	return func(ctx context.Context, data []byte) (string, error) {
		var raw []byte
		err := withTempFile(tmpDir, ".pdf", data, func(f *os.File) error {
			// same flags docconv.ConvertPDFText uses, minus -nopgbrk: pages stay \f-delimited
			out, err := exec.CommandContext(ctx, "pdftotext", "-q", "-enc", "UTF-8", "-eol", "unix", f.Name(), "-").Output()
			if err != nil {
				return fmt.Errorf("pdftotext: %w", err)
			}
			raw = out
			return nil
		})
		if err != nil {
			return "", err
		}
		return joinPages(string(raw)), nil
	}
}

// joinPages turns pdftotext's form-feed terminated pages into newline separated pages.
func joinPages(raw string) string {
	pages := strings.Split(raw, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	for i, p := range pages {
		pages[i] = strings.TrimRight(p, "\n")
	}
	return strings.Join(pages, "\n")
}

// DOCX extracts the body paragraphs in document order, one per line.
// Headers, footers and other parts are ignored.
func DOCX() Func {
	return func(ctx context.Context, data []byte) (string, error) {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("open docx: %w", err)
		}
		part, err := docxMainPart(zr)
		if err != nil {
			return "", err
		}
		rc, err := part.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", part.Name, err)
		}
		defer rc.Close()

		text, err := docconv.DocxXMLToText(rc)
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", part.Name, err)
		}
		// every paragraph opens with a break, so the first one is leading
		return strings.Trim(text, "\n"), nil
	}
}

// docxMainPart finds the main document part through [Content_Types].xml,
// falling back to the conventional word/document.xml.
func docxMainPart(zr *zip.Reader) (*zip.File, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	if ct, ok := files["[Content_Types].xml"]; ok {
		rc, err := ct.Open()
		if err != nil {
			return nil, fmt.Errorf("open content types: %w", err)
		}
		var types struct {
			Overrides []struct {
				PartName    string `xml:"PartName,attr"`
				ContentType string `xml:"ContentType,attr"`
			} `xml:"Override"`
		}
		err = xml.NewDecoder(rc).Decode(&types)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse content types: %w", err)
		}
		for _, o := range types.Overrides {
			if o.ContentType == docxMainContentType {
				if f, ok := files[strings.TrimPrefix(o.PartName, "/")]; ok {
					return f, nil
				}
			}
		}
	}

	if f, ok := files["word/document.xml"]; ok {
		return f, nil
	}
	return nil, errors.New("docx: main document part not found")
}
