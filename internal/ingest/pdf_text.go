package ingest

import (
	"bytes"
	"fmt"
	"strings"

	rpdf "rsc.io/pdf"
)

// extractPDFText flattens every page into lines of text. The parser panics on
// some malformed files, so panics are converted into errors.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		lastY := -1.0
		for _, fragment := range page.Content().Text {
			if lastY >= 0 && fragment.Y != lastY {
				builder.WriteString("\n")
			}
			builder.WriteString(fragment.S)
			lastY = fragment.Y
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}
