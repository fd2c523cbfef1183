// Package textsource normalizes an input document (plain text, a slide
// deck or a notes workbook) into one text blob for script generation.
package textsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"speaker-notes-go/internal/types"
)

type Kind string

const (
	KindText     Kind = "text"
	KindDeck     Kind = "pptx"
	KindWorkbook Kind = "xlsx"
)

// ErrLegacyDeck is returned for binary .ppt decks, which carry no XML parts.
var ErrLegacyDeck = errors.New("legacy .ppt decks are not supported, save the deck as .pptx")

// Slide is the speaker notes of one slide, numbered from 1.
type Slide struct {
	Number int
	Notes  string
}

// Detect picks the reader for path from its extension.
func Detect(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pptx":
		return KindDeck, nil
	case ".ppt":
		return "", ErrLegacyDeck
	case ".xlsx", ".xlsm":
		return KindWorkbook, nil
	default:
		return KindText, nil
	}
}

// Read loads path and returns its text. Slide-based inputs are flattened
// with FormatSlides. Failures wrap types.ErrSource.
func Read(path string) (string, Kind, error) {
	kind, err := Detect(path)
	if err != nil {
		return "", "", types.NewStageError(types.ErrSource, err)
	}
	var text string
	switch kind {
	case KindDeck:
		var slides []Slide
		if slides, err = ReadDeck(path); err == nil {
			text = FormatSlides(slides)
		}
	case KindWorkbook:
		var slides []Slide
		if slides, err = ReadWorkbook(path); err == nil {
			text = FormatSlides(slides)
		}
	default:
		var b []byte
		if b, err = os.ReadFile(path); err == nil {
			text = string(b)
		}
	}
	if err != nil {
		return "", kind, types.NewStageError(types.ErrSource, fmt.Errorf("read %s: %w", filepath.Base(path), err))
	}
	return text, kind, nil
}

// FormatSlides joins slide notes, each preceded by a blank line and a
// "Slide N: " label line.
func FormatSlides(slides []Slide) string {
	var sb strings.Builder
	for _, s := range slides {
		sb.WriteString("\n\nSlide ")
		sb.WriteString(strconv.Itoa(s.Number))
		sb.WriteString(": \n")
		sb.WriteString(s.Notes)
	}
	return sb.String()
}
