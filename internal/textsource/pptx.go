package textsource

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	presentationPart = "ppt/presentation.xml"
	relSlide         = "/slide"
	relNotesSlide    = "/notesSlide"
)

type presentation struct {
	SlideIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type notesSlide struct {
	Shapes []struct {
		Placeholder *struct {
			Type string `xml:"type,attr"`
		} `xml:"nvSpPr>nvPr>ph"`
		Paragraphs []paragraph `xml:"txBody>p"`
	} `xml:"cSld>spTree>sp"`
}

type paragraph struct {
	Items []struct {
		XMLName xml.Name
		Text    string `xml:"t"`
	} `xml:",any"`
}

func (p paragraph) text() string {
	var sb strings.Builder
	for _, it := range p.Items {
		switch it.XMLName.Local {
		case "r", "fld":
			sb.WriteString(it.Text)
		case "br":
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

type deck struct {
	files map[string]*zip.File
}

// ReadDeck returns the speaker notes of every slide in presentation order.
// Slides without a notes page yield empty notes.
func ReadDeck(file string) ([]Slide, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("open deck: %w", err)
	}
	defer zr.Close()

	d := deck{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		d.files[f.Name] = f
	}

	var pres presentation
	if err := d.decode(presentationPart, &pres); err != nil {
		return nil, err
	}
	presRels, err := d.rels(presentationPart)
	if err != nil {
		return nil, err
	}

	slides := make([]Slide, 0, len(pres.SlideIDs))
	for i, sid := range pres.SlideIDs {
		slidePart, ok := presRels[sid.RID]
		if !ok {
			return nil, fmt.Errorf("slide relationship %q not found", sid.RID)
		}
		notes, err := d.slideNotes(slidePart)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", i+1, err)
		}
		slides = append(slides, Slide{Number: i + 1, Notes: notes})
	}
	return slides, nil
}

func (d deck) slideNotes(slidePart string) (string, error) {
	rels, err := d.relsByType(slidePart, relNotesSlide)
	if err != nil {
		return "", err
	}
	if len(rels) == 0 {
		return "", nil
	}
	var ns notesSlide
	if err := d.decode(rels[0], &ns); err != nil {
		return "", err
	}
	for _, sh := range ns.Shapes {
		if sh.Placeholder == nil || sh.Placeholder.Type != "body" {
			continue
		}
		lines := make([]string, 0, len(sh.Paragraphs))
		for _, p := range sh.Paragraphs {
			lines = append(lines, p.text())
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", nil
}

// rels maps relationship id to the resolved part name.
func (d deck) rels(part string) (map[string]string, error) {
	var r relationships
	if err := d.decode(relsPart(part), &r); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(r.Items))
	for _, it := range r.Items {
		if strings.HasSuffix(it.Type, relSlide) {
			out[it.ID] = resolve(part, it.Target)
		}
	}
	return out, nil
}

func (d deck) relsByType(part, suffix string) ([]string, error) {
	name := relsPart(part)
	if _, ok := d.files[name]; !ok {
		return nil, nil
	}
	var r relationships
	if err := d.decode(name, &r); err != nil {
		return nil, err
	}
	var out []string
	for _, it := range r.Items {
		if strings.HasSuffix(it.Type, suffix) {
			out = append(out, resolve(part, it.Target))
		}
	}
	return out, nil
}

func (d deck) decode(name string, v any) error {
	f, ok := d.files[name]
	if !ok {
		return fmt.Errorf("part %s missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// relsPart gives the relationships part for part, e.g.
// ppt/slides/slide1.xml -> ppt/slides/_rels/slide1.xml.rels.
func relsPart(part string) string {
	return path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
}

func resolve(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(path.Dir(source), target)
}
