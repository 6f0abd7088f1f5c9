// Package interdoc provides a read-only view over a parsed document
// artefact: paragraphs, tables, syllabus tree, and repeating page headers.
// Evaluators locate contract content through it and never mutate it.
package interdoc

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Box is an outline rectangle [left, top, right, bottom] in page coordinates.
type Box [4]float64

func (b Box) Left() float64   { return b[0] }
func (b Box) Top() float64    { return b[1] }
func (b Box) Right() float64  { return b[2] }
func (b Box) Bottom() float64 { return b[3] }

// Union expands b to cover other.
func (b Box) Union(other Box) Box {
	out := b
	if other[0] < out[0] {
		out[0] = other[0]
	}
	if other[1] < out[1] {
		out[1] = other[1]
	}
	if other[2] > out[2] {
		out[2] = other[2]
	}
	if other[3] > out[3] {
		out[3] = other[3]
	}
	return out
}

type Char struct {
	Text string `json:"text"`
	Box  Box    `json:"box"`
	Page int    `json:"page"`
}

// Element kinds as emitted by the parser.
const (
	ElementParagraph  = "PARAGRAPH"
	ElementTable      = "TABLE"
	ElementPageHeader = "PAGE_HEADER"
	ElementPageFooter = "PAGE_FOOTER"
)

type Cell struct {
	Row  int    `json:"row"`
	Col  int    `json:"col"`
	Text string `json:"text"`
}

type Element struct {
	Index     int    `json:"index"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Page      int    `json:"page"`
	Outline   Box    `json:"outline"`
	Continued bool   `json:"continued"`
	Syllabus  int    `json:"syllabus"`
	Fragment  bool   `json:"fragment,omitempty"`
	Chars     []Char `json:"chars,omitempty"`
	Cells     []Cell `json:"cells,omitempty"`
}

// Syllabus is one node of the document outline tree. Range covers the
// element indexes under the heading, heading element included.
type Syllabus struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Level    int    `json:"level"`
	Range    [2]int `json:"range"`
	Parent   int    `json:"parent"`
	Children []int  `json:"children,omitempty"`
}

// Document is the decoded artefact payload.
type Document struct {
	Paragraphs  []Element  `json:"paragraphs"`
	Syllabuses  []Syllabus `json:"syllabuses"`
	PageHeaders []Element  `json:"page_headers"`
}

// OpenArchive reads the first entry of a parsed-document zip archive and
// decodes it into a Document.
func OpenArchive(path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open interdoc archive: %w", err)
	}
	defer zr.Close()
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("interdoc archive %s is empty", path)
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open interdoc entry: %w", err)
	}
	defer f.Close()
	return DecodeDocument(f)
}

// OpenJSON reads a bare JSON artefact, the format used by fixtures and by
// parsers that skip the zip wrapper.
func OpenJSON(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open interdoc json: %w", err)
	}
	defer f.Close()
	return DecodeDocument(f)
}

func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode interdoc: %w", err)
	}
	return &doc, nil
}
