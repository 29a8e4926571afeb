// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"strings"

	"github.com/google/uuid"
	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
	"github.com/caotto/openbr/types/xslices"
)

// File identifies the sample a template was built from: a name, a free-form
// metadata map, and a UUID assigned at creation so anonymous in-memory
// templates stay distinct when grouped by Key.
type File struct {
	Name     string
	ID       uuid.UUID
	Metadata map[string]string
}

// NewFile returns a File with a fresh UUID and an empty metadata map.
func NewFile(name string) File {
	return File{Name: name, ID: uuid.New(), Metadata: make(map[string]string)}
}

// Key returns the grouping key for the file: the name when present,
// otherwise the UUID.
func (f File) Key() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID.String()
}

// Set inserts or overwrites a metadata value.
func (f *File) Set(key, value string) {
	if f.Metadata == nil {
		f.Metadata = make(map[string]string)
	}
	f.Metadata[key] = value
}

// Get returns the metadata value for key, or fallback when absent.
func (f File) Get(key, fallback string) string {
	if v, ok := f.Metadata[key]; ok {
		return v
	}
	return fallback
}

// Merge folds another file into f: a missing name is taken from other, a
// differing one is appended with the ";" separator, and metadata keys not
// already present are copied over. f keeps its UUID.
func (f *File) Merge(other File) {
	switch {
	case f.Name == "":
		f.Name = other.Name
	case other.Name != "" && other.Name != f.Name:
		f.Name += ";" + other.Name
	}
	for k, v := range other.Metadata {
		if _, ok := f.Metadata[k]; !ok {
			f.Set(k, v)
		}
	}
}

// String renders the file as "name[key=value,...]" with keys sorted.
func (f File) String() string {
	if len(f.Metadata) == 0 {
		return f.Name
	}
	var sb strings.Builder
	sb.WriteString(f.Name)
	sb.WriteByte('[')
	for ii, k := range xslices.SortedKeys(f.Metadata) {
		if ii > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(f.Metadata[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

// Template is an ordered list of matrices flowing through a transform
// pipeline, together with the File they came from. Most templates hold
// exactly one matrix; region transforms produce several.
type Template struct {
	File File
	Mats []matrix.Matrix
}

// NewTemplate builds a template over the given matrices.
func NewTemplate(file File, mats ...matrix.Matrix) Template {
	return Template{File: file, Mats: mats}
}

// Append adds matrices to the end of the template.
func (t *Template) Append(mats ...matrix.Matrix) {
	t.Mats = append(t.Mats, mats...)
}

// Merge appends the matrices of another template and folds its file into
// t's. Matrix headers are copied; the data buffers are shared.
func (t *Template) Merge(other Template) {
	t.Mats = append(t.Mats, other.Mats...)
	t.File.Merge(other.File)
}

// Last returns the template's final matrix, the one most transforms treat
// as "the" matrix. It panics on an empty template.
func (t Template) Last() matrix.Matrix {
	if len(t.Mats) == 0 {
		exceptions.Panicf("transforms: Last on an empty template %q", t.File.Key())
	}
	return xslices.Last(t.Mats)
}

// Len returns the number of matrices in the template.
func (t Template) Len() int { return len(t.Mats) }

// Bytes returns the total payload across all matrices.
func (t Template) Bytes() int {
	total := 0
	for _, m := range t.Mats {
		total += m.Bytes()
	}
	return total
}
