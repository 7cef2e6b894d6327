// Package domain holds the file and service values shared by the plan
// builders and the pipeline.
package domain

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// DataFileInfo is one file of a digital object inside a run.
type DataFileInfo struct {
	// Path is object relative and slash separated.
	Path   string `json:"path"`
	Format string `json:"format"`
	// Sequence is the position of the file in the object, nil when unordered.
	Sequence *int `json:"sequence,omitempty"`
	// LocalPath is where the content lives in the working directory.
	LocalPath string `json:"-"`
}

func (f *DataFileInfo) Base() string {
	return path.Base(f.Path)
}

// Seq returns the sequence and whether one is set.
func (f *DataFileInfo) Seq() (int, bool) {
	if f.Sequence == nil {
		return 0, false
	}
	return *f.Sequence, true
}

func (f *DataFileInfo) SetSeq(v int) {
	f.Sequence = &v
}

// ShiftSeq moves a set sequence by delta; unordered files stay unordered.
func (f *DataFileInfo) ShiftSeq(delta int) {
	if f.Sequence != nil {
		f.SetSeq(*f.Sequence + delta)
	}
}

// Clone copies f, including its sequence.
func (f *DataFileInfo) Clone() *DataFileInfo {
	out := *f
	if f.Sequence != nil {
		out.SetSeq(*f.Sequence)
	}
	return &out
}

// Less orders by sequence then path. Unordered files sort last.
func Less(a, b *DataFileInfo) bool {
	as, aok := a.Seq()
	bs, bok := b.Seq()
	switch {
	case aok && bok && as != bs:
		return as < bs
	case aok != bok:
		return aok
	}
	return a.Path < b.Path
}

// SortFiles sorts files in place by sequence then path.
func SortFiles(files []*DataFileInfo) {
	sort.SliceStable(files, func(i, j int) bool { return Less(files[i], files[j]) })
}

// Cardinality declares how many files a transformation consumes and produces.
type Cardinality string

const (
	OneToOne  Cardinality = "ONE_TO_ONE"
	OneToMany Cardinality = "ONE_TO_MANY"
	ManyToOne Cardinality = "MANY_TO_ONE"
)

func ParseCardinality(s string) (Cardinality, error) {
	c := Cardinality(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case OneToOne, OneToMany, ManyToOne:
		return c, nil
	default:
		return "", fmt.Errorf("unknown cardinality %q", s)
	}
}

// ServiceRef identifies a registered remote service.
type ServiceRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

func (s ServiceRef) String() string {
	if s.Name == "" {
		return s.ID
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}
