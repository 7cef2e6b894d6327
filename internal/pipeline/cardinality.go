package pipeline

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/execution/archive"
	"github.com/animus-labs/animus-migrate/internal/execution/plan"
	"github.com/animus-labs/animus-migrate/internal/ledger"
)

// handler applies one transformation to the files matching its input format.
type handler interface {
	apply(ctx context.Context, c *stepCall, group []*domain.DataFileInfo) error
}

var handlers = map[domain.Cardinality]handler{
	domain.OneToOne:  oneToOne{},
	domain.OneToMany: oneToMany{},
	domain.ManyToOne: manyToOne{},
}

type stepCall struct {
	o     *Orchestrator
	st    *state
	step  TransformationStep
	index int
}

func (c *stepCall) outputs(ctx context.Context, exec plan.ExecutionInfo) ([]archive.Entry, error) {
	r := remote{o: c.o, st: c.st, service: c.step.Service, kind: ledger.KindTransformation, index: c.index}
	return r.files(ctx, c.step.Info, exec, c.step.OutputFormat)
}

// outputPath keeps the input's directory and base name and switches the
// extension to the output format's.
func (c *stepCall) outputPath(in *domain.DataFileInfo) string {
	name := stem(in.Base())
	if c.o.formats != nil {
		if ext := c.o.formats.Extension(c.step.OutputFormat); ext != "" {
			name += "." + ext
		}
	}
	return path.Join(path.Dir(in.Path), name)
}

func (c *stepCall) output(p, local string) *domain.DataFileInfo {
	return &domain.DataFileInfo{Path: p, Format: c.step.OutputFormat, LocalPath: local}
}

func stem(base string) string {
	if s := strings.TrimSuffix(base, path.Ext(base)); s != "" {
		return s
	}
	return base
}

// oneToOne calls the service once per input; every output takes over its
// input's sequence.
type oneToOne struct{}

func (oneToOne) apply(ctx context.Context, c *stepCall, group []*domain.DataFileInfo) error {
	for _, in := range group {
		exec, err := c.st.builder.OneFile(c.step.Info, in)
		if err != nil {
			return err
		}
		outs, err := c.outputs(ctx, exec)
		if err != nil {
			return err
		}
		if len(outs) != 1 {
			return fmt.Errorf("%w: got %d for %s, want 1", ErrOutputCount, len(outs), in.Path)
		}
		out := c.output(c.outputPath(in), outs[0].Path)
		if s, ok := in.Seq(); ok {
			out.SetSeq(s)
		}
		c.st.replace([]*domain.DataFileInfo{in}, out)
	}
	return nil
}

// oneToMany calls the service once per input and unpacks the returned
// archive. Outputs keep their archive paths below a directory named after
// the input and get consecutive sequences starting at the input's; every
// file after the input moves back to make room.
type oneToMany struct{}

func (oneToMany) apply(ctx context.Context, c *stepCall, group []*domain.DataFileInfo) error {
	for _, in := range group {
		exec, err := c.st.builder.OneFile(c.step.Info, in)
		if err != nil {
			return err
		}
		outs, err := c.outputs(ctx, exec)
		if err != nil {
			return err
		}

		dir := path.Join(path.Dir(in.Path), stem(in.Base()))
		first, hasSeq := in.Seq()
		produced := make([]*domain.DataFileInfo, 0, len(outs))
		for i, entry := range outs {
			name := entry.Name
			if name == "" {
				name = filepath.Base(entry.Path)
			}
			out := c.output(path.Join(dir, name), entry.Path)
			if hasSeq {
				out.SetSeq(first + i)
			}
			produced = append(produced, out)
		}
		if hasSeq && len(outs) > 1 {
			shift := len(outs) - 1
			for _, f := range c.st.after(in) {
				f.ShiftSeq(shift)
			}
		}
		c.st.replace([]*domain.DataFileInfo{in}, produced...)
	}
	return nil
}

// manyToOne calls the service once for the whole group. The output takes
// the first input's sequence; the other files are compacted so their
// relative order is kept, also when the group is not contiguous.
type manyToOne struct{}

func (manyToOne) apply(ctx context.Context, c *stepCall, group []*domain.DataFileInfo) error {
	exec, err := c.st.builder.ManyFiles(c.step.Info, group)
	if err != nil {
		return err
	}
	outs, err := c.outputs(ctx, exec)
	if err != nil {
		return err
	}
	if len(outs) != 1 {
		return fmt.Errorf("%w: got %d for %d inputs, want 1", ErrOutputCount, len(outs), len(group))
	}

	first := group[0]
	out := c.output(c.outputPath(first), outs[0].Path)
	if s, ok := first.Seq(); ok {
		out.SetSeq(s)
	}

	members := make(map[*domain.DataFileInfo]bool, len(group))
	for _, f := range group {
		members[f] = true
	}
	removed := 0
	for _, f := range c.st.files {
		if members[f] {
			if f != first {
				removed++
			}
			continue
		}
		if removed > 0 {
			f.ShiftSeq(-removed)
		}
	}
	c.st.replace(group, out)
	return nil
}

// after returns the files ordered after f.
func (s *state) after(f *domain.DataFileInfo) []*domain.DataFileInfo {
	for i, cur := range s.files {
		if cur == f {
			return s.files[i+1:]
		}
	}
	return nil
}

// replace swaps old for produced and restores the file order.
func (s *state) replace(old []*domain.DataFileInfo, produced ...*domain.DataFileInfo) {
	drop := make(map[*domain.DataFileInfo]bool, len(old))
	for _, f := range old {
		drop[f] = true
	}
	kept := s.files[:0]
	for _, f := range s.files {
		if !drop[f] {
			kept = append(kept, f)
		}
	}
	s.files = append(kept, produced...)
	domain.SortFiles(s.files)
}
