package planfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/formats"
	"github.com/animus-labs/animus-migrate/internal/pipeline"
)

var ErrPlanNotFound = errors.New("plan not found")

// DescriptorLoader reads technical descriptor documents.
type DescriptorLoader interface {
	Load(ctx context.Context, src descriptor.Source) (descriptor.Application, error)
}

// Catalog resolves plans on first use and caches the result. It is safe for
// concurrent use.
type Catalog struct {
	file    *File
	baseDir string
	loader  DescriptorLoader
	formats *formats.Catalog
	logger  *slog.Logger

	mu        sync.Mutex
	paths     map[string]pipeline.Path
	documents map[descriptor.Source]descriptor.Application
}

func New(file *File, baseDir string, loader DescriptorLoader, logger *slog.Logger) (*Catalog, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: nil plan file", ErrInvalidPlanFile)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	registry, err := formats.NewCatalog(file.Formats)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		file:      file,
		baseDir:   baseDir,
		loader:    loader,
		formats:   registry,
		logger:    logger,
		paths:     make(map[string]pipeline.Path),
		documents: make(map[descriptor.Source]descriptor.Application),
	}, nil
}

// Load reads path and resolves descriptor files relative to its directory.
func Load(path string, loader DescriptorLoader, logger *slog.Logger) (*Catalog, error) {
	file, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(file, filepath.Dir(path), loader, logger)
}

func (c *Catalog) Formats() *formats.Catalog {
	return c.formats
}

func (c *Catalog) PlanIDs() []string {
	ids := make([]string, 0, len(c.file.Plans))
	for _, p := range c.file.Plans {
		ids = append(ids, strings.TrimSpace(p.ID))
	}
	sort.Strings(ids)
	return ids
}

// Path returns the resolved plan. Resolution failures are not cached.
func (c *Catalog) Path(ctx context.Context, planID string) (pipeline.Path, error) {
	planID = strings.TrimSpace(planID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.paths[planID]; ok {
		return p, nil
	}
	var plan *Plan
	for i := range c.file.Plans {
		if strings.TrimSpace(c.file.Plans[i].ID) == planID {
			plan = &c.file.Plans[i]
			break
		}
	}
	if plan == nil {
		return pipeline.Path{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	path := pipeline.Path{ID: planID}
	for _, t := range plan.Transformations {
		info, err := c.resolve(ctx, t.ServiceEntry)
		if err != nil {
			return pipeline.Path{}, err
		}
		cardinality, err := domain.ParseCardinality(t.Cardinality)
		if err != nil {
			return pipeline.Path{}, err
		}
		path.Transformations = append(path.Transformations, pipeline.TransformationStep{
			Service:      t.Service,
			Info:         info,
			Cardinality:  cardinality,
			InputFormat:  strings.TrimSpace(t.InputFormat),
			OutputFormat: strings.TrimSpace(t.OutputFormat),
		})
	}
	info, err := c.resolve(ctx, plan.Delivery)
	if err != nil {
		return pipeline.Path{}, err
	}
	path.Delivery = pipeline.DeliveryStep{Service: plan.Delivery.Service, Info: info}

	c.paths[planID] = path
	c.logger.Info("plan resolved", "plan_id", planID, "transformations", len(path.Transformations))
	return path, nil
}

// resolve binds one service. Documents are loaded once per source.
func (c *Catalog) resolve(ctx context.Context, e ServiceEntry) (binding.ServiceInfo, error) {
	src := descriptor.SourceFor(e.Descriptor.Location, descriptor.Format(strings.ToLower(strings.TrimSpace(e.Descriptor.Format))))
	if src.Kind == descriptor.SourceKindFile && !filepath.IsAbs(src.Location) {
		src.Location = filepath.Join(c.baseDir, src.Location)
	}

	app, ok := c.documents[src]
	if !ok {
		var err error
		app, err = c.loader.Load(ctx, src)
		if err != nil {
			return binding.ServiceInfo{}, fmt.Errorf("service %s: load descriptor: %w", e.Service, err)
		}
		c.documents[src] = app
	}

	info, err := binding.Resolve(binding.Description{
		Parameters: e.Parameters,
		Outcomes:   e.Outcomes,
		Technical:  app,
		ResourceID: strings.TrimSpace(e.Descriptor.Resource),
		MethodID:   strings.TrimSpace(e.Descriptor.Method),
		Names:      e.mapping(),
	})
	if err != nil {
		return binding.ServiceInfo{}, fmt.Errorf("service %s: %w", e.Service, err)
	}
	return info, nil
}
