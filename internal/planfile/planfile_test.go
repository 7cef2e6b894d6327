package planfile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/domain"
)

const planDoc = `
formats:
  - puid: fmt/353
    mimetypes: [image/tiff]
    extension: tif
  - puid: fmt/43
    mimetypes: [image/jpeg]
    extension: .jpg
plans:
  - id: tiff-to-jpeg
    transformations:
      - service: {id: convert-1, name: ImageMagick}
        descriptor:
          location: imagemagick.wadl
          resource: convert
          method: convertImage
        names:
          convert.target: targetFormat
          convert.quality: quality
          convert.strip: strip
          convert.input: [image]
          convert.location: location
          convert.output: converted
        parameters:
          - {name: targetFormat, type: "xsd:string", value: jpeg}
          - {name: quality, type: "xsd:int", value: "90"}
          - {name: strip, type: "xsd:boolean", value: "true"}
          - {name: image, type: "sem:File"}
        outcomes:
          - {name: converted, type: "sem:File"}
          - {name: location, type: "sem:ClientLocation"}
        cardinality: one_to_one
        input_format: fmt/353
        output_format: fmt/43
    delivery:
      service: {id: deliver-1, name: Repository}
      descriptor:
        location: DELIVERY_LOCATION
        format: openapi
        resource: "/collections/{collection}/items"
        method: deliverItems
      names:
        deliverItems.collection: collection
        deliverItems.notify: notify
        deliverItems.X-Client: client
        deliverItems.files: items
        deliverItems.label: label
        deliverItems.response: location
      parameters:
        - {name: collection, type: "xsd:string", value: archive}
        - {name: notify, type: "xsd:boolean"}
        - {name: client, type: "xsd:string", value: migrator}
        - {name: items, type: "sem:FileBundle", bundle_type: "sem:File"}
        - {name: label, type: "xsd:string"}
      outcomes:
        - {name: location, type: "sem:ClientLocation"}
`

type countingLoader struct {
	inner DescriptorLoader

	mu    sync.Mutex
	calls map[descriptor.Source]int
}

func (l *countingLoader) Load(ctx context.Context, src descriptor.Source) (descriptor.Application, error) {
	l.mu.Lock()
	if l.calls == nil {
		l.calls = make(map[descriptor.Source]int)
	}
	l.calls[src]++
	l.mu.Unlock()
	return l.inner.Load(ctx, src)
}

func copyFixture(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "descriptor", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func writePlan(t *testing.T, dir, deliveryLocation string) string {
	t.Helper()
	path := filepath.Join(dir, "plans.yaml")
	doc := strings.ReplaceAll(planDoc, "DELIVERY_LOCATION", deliveryLocation)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestCatalogResolvesPlan(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "imagemagick.wadl")
	copyFixture(t, dir, "delivery.openapi.yaml")
	loader := &countingLoader{inner: descriptor.NewLoader(nil)}

	catalog, err := Load(writePlan(t, dir, "delivery.openapi.yaml"), loader, nil)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if diff := cmp.Diff([]string{"tiff-to-jpeg"}, catalog.PlanIDs()); diff != "" {
		t.Fatalf("PlanIDs() mismatch (-want +got):\n%s", diff)
	}
	if ext := catalog.Formats().Extension("fmt/43"); ext != "jpg" {
		t.Fatalf("Extension(fmt/43)=%q", ext)
	}

	path, err := catalog.Path(context.Background(), "tiff-to-jpeg")
	if err != nil {
		t.Fatalf("Path() err=%v", err)
	}
	if path.ID != "tiff-to-jpeg" || len(path.Transformations) != 1 {
		t.Fatalf("unexpected path: %+v", path)
	}
	step := path.Transformations[0]
	if step.Service != (domain.ServiceRef{ID: "convert-1", Name: "ImageMagick"}) {
		t.Fatalf("Service=%+v", step.Service)
	}
	if step.Cardinality != domain.OneToOne || step.InputFormat != "fmt/353" || step.OutputFormat != "fmt/43" {
		t.Fatalf("unexpected step: %+v", step)
	}
	if step.Info.Encoding() != binding.EncodingOctetStream {
		t.Fatalf("Encoding()=%q", step.Info.Encoding())
	}
	if path.Delivery.Service.ID != "deliver-1" {
		t.Fatalf("Delivery.Service=%+v", path.Delivery.Service)
	}
	if file, ok := path.Delivery.Info.FileParameter(); !ok || !file.IsBundle() {
		t.Fatalf("delivery file parameter=%+v,%v", file, ok)
	}

	if _, err := catalog.Path(context.Background(), "tiff-to-jpeg"); err != nil {
		t.Fatalf("second Path() err=%v", err)
	}
	if len(loader.calls) != 2 {
		t.Fatalf("loaded %d documents, want 2", len(loader.calls))
	}
	for src, n := range loader.calls {
		if n != 1 {
			t.Fatalf("%s loaded %d times", src.Location, n)
		}
		if !filepath.IsAbs(src.Location) || filepath.Dir(src.Location) != dir {
			t.Fatalf("location %q not resolved against %q", src.Location, dir)
		}
	}
}

func TestCatalogLoadsDescriptorOverHTTP(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "descriptor", "testdata", "delivery.openapi.yaml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dir := t.TempDir()
	copyFixture(t, dir, "imagemagick.wadl")
	catalog, err := Load(writePlan(t, dir, srv.URL+"/openapi.yaml"), descriptor.NewLoader(srv.Client()), nil)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	path, err := catalog.Path(context.Background(), "tiff-to-jpeg")
	if err != nil {
		t.Fatalf("Path() err=%v", err)
	}
	if got, want := path.Delivery.Info.Address(), "https://deliver.example.org/v1/collections/{collection}/items"; got != want {
		t.Fatalf("Address()=%q, want %q", got, want)
	}
}

func TestCatalogPathErrors(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "imagemagick.wadl")

	catalog, err := Load(writePlan(t, dir, "missing.openapi.yaml"), descriptor.NewLoader(nil), nil)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if _, err := catalog.Path(context.Background(), "nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("Path(nope) err=%v, want ErrPlanNotFound", err)
	}
	_, err = catalog.Path(context.Background(), "tiff-to-jpeg")
	if err == nil || !strings.Contains(err.Error(), "deliver-1") {
		t.Fatalf("Path() err=%v, want a load failure naming the delivery service", err)
	}

	// Failures are not cached.
	copyFixture(t, dir, "delivery.openapi.yaml")
	if err := os.Rename(filepath.Join(dir, "delivery.openapi.yaml"), filepath.Join(dir, "missing.openapi.yaml")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := catalog.Path(context.Background(), "tiff-to-jpeg"); err != nil {
		t.Fatalf("Path() after fix err=%v", err)
	}
}

func TestCatalogInconsistentService(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "imagemagick.wadl")
	copyFixture(t, dir, "delivery.openapi.yaml")
	doc := strings.ReplaceAll(planDoc, "DELIVERY_LOCATION", "delivery.openapi.yaml")
	doc = strings.Replace(doc, "convert.output: converted", "convert.output: [converted, other]", 1)
	path := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	catalog, err := Load(path, descriptor.NewLoader(nil), nil)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	_, err = catalog.Path(context.Background(), "tiff-to-jpeg")
	if !errors.Is(err, binding.ErrInconsistentDescription) {
		t.Fatalf("Path() err=%v, want ErrInconsistentDescription", err)
	}
}

func TestDecodeValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{name: "no plans", doc: "formats: []\n"},
		{name: "missing id", doc: "plans:\n  - delivery: {service: {id: d}}\n"},
		{
			name: "duplicate id",
			doc: `plans:
  - id: a
    delivery: {service: {id: d}, descriptor: {location: x, resource: r, method: m}}
  - id: a
    delivery: {service: {id: d}, descriptor: {location: x, resource: r, method: m}}
`,
		},
		{
			name: "delivery without descriptor",
			doc:  "plans:\n  - id: a\n    delivery: {service: {id: d}}\n",
		},
		{
			name: "bad cardinality",
			doc: `plans:
  - id: a
    transformations:
      - service: {id: t}
        descriptor: {location: x, resource: r, method: m}
        cardinality: SOME_TO_SOME
        input_format: fmt/1
        output_format: fmt/2
    delivery: {service: {id: d}, descriptor: {location: x, resource: r, method: m}}
`,
		},
		{
			name: "missing output format",
			doc: `plans:
  - id: a
    transformations:
      - service: {id: t}
        descriptor: {location: x, resource: r, method: m}
        cardinality: ONE_TO_ONE
        input_format: fmt/1
    delivery: {service: {id: d}, descriptor: {location: x, resource: r, method: m}}
`,
		},
		{name: "names not a string", doc: "plans:\n  - id: a\n    delivery:\n      names: {x: {y: z}}\n"},
		{name: "not yaml", doc: "plans: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.doc)); !errors.Is(err, ErrInvalidPlanFile) {
				t.Fatalf("Decode() err=%v, want ErrInvalidPlanFile", err)
			}
		})
	}
}

func TestNameListAcceptsScalarAndSequence(t *testing.T) {
	f, err := Decode([]byte(`plans:
  - id: a
    delivery:
      service: {id: d}
      descriptor: {location: x, resource: r, method: m}
      names:
        one: single
        two: [first, second]
`))
	if err != nil {
		t.Fatalf("Decode() err=%v", err)
	}
	want := binding.NameMapping{"one": {"single"}, "two": {"first", "second"}}
	if diff := cmp.Diff(want, f.Plans[0].Delivery.mapping()); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
}
