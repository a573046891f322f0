package manifest

import (
	"reflect"
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/spf13/afero"
)

const model = `
components:
  - name: core
    paths: ["pkg/core/**"]
  - name: billing
    paths: ["services/billing/**"]
    depends_on: [core]
surfaces:
  api: ["**/*.proto"]
`

func mustModel(t *testing.T) *controlplane.Model {
	t.Helper()
	m, err := controlplane.ParseModel([]byte(model))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuildChangeManifest(t *testing.T) {
	changed := []string{"pkg/core/a.go", "pkg/core/api.proto", "tools/x.sh"}

	cm := BuildChangeManifest("run-1", "T1", "base", "task/T1", changed, mustModel(t))
	if !reflect.DeepEqual(cm.TouchedComponents, []string{"core"}) {
		t.Errorf("TouchedComponents = %v", cm.TouchedComponents)
	}
	if !reflect.DeepEqual(cm.ImpactedComponents, []string{"billing", "core"}) {
		t.Errorf("ImpactedComponents = %v", cm.ImpactedComponents)
	}
	if !reflect.DeepEqual(cm.UnmappedFiles, []string{"tools/x.sh"}) {
		t.Errorf("UnmappedFiles = %v", cm.UnmappedFiles)
	}
	if !reflect.DeepEqual(cm.SurfaceChanges, []string{"api"}) {
		t.Errorf("SurfaceChanges = %v", cm.SurfaceChanges)
	}

	plain := BuildChangeManifest("run-1", "T1", "base", "", changed, nil)
	if len(plain.ChangedFiles) != 3 || plain.TouchedComponents != nil {
		t.Errorf("manifest without model = %+v", plain)
	}
}

func TestBuildBlastRadius(t *testing.T) {
	br := BuildBlastRadius("run-1", "T1", []string{"pkg/core/a.go"}, mustModel(t))

	want := []ImpactedComponent{{Name: "billing", Direct: false}, {Name: "core", Direct: true}}
	if !reflect.DeepEqual(br.Components, want) {
		t.Errorf("Components = %+v, want %+v", br.Components, want)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs, "/state")

	cm := BuildChangeManifest("run-1", "T1", "base", "task/T1", []string{"a.go"}, nil)
	path, err := w.WriteChangeManifest("/repos/billing", cm)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, "/state/billing-") || !strings.HasSuffix(path, "/runs/run-1/tasks/T1/change-manifest.json") {
		t.Errorf("path = %q", path)
	}
	if exists, _ := afero.Exists(fs, path+".tmp"); exists {
		t.Error("temp file left behind")
	}

	got, err := w.ReadChangeManifest("/repos/billing", "run-1", "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BaseSHA != "base" || !reflect.DeepEqual(got.ChangedFiles, []string{"a.go"}) {
		t.Errorf("read back %+v", got)
	}

	brPath, err := w.WriteBlastRadius("/repos/billing", BuildBlastRadius("run-1", "T1", nil, mustModel(t)))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(brPath, "blast-radius.json") {
		t.Errorf("blast radius path = %q", brPath)
	}
}

func TestRepoSlug(t *testing.T) {
	a := RepoSlug("/repos/my repo")
	if !strings.HasPrefix(a, "my-repo-") {
		t.Errorf("RepoSlug = %q", a)
	}
	if a != RepoSlug("/repos/my repo") {
		t.Error("RepoSlug must be stable")
	}
	if a == RepoSlug("/other/my repo") {
		t.Error("different paths must give different slugs")
	}
}
