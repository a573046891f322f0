package tasklayout

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/spf13/afero"
)

func writeTask(t *testing.T, fs afero.Fs, root string, stage domain.TaskStage, dir, manifest, spec string) {
	t.Helper()
	base := filepath.Join(root, string(stage), dir)
	if err := fs.MkdirAll(base, 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, filepath.Join(base, ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if spec != "" {
		if err := afero.WriteFile(fs, filepath.Join(base, SpecFile), []byte(spec), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestLayout(t *testing.T) (*Layout, afero.Fs) {
	t.Helper()
	fs := afero.NewOsFs()
	root := t.TempDir()

	writeTask(t, fs, root, domain.StageActive, "t1-billing",
		`{"id":"T1","name":"Billing","locks":{"writes":["billing"]},"files":{}}`,
		"---\ntitle: Add invoices\ndepends_on: [T0]\n---\n# Heading\nbody\n")
	writeTask(t, fs, root, domain.StageActive, "t2",
		`{"id":"T2","name":"","locks":{},"files":{}}`,
		"# From heading\n")
	writeTask(t, fs, root, domain.StageLegacy, "t0",
		`{"id":"T0","name":"Old","locks":{},"files":{}}`, "")

	return New(fs, root), fs
}

func TestLayout_Load(t *testing.T) {
	l, _ := newTestLayout(t)

	spec, err := l.Load("T1")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Stage != domain.StageActive || spec.DirName != "t1-billing" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.Title != "Add invoices" {
		t.Errorf("Title = %q, want frontmatter title", spec.Title)
	}
	if len(spec.Manifest.DependsOn) != 1 || spec.Manifest.DependsOn[0] != "T0" {
		t.Errorf("DependsOn = %v", spec.Manifest.DependsOn)
	}

	spec2, err := l.Load("T2")
	if err != nil {
		t.Fatal(err)
	}
	if spec2.Title != "From heading" {
		t.Errorf("Title = %q, want heading", spec2.Title)
	}

	legacy, err := l.Load("T0")
	if err != nil {
		t.Fatal(err)
	}
	if legacy.Stage != domain.StageLegacy {
		t.Errorf("Stage = %s, want legacy", legacy.Stage)
	}

	if _, err := l.Load("T9"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestLayout_ListByStage(t *testing.T) {
	l, _ := newTestLayout(t)

	active, err := l.List(domain.StageActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("active = %d, want 2", len(active))
	}
	all, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestLayout_WriteManifest(t *testing.T) {
	l, _ := newTestLayout(t)
	spec, err := l.Load("T1")
	if err != nil {
		t.Fatal(err)
	}

	m := spec.Manifest
	m.Locks.Writes = append(m.Locks.Writes, "core")
	m.Rescopes = 1
	if err := l.WriteManifest(spec, m); err != nil {
		t.Fatal(err)
	}

	reloaded, err := l.Load("T1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Manifest.Locks.Writes) != 2 || reloaded.Manifest.Rescopes != 1 {
		t.Errorf("reloaded manifest = %+v", reloaded.Manifest)
	}
}

func TestLayout_Archive(t *testing.T) {
	l, fs := newTestLayout(t)
	spec, err := l.Load("T1")
	if err != nil {
		t.Fatal(err)
	}
	oldDir := spec.Dir

	if err := l.Archive(spec); err != nil {
		t.Fatal(err)
	}
	if spec.Stage != domain.StageArchive {
		t.Errorf("Stage = %s, want archive", spec.Stage)
	}
	if exists, _ := afero.DirExists(fs, oldDir); exists {
		t.Error("active directory still exists")
	}
	if exists, _ := afero.Exists(fs, filepath.Join(spec.Dir, ManifestFile)); !exists {
		t.Error("manifest missing from archive")
	}

	// archiving again is a no-op
	if err := l.Archive(spec); err != nil {
		t.Errorf("second Archive() = %v", err)
	}

	legacy, _ := l.Load("T0")
	if err := l.Archive(legacy); err == nil {
		t.Error("archiving a legacy task must fail")
	}
}

func TestLayout_Files(t *testing.T) {
	l, _ := newTestLayout(t)
	spec, _ := l.Load("T1")

	files, err := l.Files(spec)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != ManifestFile || files[1] != SpecFile {
		t.Errorf("files = %v", files)
	}
}

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantTitle string
		wantBody  string
	}{
		{"with frontmatter", "---\ntitle: X\n---\nbody\n", "X", "body\n"},
		{"crlf", "---\r\ntitle: Y\r\n---\r\nbody\r\n", "Y", "body\n"},
		{"none", "# Just markdown\n", "", "# Just markdown\n"},
		{"unterminated", "---\ntitle: Z\n", "", "---\ntitle: Z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := ParseFrontmatter([]byte(tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if fm.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", fm.Title, tt.wantTitle)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}

	if _, _, err := ParseFrontmatter([]byte("---\ntitle: [unclosed\n---\n")); err == nil {
		t.Error("expected YAML error")
	}
}
