package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"foodcore/internal/compiler", true},
		{"example.com/mod/internal/deep/path", true},
		{"foodcore/pkg/ontology", false},
		{"internal", false},
		{"example.com/internal", false},
		{"notinternals", false},
		{"", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestThirdPartyImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"github.com/spf13/cobra", true},
		{"gopkg.in/yaml.v3", true},
		{"modernc.org/sqlite", true},
		{"foodcore/pkg/ontology", false},
		{"encoding/json", false},
		{"fmt", false},
	}
	for _, c := range cases {
		if got := ThirdPartyImportForbidden(c.in); got != c.want {
			t.Fatalf("ThirdPartyImportForbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSurfaceForbiddenPredicate(t *testing.T) {
	forbidden := SurfaceForbidden("foodcore", "foodcore/pkg/ontology", "foodcore/pkg/sourceapi")
	cases := []struct {
		in   string
		want bool
	}{
		{"foodcore/pkg/ontology", false},
		{"foodcore/pkg/sourceapi", false},
		{"foodcore/internal/compiler", true},
		{"foodcore/pkg/nutrient", true},
		{"foodcore", true},
		{"github.com/google/uuid", false},
		{"strings", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("forbidden(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImportsSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("clean.go", "package tmp\n\nimport (\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc X() { fmt.Println(os.Args) }\n")
	write("clean_test.go", "package tmp\n\nimport \"forbidden/pkg\"\n\nvar _ = forbidden.X\n")
	write("notes.txt", "not go source")

	AssertNoDirectImports(t, dir, func(path string) bool {
		return path == "forbidden/pkg"
	}, "test files and non-go files are exempt")
}

func TestAssertNoDirectImportsReportsViolation(t *testing.T) {
	dir := t.TempDir()
	src := "package tmp\n\nimport (\n\t\"fmt\"\n\talias \"forbidden/pkg\"\n)\n\nvar _ = fmt.Sprint(alias.X)\n"
	if err := os.WriteFile(filepath.Join(dir, "dirty.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := &recordingLogger{}
	viols, err := directImportViolations(dir, func(path string) bool {
		return path == "forbidden/pkg"
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	failIfViolations(rec, "direct import", "no forbidden packages", viols)
	if len(rec.messages) != 1 || !strings.Contains(rec.messages[0], "forbidden/pkg (in dirty.go)") {
		t.Fatalf("failure not recorded: %v", rec.messages)
	}
}

func TestAssertNoTransitiveDependency(t *testing.T) {
	old := goListDeps
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nstrings\nfoodcore/testutil\n"), nil
	}
	defer func() { goListDeps = old }()

	AssertNoTransitiveDependency(t, ".", func(path string) bool {
		return path == "github.com/not/a/dependency"
	}, "stubbed dependency listing")

	rec := &recordingLogger{}
	out, err := goListDeps(".")
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line == "foodcore/testutil" {
			viols = append(viols, line)
		}
	}
	failIfViolations(rec, "transitive dependency", "self import forbidden for the test", viols)
	if len(rec.messages) != 1 {
		t.Fatalf("expected one recorded failure, got %v", rec.messages)
	}
}

type recordingLogger struct {
	messages []string
}

func (r *recordingLogger) Fatalf(format string, args ...any) {
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}
