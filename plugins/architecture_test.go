package plugins

import (
	"os"
	"testing"

	"foodcore/testutil"
)

// TestAdaptersBuildAgainstPublishedSurfaces walks every adapter subpackage
// and rejects imports beyond pkg/ontology and pkg/sourceapi. Test files are
// exempt; see the package comment.
func TestAdaptersBuildAgainstPublishedSurfaces(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("read plugins dir: %v", err)
	}
	forbidden := testutil.SurfaceForbidden("foodcore",
		"foodcore/pkg/ontology",
		"foodcore/pkg/sourceapi",
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		testutil.AssertNoDirectImports(t, e.Name(), forbidden,
			"adapters depend only on the published ontology and sourceapi packages")
	}
}
