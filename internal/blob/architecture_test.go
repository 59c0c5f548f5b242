package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyBlobImportsAWS keeps the cloud SDK behind the Store interface.
// Everything outside this package archives through blob.Store, so swapping
// or upgrading the SDK never touches the compiler or the commands.
func TestOnlyBlobImportsAWS(t *testing.T) {
	sdkPrefix := "github.com/aws/aws-sdk-go-v2"
	allowedPrefix := "foodcore/internal/blob"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "foodcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == sdkPrefix || strings.HasPrefix(importPath, sdkPrefix+"/") {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("aws sdk imported outside the blob store: %s", v)
		}
		t.Fatalf("found %d forbidden sdk imports", len(violations))
	}
}
