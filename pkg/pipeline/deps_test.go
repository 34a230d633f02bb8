package pipeline

import (
	"go/build"
	"strings"
	"testing"
)

// The pipeline and the detection types it uses must build without OpenCV.
func TestPackagesAvoidOpenCV(t *testing.T) {
	for _, dir := range []string{".", "../detection"} {
		pkg, err := build.ImportDir(dir, 0)
		if err != nil {
			t.Fatalf("import %s: %v", dir, err)
		}
		if len(pkg.CgoFiles) > 0 {
			t.Errorf("%s has cgo files %v", dir, pkg.CgoFiles)
		}
		for _, imp := range append(pkg.Imports, pkg.TestImports...) {
			if strings.HasPrefix(imp, "gocv.io/") {
				t.Errorf("%s imports %s", dir, imp)
			}
		}
	}
}
