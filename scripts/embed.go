// Package scripts embeds the built-in Risor report scripts.
package scripts

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed reports/*.risor
var FS embed.FS

// Reports lists the built-in report names, sorted.
func Reports() []string {
	entries, err := fs.ReadDir(FS, "reports")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".risor"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ReportPath returns the path of a built-in report within FS.
func ReportPath(name string) string {
	return path.Join("reports", name+".risor")
}
