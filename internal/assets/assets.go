// Package assets holds files baked into the binary.
package assets

import (
	_ "embed"
	"strings"
)

//go:embed banner.txt
var banner string

// Banner returns the startup art with the version underneath.
func Banner(version string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(banner, "\n"))
	b.WriteString("\n  ")
	b.WriteString(version)
	b.WriteString("\n")
	return b.String()
}
