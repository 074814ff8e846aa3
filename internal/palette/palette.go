// Package palette assigns each participant a stable display color.
package palette

// Colors is the fixed participant palette.
var Colors = [16]string{
	"#EF4444", "#F97316", "#F59E0B", "#EAB308",
	"#84CC16", "#22C55E", "#10B981", "#14B8A6",
	"#06B6D4", "#0EA5E9", "#3B82F6", "#6366F1",
	"#8B5CF6", "#A855F7", "#D946EF", "#EC4899",
}

// ColorFor returns the palette entry for name: the sum of its code points
// modulo the palette size. Names with equal sums share a color.
func ColorFor(name string) string {
	var sum uint
	for _, r := range name {
		sum += uint(r)
	}
	return Colors[sum%uint(len(Colors))]
}
