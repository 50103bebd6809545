package util

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

// colorCode maps a color name to its ANSI code; unknown names print uncolored.
func colorCode(name string) string {
	switch name {
	case "ColorRed":
		return ColorRed
	case "ColorGreen":
		return ColorGreen
	case "ColorYellow":
		return ColorYellow
	case "ColorBlue":
		return ColorBlue
	case "ColorCyan":
		return ColorCyan
	default:
		return ColorReset
	}
}

// PrintBanner writes text as ASCII art in one color, followed by a plain subtitle line.
func PrintBanner(w io.Writer, text, color, subtitle string) {
	fig := figure.NewFigure(text, "", true)

	ansiColor := colorCode(color)
	for _, line := range fig.Slicify() {
		fmt.Fprintln(w, ansiColor+line+ColorReset)
	}
	if subtitle != "" {
		fmt.Fprintln(w, subtitle)
	}
}
