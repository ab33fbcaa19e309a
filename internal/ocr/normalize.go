package ocr

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^\s*[_\-=~]{3,}\s*$`)
	reHyphenWrap = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
)

// NormalizeOptions selects the optional cleanup passes.
type NormalizeOptions struct {
	DropRuleLines bool // remove lines made only of underscores, dashes and similar
	JoinHyphens   bool // join words split across lines with a trailing hyphen
}

// Normalize collapses noisy whitespace while keeping line breaks; more than
// one blank line is collapsed into one.
func Normalize(s string) string {
	return NormalizeWith(s, NormalizeOptions{})
}

// NormalizeWith is Normalize plus the passes enabled in opts.
func NormalizeWith(s string, opts NormalizeOptions) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "\f", "\n\n")
	if opts.DropRuleLines {
		s = reBoxNoise.ReplaceAllString(s, "")
	}
	if opts.JoinHyphens {
		s = reHyphenWrap.ReplaceAllString(s, "$1$2")
	}
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
