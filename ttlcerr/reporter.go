package ttlcerr

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// additionalContextLines mirrors the original reporter's window of source
// lines kept before the first offending line when formatting a snippet.
const additionalContextLines = 2

// Reporter receives a CompilationError together with the source text it
// occurred in. The compiler context (ir.Context) holds one Reporter and
// calls it exactly once per error on the path out of the pipeline.
type Reporter func(source string, text string, err *CompilationError)

// Snippet renders the source lines from additionalContextLines before
// loc's first line through loc's last line (no lines after it),
// underlining the offending span with '~', matching the original
// report_error_with_context formatting.
func Snippet(text string, loc Location) string {
	lines := strings.Split(text, "\n")
	firstLine := loc.Begin.Line - additionalContextLines
	if firstLine < 1 {
		firstLine = 1
	}
	var b strings.Builder
	for lineNo := firstLine; lineNo <= loc.End.Line && lineNo <= len(lines); lineNo++ {
		line := lines[lineNo-1]
		b.WriteString(line)
		b.WriteByte('\n')
		if lineNo < loc.Begin.Line {
			continue
		}
		colBegin, numCol := underline(loc, lineNo, len(line))
		if colBegin < 0 {
			continue
		}
		b.WriteString(strings.Repeat(" ", colBegin))
		b.WriteString(strings.Repeat("~", numCol))
		b.WriteByte('\n')
	}
	return b.String()
}

func underline(loc Location, lineNo, lineLen int) (colBegin, numCol int) {
	switch {
	case loc.Begin.Line == loc.End.Line:
		colBegin = loc.Begin.Column - 1
		numCol = loc.End.Column - loc.Begin.Column
	case lineNo == loc.Begin.Line:
		colBegin = loc.Begin.Column - 1
		numCol = lineLen - colBegin
	case lineNo == loc.End.Line:
		colBegin = 0
		numCol = loc.End.Column - 1
	default:
		colBegin = 0
		numCol = lineLen
	}
	if colBegin < 0 {
		colBegin = 0
	}
	if numCol < 1 {
		numCol = 1
	}
	return colBegin, numCol
}

// DefaultReporter logs the formatted snippet and message through logrus at
// error level with structured fields, the idiomatic stderr sink used when
// the caller doesn't install its own Reporter.
func DefaultReporter(source string, text string, err *CompilationError) {
	entry := logrus.WithFields(logrus.Fields{
		"source": source,
		"line":   err.Location.Begin.Line,
		"column": err.Location.Begin.Column,
		"status": err.Status.String(),
	})
	if text != "" {
		entry = entry.WithField("snippet", Snippet(text, err.Location))
	}
	entry.Error(err.Message)
}
