package job

import (
	"fmt"
	"regexp"
	"strconv"
)

// Output files follow the grammar
//
//	ch<tag>out<sink>-<suffix>
//
// where tag and sink are decimal without leading zeros and suffix is the
// engine's split identifier, one or more of [A-Za-z0-9._-].
var outputFilePattern = regexp.MustCompile(`^ch(0|[1-9][0-9]*)out(0|[1-9][0-9]*)-([A-Za-z0-9._-]+)$`)

// OutputName is the named output of a (tag, sink) pair.
func OutputName(tag, sink int) string {
	return fmt.Sprintf("ch%dout%d", tag, sink)
}

// OutputFileName is the file an engine writes for one split of a named output.
func OutputFileName(tag, sink int, suffix string) string {
	return OutputName(tag, sink) + "-" + suffix
}

type OutputFile struct {
	Tag    int
	Sink   int
	Suffix string
}

// ParseOutputFile parses a staging file name. ok is false for anything that
// does not follow the grammar.
func ParseOutputFile(name string) (f OutputFile, ok bool) {
	m := outputFilePattern.FindStringSubmatch(name)
	if m == nil {
		return OutputFile{}, false
	}
	tag, err := strconv.Atoi(m[1])
	if err != nil {
		return OutputFile{}, false
	}
	sink, err := strconv.Atoi(m[2])
	if err != nil {
		return OutputFile{}, false
	}
	return OutputFile{Tag: tag, Sink: sink, Suffix: m[3]}, true
}
