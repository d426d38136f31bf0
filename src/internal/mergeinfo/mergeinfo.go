// Package mergeinfo models the mergeinfo property: for each merge source path, the revision ranges
// already merged into a node.
//
// The textual form is one line per source:
//
//	/trunk:1-5,7,9-12*
//
// A trailing '*' marks a non-inheritable range, which applies to the node itself but not to its
// descendants.
package mergeinfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// PropName is the property holding a node's mergeinfo.
const PropName = "svn:mergeinfo"

// InheritMode selects how a node's mergeinfo is found.
type InheritMode int

const (
	// Explicit returns only mergeinfo set on the node itself.
	Explicit InheritMode = iota
	// Inherited returns the node's own mergeinfo, or the nearest ancestor's.
	Inherited
	// NearestAncestor skips the node itself and returns the nearest ancestor's mergeinfo.
	NearestAncestor
)

func (m InheritMode) String() string {
	switch m {
	case Explicit:
		return "explicit"
	case Inherited:
		return "inherited"
	case NearestAncestor:
		return "nearest-ancestor"
	default:
		return "unknown"
	}
}

// Range is an inclusive range of revisions.
type Range struct {
	Start       nodeid.Revnum
	End         nodeid.Revnum
	Inheritable bool
}

func (r Range) String() string {
	var s string
	if r.Start == r.End {
		s = r.Start.String()
	} else {
		s = r.Start.String() + "-" + r.End.String()
	}
	if !r.Inheritable {
		s += "*"
	}
	return s
}

// RangeList is a sorted list of non-overlapping ranges.
type RangeList []Range

func (rl RangeList) String() string {
	parts := make([]string, len(rl))
	for i, r := range rl {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Mergeinfo maps merge source paths to range lists.
type Mergeinfo map[string]RangeList

// Catalog maps node paths to their mergeinfo.
type Catalog map[string]Mergeinfo

// ParseError is returned for syntactically invalid mergeinfo.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse mergeinfo string '%s': %s", e.Input, e.Reason)
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func parseErr(input, format string, args ...any) error {
	return errors.WithStack(&ParseError{Input: input, Reason: fmt.Sprintf(format, args...)})
}

var lex = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n`},
		// Paths may contain ':', ranges never do: a source runs to the last ':' of its line.
		{Name: "Source", Pattern: `[^\n]*:`, Action: lexer.Push("Ranges")},
	},
	"Ranges": {
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n`, Action: lexer.Pop()},
		{Name: "Rev", Pattern: `[0-9]+`},
		{Name: "Punct", Pattern: `[-,*]`},
	},
})

type document struct {
	Lines []*line `parser:"( @@ | Newline )*"`
}

type line struct {
	Source string      `parser:"@Source"`
	Ranges []*revRange `parser:"@@ ( ',' @@ )*"`
}

type revRange struct {
	Start          string `parser:"@Rev"`
	End            string `parser:"( '-' @Rev )?"`
	NonInheritable bool   `parser:"@'*'?"`
}

var parser = participle.MustBuild[document](participle.Lexer(lex), participle.Elide("Whitespace"))

// Parse parses the textual form of mergeinfo.  An empty string is empty mergeinfo.
func Parse(s string) (Mergeinfo, error) {
	doc, err := parser.ParseString("", s)
	if err != nil {
		return nil, parseErr(s, "%v", err)
	}
	result := make(Mergeinfo)
	for _, l := range doc.Lines {
		source := strings.TrimSuffix(l.Source, ":")
		if source == "" {
			return nil, parseErr(s, "no pathname preceding ':'")
		}
		if !strings.HasPrefix(source, "/") {
			return nil, parseErr(s, "merge source '%s' is not an absolute path", source)
		}
		rl := make(RangeList, 0, len(l.Ranges))
		for _, rr := range l.Ranges {
			r, err := rr.toRange(s)
			if err != nil {
				return nil, err
			}
			rl = append(rl, r)
		}
		source = fspath.Canonicalize(source)
		result[source] = normalize(append(result[source], rl...))
	}
	return result, nil
}

func (rr *revRange) toRange(input string) (Range, error) {
	start, err := parseRev(input, rr.Start)
	if err != nil {
		return Range{}, err
	}
	r := Range{Start: start, End: start, Inheritable: !rr.NonInheritable}
	if rr.End == "" {
		return r, nil
	}
	end, err := parseRev(input, rr.End)
	if err != nil {
		return Range{}, err
	}
	if end < start {
		return Range{}, parseErr(input, "unable to parse reversed revision range '%d-%d'", start, end)
	}
	if end == start {
		return Range{}, parseErr(input, "unable to parse revision range '%d-%d' with same start and end revisions", start, end)
	}
	r.End = end
	return r, nil
}

func parseRev(input, s string) (nodeid.Revnum, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, parseErr(input, "invalid revision number '%s'", s)
	}
	if n <= 0 {
		return 0, parseErr(input, "invalid revision number '%d' found in range list", n)
	}
	return nodeid.Revnum(n), nil
}

// normalize sorts rl and merges ranges that overlap or touch and have the same inheritability.
// Overlapping ranges of different inheritability keep the inheritable one.
func normalize(rl RangeList) RangeList {
	if len(rl) == 0 {
		return rl
	}
	sort.Slice(rl, func(i, j int) bool {
		if rl[i].Start != rl[j].Start {
			return rl[i].Start < rl[j].Start
		}
		return rl[i].End < rl[j].End
	})
	out := RangeList{rl[0]}
	for _, r := range rl[1:] {
		last := &out[len(out)-1]
		switch {
		case r.Start > last.End+1:
			out = append(out, r)
		case r.Inheritable == last.Inheritable:
			if r.End > last.End {
				last.End = r.End
			}
		case r.Start > last.End:
			// Adjacent with different inheritability.
			out = append(out, r)
		default:
			out = mergeMixed(out, r)
		}
	}
	return out
}

// mergeMixed folds r into the last range of out when they overlap and differ in inheritability.
// The overlap becomes inheritable.
func mergeMixed(out RangeList, r Range) RangeList {
	last := out[len(out)-1]
	out = out[:len(out)-1]
	inh, non := last, r
	if r.Inheritable {
		inh, non = r, last
	}
	var pieces RangeList
	if non.Start < inh.Start {
		pieces = append(pieces, Range{Start: non.Start, End: inh.Start - 1})
	}
	pieces = append(pieces, Range{Start: inh.Start, End: inh.End, Inheritable: true})
	if non.End > inh.End {
		pieces = append(pieces, Range{Start: inh.End + 1, End: non.End})
	}
	return append(out, pieces...)
}

// String formats m with sources in sorted order.
func (m Mergeinfo) String() string {
	sources := make([]string, 0, len(m))
	for source := range m {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	lines := make([]string, 0, len(sources))
	for _, source := range sources {
		lines = append(lines, source+":"+m[source].String())
	}
	return strings.Join(lines, "\n")
}

// Inheritable returns m without its non-inheritable ranges.  Sources left with no ranges are dropped.
func (m Mergeinfo) Inheritable() Mergeinfo {
	result := make(Mergeinfo, len(m))
	for source, rl := range m {
		var kept RangeList
		for _, r := range rl {
			if r.Inheritable {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			result[source] = kept
		}
	}
	return result
}

// AppendToMergedFroms returns m with rel appended to every merge source path.  This is how a node
// inherits mergeinfo from an ancestor rel above it.
func (m Mergeinfo) AppendToMergedFroms(rel string) Mergeinfo {
	result := make(Mergeinfo, len(m))
	for source, rl := range m {
		result[fspath.Join(source, rel)] = append(RangeList(nil), rl...)
	}
	return result
}

// Size estimates the memory held by m, for cache accounting.
func (m Mergeinfo) Size() int64 {
	var n int64
	for source, rl := range m {
		n += int64(len(source)) + int64(len(rl))*24 + 48
	}
	return n + 48
}
