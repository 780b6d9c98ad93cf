// Package scanner performs the one-shot content checks run after a page
// finishes loading: banned words in the visible text and banned network
// references in the raw markup. Matching is case-insensitive substring
// containment and the first configured entry that matches wins.
package scanner

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ConnectionReason is the block reason for a banned network reference.
const ConnectionReason = "Page attempted to make a connection to a blocked connection"

const wordReasonPrefix = "Page contained blocked word/phrase: "

// WordReason is the block reason for a banned word.
func WordReason(word string) string {
	return wordReasonPrefix + word
}

// Kind identifies which scan produced a finding.
type Kind int

const (
	KindWord Kind = iota + 1
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "banned_word"
	case KindConnection:
		return "banned_connection"
	default:
		return "unknown"
	}
}

// Finding is the first match of a scan.
type Finding struct {
	Kind   Kind
	Match  string
	Reason string
}

// Scanner holds the lower-cased banned lists. It is read-only after
// construction and safe for concurrent use.
type Scanner struct {
	words       []string
	connections []string
}

// New lower-cases both lists once. Blank entries are dropped since they
// would match every page.
func New(words, connections []string) *Scanner {
	return &Scanner{
		words:       lowerAll(words),
		connections: lowerAll(connections),
	}
}

// Lower applies the Unicode default lower-case mapping.
func Lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, Lower(s))
	}
	return out
}

// Words returns the lower-cased banned words in configured order.
func (s *Scanner) Words() []string { return append([]string(nil), s.words...) }

// Connections returns the lower-cased banned connections in configured order.
func (s *Scanner) Connections() []string { return append([]string(nil), s.connections...) }

// ScanText looks for the first banned word in text.
func (s *Scanner) ScanText(text string) (Finding, bool) {
	if len(s.words) == 0 || text == "" {
		return Finding{}, false
	}
	lowered := Lower(text)
	for _, w := range s.words {
		if strings.Contains(lowered, w) {
			return Finding{Kind: KindWord, Match: w, Reason: WordReason(w)}, true
		}
	}
	return Finding{}, false
}

// ScanMarkup looks for the first banned connection in markup.
func (s *Scanner) ScanMarkup(markup string) (Finding, bool) {
	if len(s.connections) == 0 || markup == "" {
		return Finding{}, false
	}
	lowered := Lower(markup)
	for _, c := range s.connections {
		if strings.Contains(lowered, c) {
			return Finding{Kind: KindConnection, Match: c, Reason: ConnectionReason}, true
		}
	}
	return Finding{}, false
}

// Scan runs the word scan and then the connection scan, returning the
// first finding. A nil document scans as empty.
func (s *Scanner) Scan(doc Document) (Finding, bool) {
	if doc == nil {
		return Finding{}, false
	}
	if f, ok := s.ScanText(doc.VisibleText()); ok {
		return f, true
	}
	return s.ScanMarkup(doc.Markup())
}
