package parser

import "fmt"

// Line bounds for header-only extraction.
const (
	DefaultHeaderLines   = 100
	DefaultFallbackLines = 200
)

// Parser combines the structured and heuristic tiers.
type Parser struct {
	grammar       *Grammar
	decoder       *Decoder
	headerLines   int
	fallbackLines int
}

// New creates a Parser over the embedded grammar.
func New() *Parser {
	return NewWithGrammar(DefaultGrammar())
}

// NewWithGrammar creates a Parser over g.
func NewWithGrammar(g *Grammar) *Parser {
	return &Parser{
		grammar:       g,
		decoder:       NewDecoder(g),
		headerLines:   DefaultHeaderLines,
		fallbackLines: DefaultFallbackLines,
	}
}

// ParseScheduleE extracts a filing's header and Schedule E itemizations.
// The heuristic tier runs when structured decoding fails or yields no
// itemizations. ErrUnparseable means neither tier recognized anything.
func (p *Parser) ParseScheduleE(text string) (*Filing, error) {
	f, err := p.decoder.Decode(text)
	if err == nil && len(f.Expenditures) > 0 {
		return f, nil
	}

	out := &Filing{Tier: TierHeuristic, Expenditures: ScanScheduleE(text)}
	if err == nil {
		out.Header = f.Header
	} else if h, ok := scanHeader(p.grammar, text, 0); ok {
		out.Header = h
	}

	if !out.Header.Found() && len(out.Expenditures) == 0 {
		if err == nil {
			err = ErrNoFormRecord
		}
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return out, nil
}

// ParseSummaryHeader extracts summary fields from the first lines only.
// When the bounded scan finds no total, the structured decoder runs over a
// slightly longer prefix to fill the gaps.
func (p *Parser) ParseSummaryHeader(text string) (*Filing, error) {
	h, found := scanHeader(p.grammar, text, p.headerLines)
	tier := TierHeuristic

	if h.TotalReceipts == nil {
		f, err := p.decoder.Decode(firstLines(text, p.fallbackLines))
		if err == nil {
			if !found {
				tier = TierStructured
			}
			h.fillFrom(f.Header)
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: no form record in first %d lines", ErrUnparseable, p.fallbackLines)
	}
	return &Filing{Header: h, Tier: tier}, nil
}
