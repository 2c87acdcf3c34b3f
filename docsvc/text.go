// CLAUDE:SUMMARY Content-stream text scanner: tracks Tf/Tm/Td/TD/T*/TL and Tj/TJ/'/" to produce positioned text runs; case-insensitive search with estimated glyph boxes.
package docsvc

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/hazyhaar/docview/geometry"
)

// glyphRatio estimates the advance of one character as a fraction of the
// font size. Without font metrics every glyph is half an em.
const glyphRatio = 0.5

// TextRun is one string shown on a page, positioned at its baseline origin.
type TextRun struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
	Text string  `json:"text"`
}

// Match is one occurrence of a search query.
type Match struct {
	Page int              `json:"page"`
	Rect geometry.DocRect `json:"rect"`
	Text string           `json:"text"`
}

// ExtractText returns the text runs of every page of path, in page order.
func (s *Service) ExtractText(ctx context.Context, path string) ([]TextRun, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docsvc: open %s: %w", path, err)
	}
	defer f.Close()

	pc, err := api.ReadValidateAndOptimize(f, conf())
	if err != nil {
		return nil, fmt.Errorf("docsvc: pdfcpu read: %w", err)
	}

	var runs []TextRun
	for pageNr := 1; pageNr <= pc.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := pdfcpu.ExtractPageContent(pc, pageNr)
		if err != nil || r == nil {
			s.log.Debug("docsvc: page without content", "page", pageNr, "error", err)
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("docsvc: page %d content: %w", pageNr, err)
		}
		runs = append(runs, ScanRuns(pageNr, data)...)
	}
	return runs, nil
}

// FindText returns every case-insensitive occurrence of query in path.
func (s *Service) FindText(ctx context.Context, path, query string) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	runs, err := s.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	return FindInRuns(runs, query), nil
}

// Search adapts FindText to the viewport search collaborator.
func (s *Service) Search(ctx context.Context, path, query string) ([]geometry.PageRect, error) {
	matches, err := s.FindText(ctx, path, query)
	if err != nil {
		return nil, err
	}
	out := make([]geometry.PageRect, len(matches))
	for i, m := range matches {
		out[i] = geometry.PageRect{Page: m.Page, Rect: m.Rect}
	}
	return out, nil
}

// FindInRuns locates query inside each run. A match starting at character
// i of a run at (x, y) with size s covers [x + i*s/2, y, len*s/2, s].
func FindInRuns(runs []TextRun, query string) []Match {
	q := []rune(strings.ToLower(query))
	if len(q) == 0 {
		return nil
	}
	var out []Match
	for _, run := range runs {
		text := []rune(run.Text)
		lower := []rune(strings.ToLower(run.Text))
		if len(lower) != len(text) {
			// Case folding changed the length; fall back to the raw text.
			lower = text
		}
		advance := run.Size * glyphRatio
		for i := 0; i+len(q) <= len(lower); {
			if !runesEqual(lower[i:i+len(q)], q) {
				i++
				continue
			}
			out = append(out, Match{
				Page: run.Page,
				Rect: geometry.BaselineRect(run.X+float64(i)*advance, run.Y, float64(len(q))*advance, run.Size),
				Text: string(text[i : i+len(q)]),
			})
			i += len(q)
		}
	}
	return out
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// matrix is a PDF affine transform [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// translate returns T(tx, ty) x m.
func (m matrix) translate(tx, ty float64) matrix {
	m[4] += tx*m[0] + ty*m[2]
	m[5] += tx*m[1] + ty*m[3]
	return m
}

type textState struct {
	tm, tlm matrix
	size    float64
	leading float64
}

func (ts *textState) nextLine() {
	ts.tlm = ts.tlm.translate(0, -ts.leading)
	ts.tm = ts.tlm
}

// effectiveSize is the font size scaled by the vertical factor of Tm.
func (ts *textState) effectiveSize() float64 {
	d := ts.tm[3]
	if d < 0 {
		d = -d
	}
	if d == 0 {
		return ts.size
	}
	return ts.size * d
}

// ScanRuns interprets the text operators of one page content stream.
func ScanRuns(page int, content []byte) []TextRun {
	var (
		runs     []TextRun
		operands []operand
		ts       = textState{tm: identity, tlm: identity}
	)

	show := func(text string) {
		if text == "" {
			return
		}
		size := ts.effectiveSize()
		runs = append(runs, TextRun{Page: page, X: ts.tm[4], Y: ts.tm[5], Size: size, Text: text})
		ts.tm = ts.tm.translate(float64(len([]rune(text)))*ts.size*glyphRatio, 0)
	}

	sc := &scanner{data: content}
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != kindOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.str {
		case "BT":
			ts.tm, ts.tlm = identity, identity
		case "Tf":
			if n, ok := number(operands, 1, 2); ok {
				ts.size = n
			}
		case "TL":
			if n, ok := number(operands, 0, 1); ok {
				ts.leading = n
			}
		case "Tm":
			if len(operands) >= 6 {
				var m matrix
				valid := true
				for i := range m {
					n, ok := number(operands, i, 6)
					if !ok {
						valid = false
						break
					}
					m[i] = n
				}
				if valid {
					ts.tm, ts.tlm = m, m
				}
			}
		case "Td", "TD":
			tx, ok1 := number(operands, 0, 2)
			ty, ok2 := number(operands, 1, 2)
			if ok1 && ok2 {
				if tok.str == "TD" {
					ts.leading = -ty
				}
				ts.tlm = ts.tlm.translate(tx, ty)
				ts.tm = ts.tlm
			}
		case "T*":
			ts.nextLine()
		case "Tj":
			if s, ok := lastString(operands); ok {
				show(s)
			}
		case "'":
			ts.nextLine()
			if s, ok := lastString(operands); ok {
				show(s)
			}
		case "\"":
			ts.nextLine()
			if s, ok := lastString(operands); ok {
				show(s)
			}
		case "TJ":
			if len(operands) > 0 && operands[len(operands)-1].kind == kindArray {
				var sb strings.Builder
				for _, el := range operands[len(operands)-1].arr {
					switch {
					case el.kind == kindString:
						sb.WriteString(el.str)
					case el.kind == kindNumber && el.num < -200:
						// Large negative kerning reads as a word gap.
						sb.WriteByte(' ')
					}
				}
				show(sb.String())
			}
		case "BI":
			sc.skipInlineImage()
		}
		operands = operands[:0]
	}
	return runs
}

// number returns operand i of the last n operands as a float.
func number(ops []operand, i, n int) (float64, bool) {
	if len(ops) < n {
		return 0, false
	}
	op := ops[len(ops)-n+i]
	if op.kind != kindNumber {
		return 0, false
	}
	return op.num, true
}

func lastString(ops []operand) (string, bool) {
	if len(ops) == 0 || ops[len(ops)-1].kind != kindString {
		return "", false
	}
	return ops[len(ops)-1].str, true
}

type tokenKind int

const (
	kindNumber tokenKind = iota
	kindString
	kindName
	kindArray
	kindDict
	kindOperator
)

type operand struct {
	kind tokenKind
	num  float64
	str  string
	arr  []operand
}

type scanner struct {
	data []byte
	pos  int
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '%' {
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		if !isSpace(c) {
			return
		}
		s.pos++
	}
}

// next returns the next token. Arrays are returned whole.
func (s *scanner) next() (operand, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return operand{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		s.pos++
		return operand{kind: kindString, str: s.literal()}, true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<':
		s.pos += 2
		s.skipDict()
		return operand{kind: kindDict}, true
	case c == '<':
		s.pos++
		return operand{kind: kindString, str: s.hex()}, true
	case c == '[':
		s.pos++
		var arr []operand
		for {
			s.skipSpace()
			if s.pos >= len(s.data) {
				break
			}
			if s.data[s.pos] == ']' {
				s.pos++
				break
			}
			el, ok := s.next()
			if !ok {
				break
			}
			arr = append(arr, el)
		}
		return operand{kind: kindArray, arr: arr}, true
	case c == '/':
		s.pos++
		return operand{kind: kindName, str: s.word()}, true
	case c == ']' || c == ')' || c == '>' || c == '{' || c == '}':
		s.pos++
		return s.next()
	}

	w := s.word()
	if w == "" {
		s.pos++
		return s.next()
	}
	if n, err := strconv.ParseFloat(w, 64); err == nil {
		return operand{kind: kindNumber, num: n}, true
	}
	return operand{kind: kindOperator, str: w}, true
}

func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.data) && !isSpace(s.data[s.pos]) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// literal reads a parenthesised string after its opening paren.
func (s *scanner) literal() string {
	var sb strings.Builder
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return sb.String()
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\r', '\n':
				// Line continuation.
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
						val = val*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(e)
				}
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// hex reads a hex string after its opening angle bracket. Two-byte strings
// starting with a zero high byte are read as UCS-2.
func (s *scanner) hex() string {
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		if c := s.data[s.pos]; !isSpace(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		b, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(b))
	}
	if len(raw) >= 2 && len(raw)%2 == 0 && raw[0] == 0 {
		var sb strings.Builder
		for i := 0; i < len(raw); i += 2 {
			sb.WriteRune(rune(raw[i])<<8 | rune(raw[i+1]))
		}
		return sb.String()
	}
	return string(raw)
}

// skipDict consumes an inline dictionary, including nested ones.
func (s *scanner) skipDict() {
	depth := 1
	for s.pos < len(s.data) && depth > 0 {
		switch {
		case s.data[s.pos] == '(':
			s.pos++
			s.literal()
			continue
		case strings.HasPrefix(string(s.data[s.pos:min(s.pos+2, len(s.data))]), "<<"):
			depth++
			s.pos += 2
			continue
		case strings.HasPrefix(string(s.data[s.pos:min(s.pos+2, len(s.data))]), ">>"):
			depth--
			s.pos += 2
			continue
		}
		s.pos++
	}
}

// skipInlineImage jumps past the binary payload of BI ... ID ... EI.
func (s *scanner) skipInlineImage() {
	for {
		tok, ok := s.next()
		if !ok {
			return
		}
		if tok.kind == kindOperator && tok.str == "ID" {
			break
		}
	}
	for s.pos+2 <= len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			(s.pos == 0 || isSpace(s.data[s.pos-1])) &&
			(s.pos+2 == len(s.data) || isSpace(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}
