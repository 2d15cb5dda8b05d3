package spec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("syntax error")

// ParseError reports the offending line of a specification file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

func LoadFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Parse reads the krpsim text format:
//
//	# comment
//	euro:10
//	buy:(euro:8):(material:1):10
//	optimize:(time;product)
func Parse(r io.Reader) (*Spec, error) {
	b := NewBuilder()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := parseLine(b, line); err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.Build()
}

func parseLine(b *Builder, line string) error {
	name, rest, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return ErrSyntax
	}
	if name == "optimize" {
		return parseOptimize(b, rest)
	}
	if !strings.HasPrefix(rest, "(") && !strings.HasPrefix(rest, ":") {
		qty, err := parseQuantity(rest)
		if err != nil {
			return err
		}
		return b.Stock(name, qty)
	}
	return parseProcess(b, name, rest)
}

func parseProcess(b *Builder, name, rest string) error {
	needs, rest, err := parseGroup(rest)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(rest, ":") {
		return fmt.Errorf("%w: expected ':' after needs", ErrSyntax)
	}
	results, rest, err := parseGroup(rest[1:])
	if err != nil {
		return err
	}
	if !strings.HasPrefix(rest, ":") {
		return fmt.Errorf("%w: expected ':' before duration", ErrSyntax)
	}
	duration, err := parseQuantity(rest[1:])
	if err != nil {
		return err
	}
	return b.Process(name, needs, results, duration)
}

// parseGroup consumes an optional "(a:1;b:2)" prefix and returns the remainder.
func parseGroup(s string) ([]NamedAmount, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, s, nil
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("%w: unclosed '('", ErrSyntax)
	}
	body := strings.TrimSpace(s[1:end])
	rest := s[end+1:]
	if body == "" {
		return nil, rest, nil
	}
	var out []NamedAmount
	for _, item := range strings.Split(body, ";") {
		stock, qtyText, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || stock == "" {
			return nil, "", fmt.Errorf("%w: bad amount %q", ErrSyntax, item)
		}
		qty, err := parseQuantity(qtyText)
		if err != nil {
			return nil, "", err
		}
		out = append(out, NamedAmount{Name: stock, Quantity: qty})
	}
	return out, rest, nil
}

func parseOptimize(b *Builder, rest string) error {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return fmt.Errorf("%w: optimize expects a parenthesized list", ErrSyntax)
	}
	kind := ObjectiveQuantity
	target := ""
	for _, item := range strings.Split(rest[1:len(rest)-1], ";") {
		item = strings.TrimSpace(item)
		switch {
		case item == "":
		case item == "time":
			kind = ObjectiveTime
		case target == "":
			target = item
		}
	}
	if target == "" {
		return fmt.Errorf("%w: optimize names no stock", ErrSyntax)
	}
	b.Optimize(kind, target)
	return nil
}

func parseQuantity(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, s)
	}
	if v < 0 {
		return 0, ErrNegative
	}
	return v, nil
}
