// Package calc evaluates the small arithmetic language accepted by the
// "hitung" command:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | "pi" | "e" | func "(" expr ")" | "(" expr ")"
//	func    = "sqrt" | "sin" | "cos" | "tan" | "log" | "ln"
//
// Trigonometric functions take degrees, log is base 10 and ln is natural.
package calc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidChar = errors.New("invalid character")
	ErrSyntax      = errors.New("syntax error")
	ErrNaN         = errors.New("result is not a number")
	ErrInfinite    = errors.New("result is infinite")
)

// User-facing error texts, in the bot's language.
const (
	MsgInvalidChar = "❌ Error: Karakter tidak valid dalam rumus"
	MsgNaN         = "❌ Error: Hasil tidak valid"
	MsgInfinite    = "❌ Error: Hasil tidak terbatas"
	MsgSyntax      = "❌ Error: Rumus tidak valid atau tidak dapat dihitung"
)

var functions = map[string]func(float64) float64{
	"sqrt": math.Sqrt,
	"sin":  func(x float64) float64 { return math.Sin(x * math.Pi / 180) },
	"cos":  func(x float64) float64 { return math.Cos(x * math.Pi / 180) },
	"tan":  func(x float64) float64 { return math.Tan(x * math.Pi / 180) },
	"log":  math.Log10,
	"ln":   math.Log,
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// Normalize replaces the multiplication and division signs people type on
// phones with their ASCII operators.
func Normalize(expr string) string {
	r := strings.NewReplacer("×", "*", "÷", "/")
	return strings.TrimSpace(r.Replace(expr))
}

// Evaluate parses and evaluates expr. The expression is rejected before
// parsing if it contains anything outside the language's alphabet.
func Evaluate(expr string) (float64, error) {
	expr = Normalize(expr)
	if err := checkAlphabet(expr); err != nil {
		return 0, err
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.peek().kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.peek().text)
	}
	switch {
	case math.IsNaN(v):
		return 0, ErrNaN
	case math.IsInf(v, 0):
		return 0, ErrInfinite
	}
	return v, nil
}

// Calculate evaluates expr and renders either the formatted result or the
// matching error text. It never fails.
func Calculate(expr string) string {
	v, err := Evaluate(expr)
	if err != nil {
		return Message(err)
	}
	return Format(v)
}

// Message maps an evaluation error to its user-facing text.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidChar):
		return MsgInvalidChar
	case errors.Is(err, ErrNaN):
		return MsgNaN
	case errors.Is(err, ErrInfinite):
		return MsgInfinite
	default:
		return MsgSyntax
	}
}

// Format rounds v to 10 decimal places and prints the shortest form, so
// 0.1+0.2 renders as 0.3 and 4.0 as 4.
func Format(v float64) string {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 10, 64), 64)
	if err != nil {
		r = v
	}
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func checkAlphabet(expr string) error {
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c >= '0' && c <= '9', c == '.', c == ' ', c == '\t',
			strings.IndexByte("+-*/^(),", c) >= 0:
			i++
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			j := i
			for j < len(expr) && (expr[j] >= 'a' && expr[j] <= 'z' || expr[j] >= 'A' && expr[j] <= 'Z') {
				j++
			}
			word := strings.ToLower(expr[i:j])
			if _, ok := functions[word]; !ok {
				if _, ok := constants[word]; !ok {
					return fmt.Errorf("%w: %q", ErrInvalidChar, word)
				}
			}
			i = j
		default:
			return fmt.Errorf("%w: %q", ErrInvalidChar, c)
		}
	}
	return nil
}
