package calc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_Arithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"5 + 3 * 2", "11"},
		{"(5 + 3) * 2", "16"},
		{"10 / 4", "2.5"},
		{"2^3", "8"},
		{"2^3^2", "512"},
		{"-2^2", "-4"},
		{"--3", "3"},
		{"10 - 2 - 3", "5"},
		{"0.1 + 0.2", "0.3"},
		{"6 × 7", "42"},
		{"9 ÷ 3", "3"},
		{"1/3", "0.3333333333"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			assert.Equal(t, tc.want, Calculate(tc.expr))
		})
	}
}

func TestCalculate_Functions(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"sqrt(16)", "4"},
		{"sin(90)", "1"},
		{"sin(180)", "0"},
		{"cos(0)", "1"},
		{"tan(45)", "1"},
		{"log(1000)", "3"},
		{"ln(e)", "1"},
		{"pi", "3.1415926536"},
		{"2 * pi", "6.2831853072"},
		{"sqrt(sqrt(16))", "2"},
		{"SQRT(9)", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			assert.Equal(t, tc.want, Calculate(tc.expr))
		})
	}
}

func TestCalculate_RejectsForeignCharacters(t *testing.T) {
	for _, expr := range []string{
		"process.exit(1)",
		"require('fs')",
		"alert(1)",
		"2 % 3",
		"x + 1",
		"5 = 5",
		"`ls`",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			require.ErrorIs(t, err, ErrInvalidChar)
			assert.Equal(t, MsgInvalidChar, Calculate(expr))
		})
	}
}

func TestCalculate_NonFinite(t *testing.T) {
	assert.Equal(t, MsgInfinite, Calculate("1/0"))
	assert.Equal(t, MsgInfinite, Calculate("log(0)"))
	assert.Equal(t, MsgNaN, Calculate("0/0"))
	assert.Equal(t, MsgNaN, Calculate("sqrt(-1)"))
}

func TestCalculate_SyntaxErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"5 +",
		"(1 + 2",
		"1 + 2)",
		"sqrt 16",
		"1..2",
		"2 3",
		"1,5",
		"* 3",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			require.ErrorIs(t, err, ErrSyntax)
			assert.Equal(t, MsgSyntax, Calculate(expr))
		})
	}
}

func TestCalculate_DeepNestingIsRejected(t *testing.T) {
	expr := strings.Repeat("(", 500) + "1" + strings.Repeat(")", 500)
	_, err := Evaluate(expr)
	require.ErrorIs(t, err, ErrSyntax)

	signs := strings.Repeat("-", 500) + "1"
	_, err = Evaluate(signs)
	require.ErrorIs(t, err, ErrSyntax)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "11", Format(11))
	assert.Equal(t, "0.5", Format(0.5))
	assert.Equal(t, "0", Format(-0.00000000001))
	assert.Equal(t, "1000000", Format(1e6))
}
