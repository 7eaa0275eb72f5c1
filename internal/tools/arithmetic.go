package tools

import (
	"context"
	"math/big"
	"strconv"

	xerrors "aptos-agent/internal/errors"
)

// ArithmeticTools returns add, sub and mul in that order.
func ArithmeticTools() []*Tool {
	return []*Tool{
		binaryTool("add", "Adds two numbers together", func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }),
		binaryTool("sub", "Substract two numbers together", func(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }),
		binaryTool("mul", "Multiplies two numbers together", func(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) }),
	}
}

func binaryTool(name, description string, op func(a, b *big.Int) *big.Int) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters: objectSchema(map[string]any{
			"a": property("integer", "first operand"),
			"b": property("integer", "second operand"),
		}, "a", "b"),
		Execute: func(_ context.Context, args Args) (string, error) {
			a, err := args.Int64("a")
			if err != nil {
				return "", err
			}
			b, err := args.Int64("b")
			if err != nil {
				return "", err
			}
			result := op(big.NewInt(a), big.NewInt(b))
			if !result.IsInt64() {
				return "", xerrors.New(xerrors.CodeInvalidArgument, name+" result overflows a 64-bit integer")
			}
			return strconv.FormatInt(result.Int64(), 10), nil
		},
	}
}
