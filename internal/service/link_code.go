package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	linkCodeDigits  = 6
	maxCodeAttempts = 10
)

var linkCodeSpace = big.NewInt(1_000_000)

// errCodeSpaceExhausted is returned when every generated candidate collided.
var errCodeSpaceExhausted = errors.New("failed to generate unique link code")

// CodeGenerator produces candidate link codes.
type CodeGenerator func() (string, error)

// RandomLinkCode returns a uniformly distributed zero-padded 6 digit code.
func RandomLinkCode() (string, error) {
	n, err := rand.Int(rand.Reader, linkCodeSpace)
	if err != nil {
		return "", fmt.Errorf("generate link code: %w", err)
	}
	return fmt.Sprintf("%0*d", linkCodeDigits, n.Int64()), nil
}

// uniqueCode draws candidates until inUse reports a free one.
func uniqueCode(ctx context.Context, gen CodeGenerator, inUse func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := gen()
		if err != nil {
			return "", err
		}
		exists, err := inUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code exists: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", errCodeSpaceExhausted, maxCodeAttempts)
}
