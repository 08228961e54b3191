package main

import (
	"errors"
	"fmt"

	"github.com/pipe01/koreander/internal/lexer"
)

type SituatedErr interface {
	Unwrap() error
	At() lexer.Location
}

// describeError formats err as "file:line:col: message" when it carries a
// source location.
func describeError(err error) string {
	var serr SituatedErr
	if errors.As(err, &serr) {
		loc := serr.At()
		return fmt.Sprintf("%s: %s", &loc, serr.Unwrap())
	}

	return err.Error()
}
