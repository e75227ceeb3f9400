package problem

import "errors"

var (
	ErrUnknownRiskLevel = errors.New("unknown risk level")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrInvalidProfile   = errors.New("invalid category profile")
)
