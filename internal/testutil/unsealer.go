package testutil

import "strings"

// StubUnsealer seals by reversing a value and unseals by reversing it
// back, with a fixed prefix marking sealed values so a corrupted or
// foreign value is rejected rather than silently "unsealed" into
// garbage.
type StubUnsealer struct{}

const stubSealPrefix = "stub-sealed:"

func (StubUnsealer) Seal(plaintext string) (string, error) {
	return stubSealPrefix + reverse(plaintext), nil
}

func (StubUnsealer) Unseal(opaque string) (string, error) {
	rest, ok := strings.CutPrefix(opaque, stubSealPrefix)
	if !ok {
		return "", errNotSealed
	}
	return reverse(rest), nil
}

var errNotSealed = &unsealError{"value was not sealed by StubUnsealer"}

type unsealError struct{ msg string }

func (e *unsealError) Error() string { return e.msg }

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
