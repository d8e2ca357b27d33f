package scene

import (
	"errors"
	"fmt"
	"strings"
)

/*
FRACTIONAL INDICES

Element order is carried by a string key per element. Keys compare
lexicographically, and a new key can always be generated strictly between
two existing ones, so moving or inserting an element never renumbers its
neighbours. Because the key travels with the element, two peers that merge
the same elements end up with the same order no matter which side each
element came from.

A key is an "integer part" followed by a fraction. The first character of
the integer part encodes its length: 'a'..'z' are positive integers with
2..27 characters, 'A'..'Z' are negative ones. Digits are base 62.
*/

const (
	base62Digits    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	integerZero     = "a0"
	smallestInteger = "A00000000000000000000000000"
)

var errInvalidOrderKey = errors.New("invalid order key")

func digitValue(c byte) int {
	return strings.IndexByte(base62Digits, c)
}

func integerLength(head byte) (int, error) {
	switch {
	case head >= 'a' && head <= 'z':
		return int(head-'a') + 2, nil
	case head >= 'A' && head <= 'Z':
		return int('Z'-head) + 2, nil
	default:
		return 0, fmt.Errorf("%w: head %q", errInvalidOrderKey, head)
	}
}

func integerPart(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty", errInvalidOrderKey)
	}
	n, err := integerLength(key[0])
	if err != nil {
		return "", err
	}
	if n > len(key) {
		return "", fmt.Errorf("%w: %q", errInvalidOrderKey, key)
	}
	return key[:n], nil
}

// ValidateKey reports whether key is a well-formed order key
func ValidateKey(key string) error {
	if key == smallestInteger {
		return fmt.Errorf("%w: %q", errInvalidOrderKey, key)
	}
	i, err := integerPart(key)
	if err != nil {
		return err
	}
	for j := 1; j < len(key); j++ {
		if digitValue(key[j]) < 0 {
			return fmt.Errorf("%w: %q", errInvalidOrderKey, key)
		}
	}
	if f := key[len(i):]; strings.HasSuffix(f, "0") {
		return fmt.Errorf("%w: trailing zero in %q", errInvalidOrderKey, key)
	}
	return nil
}

// midpoint returns a fraction strictly between a and b, b == "" meaning 1
func midpoint(a, b string) (string, error) {
	if b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", errInvalidOrderKey, a, b)
	}
	if strings.HasSuffix(a, "0") || strings.HasSuffix(b, "0") {
		return "", fmt.Errorf("%w: trailing zero", errInvalidOrderKey)
	}

	if b != "" {
		// shared prefix, treating a as padded with zeros
		n := 0
		for n < len(b) {
			ca := byte('0')
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(a) {
				rest = a[n:]
			}
			mid, err := midpoint(rest, b[n:])
			if err != nil {
				return "", err
			}
			return b[:n] + mid, nil
		}
	}

	digitA := 0
	if a != "" {
		digitA = digitValue(a[0])
	}
	digitB := len(base62Digits)
	if b != "" {
		digitB = digitValue(b[0])
	}

	if digitB-digitA > 1 {
		mid := (digitA + digitB + 1) / 2
		return string(base62Digits[mid]), nil
	}

	if len(b) > 1 {
		return b[:1], nil
	}

	rest := ""
	if len(a) > 1 {
		rest = a[1:]
	}
	mid, err := midpoint(rest, "")
	if err != nil {
		return "", err
	}
	return string(base62Digits[digitA]) + mid, nil
}

func incrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])

	carry := true
	for i := len(digs) - 1; carry && i >= 0; i-- {
		d := digitValue(digs[i]) + 1
		if d == len(base62Digits) {
			digs[i] = '0'
		} else {
			digs[i] = base62Digits[d]
			carry = false
		}
	}
	if !carry {
		return string(head) + string(digs), true
	}

	switch head {
	case 'Z':
		return integerZero, true
	case 'z':
		return "", false
	}
	h := head + 1
	if h > 'a' {
		digs = append(digs, '0')
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

func decrementInteger(x string) (string, bool) {
	head := x[0]
	digs := []byte(x[1:])

	borrow := true
	for i := len(digs) - 1; borrow && i >= 0; i-- {
		d := digitValue(digs[i]) - 1
		if d == -1 {
			digs[i] = base62Digits[len(base62Digits)-1]
		} else {
			digs[i] = base62Digits[d]
			borrow = false
		}
	}
	if !borrow {
		return string(head) + string(digs), true
	}

	switch head {
	case 'a':
		return "Z" + string(base62Digits[len(base62Digits)-1]), true
	case 'A':
		return "", false
	}
	h := head - 1
	if h < 'Z' {
		digs = append(digs, base62Digits[len(base62Digits)-1])
	} else {
		digs = digs[:len(digs)-1]
	}
	return string(h) + string(digs), true
}

// KeyBetween returns a key strictly between a and b.
// An empty a means "before everything", an empty b "after everything".
func KeyBetween(a, b string) (string, error) {
	if a != "" {
		if err := ValidateKey(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := ValidateKey(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", errInvalidOrderKey, a, b)
	}

	if a == "" {
		if b == "" {
			return integerZero, nil
		}
		ib, _ := integerPart(b)
		fb := b[len(ib):]
		if ib == smallestInteger {
			mid, err := midpoint("", fb)
			if err != nil {
				return "", err
			}
			return ib + mid, nil
		}
		if ib < b {
			return ib, nil
		}
		res, ok := decrementInteger(ib)
		if !ok {
			return "", fmt.Errorf("%w: cannot decrement %q", errInvalidOrderKey, ib)
		}
		return res, nil
	}

	ia, _ := integerPart(a)
	fa := a[len(ia):]

	if b == "" {
		i, ok := incrementInteger(ia)
		if ok {
			return i, nil
		}
		mid, err := midpoint(fa, "")
		if err != nil {
			return "", err
		}
		return ia + mid, nil
	}

	ib, _ := integerPart(b)
	fb := b[len(ib):]
	if ia == ib {
		mid, err := midpoint(fa, fb)
		if err != nil {
			return "", err
		}
		return ia + mid, nil
	}

	i, ok := incrementInteger(ia)
	if !ok {
		return "", fmt.Errorf("%w: cannot increment %q", errInvalidOrderKey, ia)
	}
	if i < b {
		return i, nil
	}
	mid, err := midpoint(fa, "")
	if err != nil {
		return "", err
	}
	return ia + mid, nil
}
