// Package arith builds the arithmetic arrays consumed by the explicit-formula
// bounds: the von Mangoldt weights Λ(k), the quadratic character χ_d(k), and
// the fundamental-discriminant predicate that gates which d are verified.
package arith

// IsSquareFree reports whether no prime square divides |n|. 1 is square-free,
// 0 is not.
func IsSquareFree(n int64) bool {
	if n < 0 {
		n = -n
	}
	if n == 0 || n == 1 {
		return n == 1
	}
	if n%4 == 0 {
		return false
	}
	for p := int64(2); p*p <= n; {
		if n%(p*p) == 0 {
			return false
		}
		if p == 2 {
			p++
		} else {
			p += 2
		}
	}
	return true
}

// IsFundamental reports whether d is a fundamental discriminant: d ≡ 1 mod 4
// with |d| square-free, or d ≡ 0 mod 4 with d/4 square-free and
// d/4 ≡ 2, 3 mod 4.
func IsFundamental(d int64) bool {
	if d == 0 {
		return false
	}
	switch mod(d, 4) {
	case 1:
		return IsSquareFree(d)
	case 0:
		q := d / 4
		r := mod(q, 4)
		return IsSquareFree(q) && (r == 2 || r == 3)
	default:
		return false
	}
}

// Sign names the cache and artifact namespace of d.
func Sign(d int64) string {
	if d > 0 {
		return "positive"
	}
	return "negative"
}
