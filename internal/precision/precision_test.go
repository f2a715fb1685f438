package precision

import (
	"strings"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

const (
	piDigits    = "3.14159265358979323846264338327950288419716939937510582097494459"
	eDigits     = "2.71828182845904523536028747135266249775724709369995957496696762"
	eulerDigits = "0.57721566490153286060651209008240243104215933593992359880576723"
)

// agrees checks that got matches the reference to all but the last digit.
func agrees(t *testing.T, ref string, got *apd.Decimal, digits int) {
	t.Helper()
	want, _, err := apd.NewFromString(ref)
	require.NoError(t, err)
	diff := new(apd.Decimal)
	_, err = apd.BaseContext.WithPrecision(100).Sub(diff, want, got)
	require.NoError(t, err)
	diff.Negative = false
	assert.Negative(t, diff.Cmp(apd.New(1, -int32(digits-2))), "got %s want %s", got, ref)
}

func TestNewRejectsLowPrecision(t *testing.T) {
	_, err := New(10)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	c, err := New(MinDigits)
	require.NoError(t, err)
	assert.Equal(t, uint32(MinDigits), c.Digits())
}

func TestConstants(t *testing.T) {
	for _, digits := range []uint32{30, 50} {
		c := MustNew(digits)
		agrees(t, piDigits, c.Pi(), int(digits))
		agrees(t, eDigits, c.E(), int(digits))
		agrees(t, eulerDigits, c.Euler(), int(digits))
	}
}

func TestConstantsAreCopies(t *testing.T) {
	c := MustNew(40)
	p := c.Pi()
	p.Negative = true
	assert.True(t, strings.HasPrefix(c.Pi().String(), "3.14159"))
}

func TestTie(t *testing.T) {
	c := MustNew(50)
	assert.Equal(t, 0, c.Tie().Cmp(apd.New(1, -42)))
}

func TestCalcLatchesFirstError(t *testing.T) {
	calc := MustNew(30).Calc()
	zero := Int(0)
	q := calc.Quo(Int(1), zero)
	require.Error(t, calc.Err())
	first := calc.Err()

	calc.Add(q, Int(1))
	assert.Equal(t, first, calc.Err())
}

func TestCalcMin(t *testing.T) {
	calc := MustNew(30).Calc()
	assert.Equal(t, 0, calc.Min(Int(2), Int(3)).Cmp(Int(2)))
	assert.Equal(t, 0, calc.Min(Int(5), Int(3)).Cmp(Int(3)))
	require.NoError(t, calc.Err())
}

func TestParseAndFloat(t *testing.T) {
	d, err := Parse("14.134725141734693790")
	require.NoError(t, err)
	assert.Equal(t, "14.134725141734693790", d.String())
	assert.InDelta(t, 14.134725141734694, Float64(d), 1e-15)

	_, err = Parse("not-a-number")
	require.Error(t, err)

	f, err := Float(1e-6)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Cmp(apd.New(1, -6)))
}
