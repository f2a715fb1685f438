package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	sqlite, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		BackendMemory: NewMemory(),
		BackendLocal:  local,
		BackendSQLite: sqlite,
	}
}

func TestBackends(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "zeros/negative/3")
			require.ErrorIs(t, err, ErrNotFound)
			assert.True(t, IsNotFound(err))

			require.NoError(t, s.Put(ctx, "zeros/negative/3", []byte("8.0397")))
			require.NoError(t, s.Put(ctx, "zeros/negative/4", []byte("6.0209")))
			require.NoError(t, s.Put(ctx, "zeros/positive/5", []byte("6.6485")))

			got, err := s.Get(ctx, "zeros/negative/3")
			require.NoError(t, err)
			assert.Equal(t, []byte("8.0397"), got)

			require.NoError(t, s.Put(ctx, "zeros/negative/3", []byte("8.0397\n11.2492")))
			got, err = s.Get(ctx, "zeros/negative/3")
			require.NoError(t, err)
			assert.Equal(t, []byte("8.0397\n11.2492"), got)

			require.NoError(t, s.Delete(ctx, "zeros/negative/3"))
			require.NoError(t, s.Delete(ctx, "zeros/negative/3"))
			_, err = s.Get(ctx, "zeros/negative/3")
			require.ErrorIs(t, err, ErrNotFound)
			got, err = s.Get(ctx, "zeros/negative/4")
			require.NoError(t, err)
			assert.Equal(t, []byte("6.0209"), got)

			require.Error(t, s.Put(ctx, "../escape", []byte("x")))
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", data))
	data[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	got[1] = 'y'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("14.134725141734693790457251983562\n"), 200)
	tiny := []byte("7")

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			for _, data := range [][]byte{compressible, tiny, {}} {
				env, err := encode(data, c)
				require.NoError(t, err)
				back, err := decode(env)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(back))
				assert.True(t, bytes.Equal(data, back))
			}

			env, err := encode(compressible, c)
			require.NoError(t, err)
			if c == CompressionNone {
				assert.Equal(t, headerSize+len(compressible), len(env))
			} else {
				assert.Less(t, len(env), len(compressible)/2)
				assert.Equal(t, byte(c), env[5])
			}
		})
	}
}

func TestEnvelopeDetectsCorruption(t *testing.T) {
	data := bytes.Repeat([]byte("0.5 1.5\n"), 100)
	for _, c := range []Compression{CompressionNone, CompressionZSTD} {
		env, err := encode(data, c)
		require.NoError(t, err)

		flipped := append([]byte(nil), env...)
		flipped[len(flipped)-1] ^= 0xff
		_, err = decode(flipped)
		require.ErrorIs(t, err, errs.ErrMalformedData, c.String())

		_, err = decode(env[:len(env)-1])
		require.ErrorIs(t, err, errs.ErrMalformedData, c.String())
	}

	_, err := decode([]byte("plain text, no header at all"))
	require.ErrorIs(t, err, errs.ErrMalformedData)
}

func TestEncodedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	s := NewEncoded(inner, CompressionZSTD)

	data := bytes.Repeat([]byte("21.022039638771554992628479593897\n"), 50)
	require.NoError(t, s.Put(ctx, "zeros/positive/1", data))

	raw, err := inner.Get(ctx, "zeros/positive/1")
	require.NoError(t, err)
	assert.Equal(t, envelopeMagic, string(raw[:4]))

	got, err := s.Get(ctx, "zeros/positive/1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A reader configured with another codec still decodes the entry.
	other := NewEncoded(inner, CompressionLZ4)
	got, err = other.Get(ctx, "zeros/positive/1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, inner.Put(ctx, "zeros/positive/5", []byte("garbage")))
	_, err = s.Get(ctx, "zeros/positive/5")
	require.ErrorIs(t, err, errs.ErrMalformedData)

	_, err = s.Get(ctx, "zeros/positive/8")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{BackendMemory, BackendLocal, BackendSQLite} {
		s, err := Open(Options{Backend: backend, Dir: t.TempDir(), Compression: CompressionLZ4})
		require.NoError(t, err, backend)
		require.NoError(t, s.Put(ctx, "lambda/K100/P50", []byte("100 50\n2 0.69")))
		got, err := s.Get(ctx, "lambda/K100/P50")
		require.NoError(t, err)
		assert.Equal(t, "100 50\n2 0.69", string(got))
		require.NoError(t, s.Close())
	}

	_, err := Open(Options{Backend: "s3"})
	require.Error(t, err)
	_, err = Open(Options{Backend: BackendLocal})
	require.Error(t, err)
}

func TestSQLitePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "chi/negative/4/K20", []byte("-4 20\n+0-0+0-0+0-0+0-0+0-0")))
	require.NoError(t, s.Close())

	s, err = NewSQLite(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "chi/negative/4/K20")
	require.NoError(t, err)
	assert.Contains(t, string(got), "+0-0")
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}
