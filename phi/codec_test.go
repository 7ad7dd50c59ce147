package phi

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(testKey, opts...)
	require.NoError(t, err)
	return c
}

// flipHexAt swaps the hex digit at i for a different lowercase digit so the
// envelope stays well formed.
func flipHexAt(s string, i int) string {
	repl := byte('0')
	if s[i] == '0' {
		repl = '1'
	}
	return s[:i] + string(repl) + s[i+1:]
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCodec(t)

	ct, err := c.Encrypt("555-12-3456")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "v1:"))
	assert.Equal(t, strings.ToLower(ct), ct)

	parts := strings.Split(ct, ":")
	require.Len(t, parts, 4)
	assert.Len(t, parts[1], ivSize*2)
	assert.Len(t, parts[2], tagSize*2)

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "555-12-3456", pt)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptBlankReturnsEmpty(t *testing.T) {
	c := newTestCodec(t)

	for _, in := range []string{"", "   ", "\t\n"} {
		out, err := c.Encrypt(in)
		require.NoError(t, err)
		assert.Empty(t, out)
	}

	out, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecryptFormatErrors(t *testing.T) {
	c := newTestCodec(t)
	valid, err := c.Encrypt("hello")
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	cases := map[string]string{
		"garbage":        "not-a-ciphertext",
		"three fields":   strings.Join(parts[:3], ":"),
		"five fields":    valid + ":00",
		"missing v":      "1:" + strings.Join(parts[1:], ":"),
		"uppercase hex":  parts[0] + ":" + strings.ToUpper(parts[1]) + ":" + parts[2] + ":" + parts[3],
		"short iv":       parts[0] + ":" + parts[1][:22] + ":" + parts[2] + ":" + parts[3],
		"short tag":      parts[0] + ":" + parts[1] + ":" + parts[2][:30] + ":" + parts[3],
		"odd hex length": parts[0] + ":" + parts[1] + ":" + parts[2] + ":" + parts[3] + "a",
		"empty body":     parts[0] + ":" + parts[1] + ":" + parts[2] + ":",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := c.Decrypt(in)
			assert.ErrorIs(t, err, ErrFormat)
			assert.Empty(t, out)
		})
	}
}

func TestDecryptVersionMismatchIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	v1 := newTestCodec(t)
	v2 := newTestCodec(t, WithVersion(2), WithLogger(zap.New(core)))

	ct, err := v1.Encrypt("hello")
	require.NoError(t, err)

	_, err = v2.Decrypt(ct)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	require.Equal(t, 1, logs.FilterField(zap.String("reason", "version_mismatch")).Len())
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	c := newTestCodec(t)
	ct, err := c.Encrypt("diagnosis: F41.1")
	require.NoError(t, err)

	fields := map[int]string{1: "iv", 2: "tag", 3: "body"}
	for idx, name := range fields {
		for pos := range len(strings.Split(ct, ":")[idx]) {
			parts := strings.Split(ct, ":")
			parts[idx] = flipHexAt(parts[idx], pos)
			out, err := c.Decrypt(strings.Join(parts, ":"))
			if !assert.ErrorIs(t, err, ErrIntegrity, "%s digit %d", name, pos) {
				return
			}
			if !assert.Empty(t, out, "%s digit %d", name, pos) {
				return
			}
		}
	}
}

func TestDecryptRejectsAnyByteChange(t *testing.T) {
	c := newTestCodec(t)
	ct, err := c.Encrypt("mrn 0042")
	require.NoError(t, err)

	for i := range len(ct) {
		b := []byte(ct)
		b[i] ^= 0x01
		out, err := c.Decrypt(string(b))
		if !assert.Error(t, err, "byte %d", i) {
			return
		}
		if !assert.Empty(t, out, "byte %d", i) {
			return
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	c := newTestCodec(t)
	other, err := GenerateKey()
	require.NoError(t, err)
	wrong, err := NewCodec(other)
	require.NoError(t, err)

	ct, err := c.Encrypt("hello")
	require.NoError(t, err)
	_, err = wrong.Decrypt(ct)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestNewCodecRejectsBadKeys(t *testing.T) {
	for name, key := range map[string]string{
		"empty":   "",
		"short":   testKey[:62],
		"long":    testKey + "00",
		"not hex": strings.Repeat("zz", 32),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewCodec(key)
			assert.ErrorIs(t, err, ErrKeyConfiguration)
		})
	}

	_, err := NewCodecFromKey(make([]byte, 16))
	assert.ErrorIs(t, err, ErrKeyConfiguration)
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv("PHIGUARD_TEST_KEY", testKey)
	key, err := KeyFromEnv("PHIGUARD_TEST_KEY")
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = KeyFromEnv("PHIGUARD_TEST_KEY_MISSING")
	assert.True(t, errors.Is(err, ErrKeyConfiguration))
}

func TestSearchHashNormalizes(t *testing.T) {
	c := newTestCodec(t)

	a := c.SearchHash("  Jane.Doe@Example.com ")
	b := c.SearchHash("jane.doe@example.com")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, c.SearchHash("john.doe@example.com"))
	assert.Empty(t, c.SearchHash("   "))

	other, err := GenerateKey()
	require.NoError(t, err)
	c2, err := NewCodec(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c2.SearchHash("jane.doe@example.com"))
}

func TestNullableHelpers(t *testing.T) {
	c := newTestCodec(t)

	out, err := c.EncryptNullable(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	blank := "  "
	out, err = c.EncryptNullable(&blank)
	require.NoError(t, err)
	assert.Nil(t, out)

	value := "allergic to penicillin"
	ct, err := c.EncryptNullable(&value)
	require.NoError(t, err)
	require.NotNil(t, ct)

	pt, err := c.DecryptNullable(ct)
	require.NoError(t, err)
	require.NotNil(t, pt)
	assert.Equal(t, value, *pt)

	bad := "v1:bad"
	pt, err = c.DecryptNullable(&bad)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Nil(t, pt)
}

func TestProtect(t *testing.T) {
	c := newTestCodec(t)

	p, err := c.Protect("Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, c.SearchHash("jane@example.com"), p.SearchHash)

	pt, err := c.Decrypt(p.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "Jane@Example.com", pt)
}
