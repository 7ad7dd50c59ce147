package phi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	ivSize  = 12
	tagSize = 16

	// DefaultVersion is the key version stamped on ciphertexts when none is configured.
	DefaultVersion = 1

	searchKeyInfo = "phiguard/search-hash/v1"
)

var envelopePattern = regexp.MustCompile(`^v([0-9]+):([0-9a-f]+):([0-9a-f]+):([0-9a-f]+)$`)

// Codec encrypts and decrypts individual PHI fields with AES-256-GCM.
//
// A Codec is immutable after construction and safe for concurrent use.
// Ciphertexts have the form
//
//	v<version>:<iv-hex>:<tag-hex>:<ciphertext-hex>
//
// with a fresh 12-byte IV per call and a 16-byte authentication tag.
type Codec struct {
	aead      cipher.AEAD
	version   int
	searchKey []byte
	logger    *zap.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithVersion sets the key version written into and required from ciphertexts.
func WithVersion(version int) Option {
	return func(c *Codec) {
		if version > 0 {
			c.version = version
		}
	}
}

// WithLogger sets the logger used to report decryption failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCodec builds a Codec from a 64-character hex master key.
// Any problem with the key is reported as ErrKeyConfiguration.
func NewCodec(hexKey string, opts ...Option) (*Codec, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewCodecFromKey(key, opts...)
}

// NewCodecFromKey builds a Codec from a raw 32-byte master key.
func NewCodecFromKey(key []byte, opts ...Option) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeyConfiguration, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfiguration, err)
	}

	searchKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(searchKeyInfo)), searchKey); err != nil {
		return nil, fmt.Errorf("%w: derive search key: %v", ErrKeyConfiguration, err)
	}

	c := &Codec{
		aead:      aead,
		version:   DefaultVersion,
		searchKey: searchKey,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Version returns the key version this codec writes and accepts.
func (c *Codec) Version() int {
	return c.version
}

// Encrypt returns the envelope for plaintext. Empty or whitespace-only input
// yields "" and no error, meaning no value is stored.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", nil
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("phi: generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	var b strings.Builder
	b.Grow(8 + 2*(ivSize+tagSize+len(body)))
	b.WriteByte('v')
	b.WriteString(strconv.Itoa(c.version))
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(iv))
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(tag))
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(body))
	return b.String(), nil
}

// Decrypt reverses Encrypt. An empty input yields "" and no error.
// Failures are ErrFormat, ErrVersionMismatch or ErrIntegrity and never
// return partial plaintext.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if strings.TrimSpace(ciphertext) == "" {
		return "", nil
	}

	m := envelopePattern.FindStringSubmatch(ciphertext)
	if m == nil {
		c.logger.Warn("phi decrypt rejected", zap.String("reason", "format"))
		return "", ErrFormat
	}

	version, err := strconv.Atoi(m[1])
	if err != nil {
		c.logger.Warn("phi decrypt rejected", zap.String("reason", "format"))
		return "", ErrFormat
	}

	iv, errIV := hex.DecodeString(m[2])
	tag, errTag := hex.DecodeString(m[3])
	body, errBody := hex.DecodeString(m[4])
	if errIV != nil || errTag != nil || errBody != nil || len(iv) != ivSize || len(tag) != tagSize {
		c.logger.Warn("phi decrypt rejected", zap.String("reason", "format"))
		return "", ErrFormat
	}

	if version != c.version {
		c.logger.Warn("phi decrypt rejected",
			zap.String("reason", "version_mismatch"),
			zap.Int("expected_version", c.version),
			zap.Int("actual_version", version),
		)
		return "", fmt.Errorf("%w: expected v%d, got v%d", ErrVersionMismatch, c.version, version)
	}

	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		c.logger.Error("phi decrypt rejected", zap.String("reason", "integrity"))
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// EncryptNullable encrypts an optional value. nil and blank values map to nil.
func (c *Codec) EncryptNullable(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*plaintext)
	if err != nil || out == "" {
		return nil, err
	}
	return &out, nil
}

// DecryptNullable decrypts an optional value. nil and blank values map to nil.
func (c *Codec) DecryptNullable(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*ciphertext)
	if err != nil || strings.TrimSpace(*ciphertext) == "" {
		return nil, err
	}
	return &out, nil
}

// SearchHash returns a deterministic lookup digest for plaintext. Input is
// trimmed and lowercased first, so "Jane@Example.com " and "jane@example.com"
// hash identically. Blank input yields "".
func (c *Codec) SearchHash(plaintext string) string {
	normalized := Normalize(plaintext)
	if normalized == "" {
		return ""
	}
	mac := hmac.New(sha256.New, c.searchKey)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// Normalize applies the search-hash normalization.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Protected is the stored pair for a searchable encrypted field.
type Protected struct {
	Ciphertext string `json:"ciphertext,omitempty"`
	SearchHash string `json:"search_hash,omitempty"`
}

// Protect encrypts plaintext and computes its search hash in one call.
func (c *Codec) Protect(plaintext string) (Protected, error) {
	ct, err := c.Encrypt(plaintext)
	if err != nil {
		return Protected{}, err
	}
	return Protected{Ciphertext: ct, SearchHash: c.SearchHash(plaintext)}, nil
}
