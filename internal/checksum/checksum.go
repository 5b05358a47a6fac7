package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/yuya-takeyama/sumcompare/internal/errors"
)

const bufferSize = 64 * 1024 // 64KB buffer

// Algorithm names a content digest. The zero value is not a valid algorithm.
type Algorithm string

const (
	XXHash32 Algorithm = "xxhash32"
	XXHash64 Algorithm = "xxhash64"
	MD5      Algorithm = "md5"
	SHA1     Algorithm = "sha1"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = XXHash64

// Algorithms lists every supported algorithm in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{XXHash32, XXHash64, MD5, SHA1}
}

// ParseAlgorithm resolves a case-insensitive algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, a := range Algorithms() {
		if string(a) == n {
			return a, nil
		}
	}
	return "", errors.Newf(errors.ErrUnknownAlgorithm, "unknown digest type %q", name).
		WithDetail("supported", Algorithms())
}

// New returns a fresh hasher. Every call yields an independent instance, so
// each worker hashes with its own state.
func (a Algorithm) New() hash.Hash {
	switch a {
	case XXHash32:
		return xxhash.New32()
	case XXHash64:
		return xxhash.New64()
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	}
	panic(fmt.Sprintf("checksum: unsupported algorithm %q", string(a)))
}

// Size is the digest width in bytes.
func (a Algorithm) Size() int {
	switch a {
	case XXHash32:
		return 4
	case XXHash64:
		return 8
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	}
	return 0
}

func (a Algorithm) String() string {
	return string(a)
}

// Fingerprint is the raw digest of a file's content. It is held as a string
// so that it can be used directly as a map key; equality is byte-exact.
type Fingerprint string

// Hex renders the fingerprint as lowercase hexadecimal.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString([]byte(f))
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// Len is the number of raw digest bytes.
func (f Fingerprint) Len() int {
	return len(f)
}

// ParseHex decodes a hex-rendered fingerprint.
func ParseHex(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode fingerprint: %w", err)
	}
	return Fingerprint(b), nil
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// GetBuffer borrows a 64KB buffer. Return it with PutBuffer.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

// CalculateFile fingerprints the file at path and returns the number of bytes read.
func CalculateFile(alg Algorithm, path string) (Fingerprint, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return Calculate(alg, file)
}

// Calculate fingerprints everything read from r.
func Calculate(alg Algorithm, r io.Reader) (Fingerprint, int64, error) {
	h := alg.New()
	buf := GetBuffer()
	defer PutBuffer(buf)

	n, err := io.CopyBuffer(h, struct{ io.Reader }{r}, *buf)
	if err != nil {
		return "", n, fmt.Errorf("read: %w", err)
	}
	return Fingerprint(h.Sum(nil)), n, nil
}

// TeeReader fingerprints data as it is read through it.
type TeeReader struct {
	reader      io.Reader
	hash        hash.Hash
	fingerprint Fingerprint
	done        bool
}

// NewTeeReader wraps r so that every byte read is also hashed with alg.
func NewTeeReader(r io.Reader, alg Algorithm) *TeeReader {
	return &TeeReader{
		reader: r,
		hash:   alg.New(),
	}
}

// Read implements io.Reader
func (t *TeeReader) Read(p []byte) (n int, err error) {
	n, err = t.reader.Read(p)
	if n > 0 {
		if _, werr := t.hash.Write(p[:n]); werr != nil {
			return n, werr
		}
	}
	if err == io.EOF {
		t.done = true
		t.fingerprint = Fingerprint(t.hash.Sum(nil))
	}
	return n, err
}

// Fingerprint returns the digest of everything read (only valid after EOF)
func (t *TeeReader) Fingerprint() (Fingerprint, error) {
	if !t.done {
		return "", fmt.Errorf("fingerprint not yet calculated (read not complete)")
	}
	return t.fingerprint, nil
}
