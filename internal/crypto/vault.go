package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"

	"github.com/Youssef-f/Docsecure-backend/internal/errs"
)

// Key and IV sizes for AES-256-CBC. A fresh key/IV pair is generated per
// document and never reused; the pair is fixed for the document's lifetime.
const (
	KeyLen = 32
	IVLen  = 16
)

// GenerateKey returns a fresh 256-bit content key.
func GenerateKey() ([]byte, error) { return RandBytes(KeyLen) }

// GenerateIV returns a fresh 128-bit initialization vector.
func GenerateIV() ([]byte, error) { return RandBytes(IVLen) }

// EncryptBytes encrypts plaintext under a freshly generated key/IV pair using
// AES-256-CBC with PKCS#7 padding, returning ciphertext, key, and IV.
func EncryptBytes(plaintext []byte) (ciphertext, key, iv []byte, err error) {
	key, err = GenerateKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: generate key: %v", errs.ErrCrypto, err)
	}
	iv, err = GenerateIV()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: generate iv: %v", errs.ErrCrypto, err)
	}
	ciphertext, err = EncryptWith(plaintext, key, iv)
	if err != nil {
		return nil, nil, nil, err
	}
	return ciphertext, key, iv, nil
}

// EncryptWith encrypts plaintext under the given key/IV.
func EncryptWith(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %v", errs.ErrCrypto, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: bad iv length %d", errs.ErrCrypto, len(iv))
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptBytes decrypts AES-256-CBC ciphertext and strips PKCS#7 padding.
// Garbage input (wrong key, wrong IV, truncation) fails padding validation
// and surfaces as a crypto failure.
func DecryptBytes(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %v", errs.ErrCrypto, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: bad iv length %d", errs.ErrCrypto, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", errs.ErrCrypto)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length", errs.ErrCrypto)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", errs.ErrCrypto)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", errs.ErrCrypto)
		}
	}
	return b[:len(b)-n], nil
}

// PlainFile is an ephemeral decrypted copy on disk. Close removes the backing
// file; callers must Close on every exit path.
type PlainFile struct {
	f    *os.File
	path string
}

// Read implements io.Reader over the decrypted content.
func (p *PlainFile) Read(b []byte) (int, error) { return p.f.Read(b) }

// Close closes and deletes the ephemeral file.
func (p *PlainFile) Close() error {
	cerr := p.f.Close()
	rerr := os.Remove(p.path)
	if cerr != nil {
		return cerr
	}
	return rerr
}

var _ io.ReadCloser = (*PlainFile)(nil)

// OpenDecrypted decrypts ciphertext into a short-lived file under dir and
// returns a reader that deletes the file on Close. On any failure no plaintext
// is left behind.
func OpenDecrypted(dir string, ciphertext, key, iv []byte) (*PlainFile, error) {
	plain, err := DecryptBytes(ciphertext, key, iv)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "decrypted-*")
	if err != nil {
		return nil, fmt.Errorf("%w: temp file: %v", errs.ErrCrypto, err)
	}
	if _, err := f.Write(plain); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: write plaintext: %v", errs.ErrCrypto, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: seek: %v", errs.ErrCrypto, err)
	}
	return &PlainFile{f: f, path: f.Name()}, nil
}
