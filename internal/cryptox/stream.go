package cryptox

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/filex"
)

// Stream layout:
//
//	header: magic "FVLT" | version (1 byte)
//	frame:  length (uint32 BE) | nonce (12) | AES-GCM ciphertext+tag
//
// Each frame is sealed with AAD = header | frame index (uint64 BE) | last flag,
// so reordered, dropped or truncated frames fail to open.
const (
	streamVersion byte = 1

	// DefaultChunkSize is the plaintext size of every frame but the last.
	DefaultChunkSize = 1 << 20

	// maxChunkSize bounds frame allocation when reading untrusted input.
	maxChunkSize = 64 << 20
)

var streamMagic = [4]byte{'F', 'V', 'L', 'T'}

var errMalformedStream = errors.New("malformed encrypted stream")

// Engine encrypts and decrypts with one session key. It is safe for
// concurrent use.
type Engine struct {
	aead      cipher.AEAD
	chunkSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the plaintext frame size.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= maxChunkSize {
			e.chunkSize = n
		}
	}
}

// NewEngine builds an AES-256-GCM engine for key.
func NewEngine(key []byte, opts ...Option) (*Engine, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	e := &Engine{aead: aead, chunkSize: DefaultChunkSize}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func header() []byte {
	h := make([]byte, 0, len(streamMagic)+1)
	h = append(h, streamMagic[:]...)
	return append(h, streamVersion)
}

func frameAAD(hdr []byte, index uint64, last bool) []byte {
	aad := make([]byte, len(hdr)+9)
	copy(aad, hdr)
	binary.BigEndian.PutUint64(aad[len(hdr):], index)
	if last {
		aad[len(aad)-1] = 1
	}
	return aad
}

// EncryptStream reads src to EOF and writes the framed ciphertext to dst.
// Memory use is bounded by the chunk size.
func (e *Engine) EncryptStream(dst io.Writer, src io.Reader) error {
	hdr := header()
	if _, err := dst.Write(hdr); err != nil {
		return err
	}

	br := bufio.NewReaderSize(src, e.chunkSize)
	buf := make([]byte, e.chunkSize)
	out := make([]byte, 0, 4+e.aead.NonceSize()+e.chunkSize+e.aead.Overhead())

	for index := uint64(0); ; index++ {
		n, err := io.ReadFull(br, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return err
		default:
			if _, perr := br.Peek(1); errors.Is(perr, io.EOF) {
				last = true
			} else if perr != nil {
				return perr
			}
		}

		nonce := out[4 : 4+e.aead.NonceSize()]
		if _, err := rand.Read(nonce); err != nil {
			return err
		}
		sealed := e.aead.Seal(out[:4+len(nonce)], nonce, buf[:n], frameAAD(hdr, index, last))
		binary.BigEndian.PutUint32(sealed[:4], uint32(len(sealed)-4))

		if _, err := dst.Write(sealed); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// DecryptStream is the inverse of EncryptStream. Any framing or
// authentication failure is reported as common.ErrInvalidPassword; a wrong
// key and corrupt data are indistinguishable. Plaintext of frames that
// authenticated before the failure may already have been written to dst.
func (e *Engine) DecryptStream(dst io.Writer, src io.Reader) error {
	hdr := make([]byte, len(streamMagic)+1)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return invalid(err)
	}
	if !bytes.Equal(hdr, header()) {
		return invalid(errMalformedStream)
	}

	br := bufio.NewReader(src)
	var lenBuf [4]byte
	frame := make([]byte, 0, e.aead.NonceSize()+e.chunkSize+e.aead.Overhead())
	maxFrame := e.aead.NonceSize() + maxChunkSize + e.aead.Overhead()

	for index := uint64(0); ; index++ {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			// EOF here means the last frame never arrived.
			return invalid(err)
		}
		size := int(binary.BigEndian.Uint32(lenBuf[:]))
		if size < e.aead.NonceSize()+e.aead.Overhead() || size > maxFrame {
			return invalid(errMalformedStream)
		}
		if cap(frame) < size {
			frame = make([]byte, 0, size)
		}
		frame = frame[:size]
		if _, err := io.ReadFull(br, frame); err != nil {
			return invalid(err)
		}

		// The frame is last iff the input ends right after it; a truncated or
		// extended stream therefore fails authentication.
		_, perr := br.Peek(1)
		last := errors.Is(perr, io.EOF)
		if perr != nil && !last {
			return invalid(perr)
		}

		nonce, ciphertext := frame[:e.aead.NonceSize()], frame[e.aead.NonceSize():]
		plain, err := e.aead.Open(ciphertext[:0], nonce, ciphertext, frameAAD(hdr, index, last))
		if err != nil {
			return invalid(err)
		}

		if _, err := dst.Write(plain); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func invalid(cause error) error {
	return fmt.Errorf("%w: %v", common.ErrInvalidPassword, cause)
}

// EncryptFile encrypts inPath into outPath. outPath is replaced only after
// the whole ciphertext has been written.
func (e *Engine) EncryptFile(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	return filex.WriteAtomic(outPath, func(w io.Writer) error {
		return e.EncryptStream(w, in)
	})
}

// DecryptFile decrypts inPath into outPath with the same replace-on-success
// guarantee as EncryptFile.
func (e *Engine) DecryptFile(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	return filex.WriteAtomic(outPath, func(w io.Writer) error {
		return e.DecryptStream(w, in)
	})
}

// EncryptDocument serializes v to JSON and encrypts it into dst.
func (e *Engine) EncryptDocument(dst io.Writer, v any) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.EncryptStream(dst, bytes.NewReader(plaintext))
}

// DecryptDocument decrypts src and unmarshals the JSON into v. Both a failed
// decryption and unparsable plaintext yield common.ErrInvalidPassword.
func (e *Engine) DecryptDocument(src io.Reader, v any) error {
	var buf bytes.Buffer
	if err := e.DecryptStream(&buf, src); err != nil {
		return err
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		return invalid(err)
	}
	return nil
}
