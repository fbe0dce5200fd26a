package cryptopipe

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var compressionCodes = map[string]byte{"zstd": 1, "lz4": 2, "snappy": 3}
var compressionNames = map[byte]string{1: "zstd", 2: "lz4", 3: "snappy"}

var encryptionCodes = map[string]byte{"aes256gcm": 1, "chacha20poly1305": 2}
var encryptionNames = map[byte]string{1: "aes256gcm", 2: "chacha20poly1305"}

var digestCodes = map[string]byte{"sha256": 1, "blake3": 2}
var digestNames = map[byte]string{1: "sha256", 2: "blake3"}

// nonceSize is fixed at 12 bytes: both AES-GCM and ChaCha20-Poly1305 use a
// 96-bit nonce, so one base-nonce layout serves both ciphers.
const nonceSize = 12

// ErrEnvelopeCorrupt is returned when a framed envelope fails to parse or a
// chunk fails authentication — the file was truncated, tampered with, or
// encrypted under different algorithms/key than are being used to open it.
var ErrEnvelopeCorrupt = errors.New("cryptopipe: envelope corrupt or tampered")

// Result carries what Encrypt/Decrypt learn about the plaintext that the
// caller needs for cataloguing and verification.
type Result struct {
	OriginalName string
	Digest       string // hex, algorithm per Pipeline.algo.Digest
}

// Encrypt reads plaintext from r, named originalName, and writes the full
// envelope (header + compressed + encrypted framed chunks) to w. Streams in
// chunkSize-sized windows regardless of input size (spec §4.6).
func (p *Pipeline) Encrypt(w io.Writer, r io.Reader, originalName string) (Result, error) {
	aead, err := newAEAD(p.algo.Encryption, p.key)
	if err != nil {
		return Result{}, err
	}

	digest, err := newDigest(p.algo.Digest)
	if err != nil {
		return Result{}, err
	}

	var baseNonce [nonceSize]byte
	if _, err := rand.Read(baseNonce[:]); err != nil {
		return Result{}, fmt.Errorf("cryptopipe: generating nonce: %w", err)
	}

	if err := writeHeader(w, p.algo, baseNonce, originalName); err != nil {
		return Result{}, err
	}

	pr, pw := io.Pipe()

	cw, err := compressWriter(p.algo.Compression, pw)
	if err != nil {
		pw.Close() //nolint:errcheck

		return Result{}, err
	}

	errCh := make(chan error, 1)

	go func() {
		tr := io.TeeReader(r, digest)

		_, copyErr := io.Copy(cw, tr)
		closeErr := cw.Close()
		pw.CloseWithError(firstNonNil(copyErr, closeErr)) //nolint:errcheck
		errCh <- firstNonNil(copyErr, closeErr)
	}()

	enc := &chunkEncoder{w: w, aead: aead, baseNonce: baseNonce}
	if err := enc.encodeAll(pr); err != nil {
		<-errCh

		return Result{}, err
	}

	if err := <-errCh; err != nil {
		return Result{}, fmt.Errorf("cryptopipe: compressing plaintext: %w", err)
	}

	return Result{OriginalName: originalName, Digest: hexSum(digest)}, nil
}

// Decrypt authenticates and decrypts every framed chunk and decompresses
// the result, returning the original name recorded in the header plus the
// plaintext's content digest. The plaintext itself only feeds the digest;
// nothing is written to w. DecryptTo writes the plaintext out.
func (p *Pipeline) Decrypt(w io.Writer, r io.Reader) (Result, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return Result{}, err
	}

	if hdr.compression != p.algo.Compression || hdr.encryption != p.algo.Encryption {
		return Result{}, fmt.Errorf("%w: envelope algorithms %s/%s do not match pipeline %s/%s",
			ErrEnvelopeCorrupt, hdr.compression, hdr.encryption, p.algo.Compression, p.algo.Encryption)
	}

	aead, err := newAEAD(p.algo.Encryption, p.key)
	if err != nil {
		return Result{}, err
	}

	digest, err := newDigest(p.algo.Digest)
	if err != nil {
		return Result{}, err
	}

	dec := &chunkDecoder{r: r, aead: aead, baseNonce: hdr.nonce}

	dr, err := decompressReader(p.algo.Compression, dec)
	if err != nil {
		return Result{}, err
	}
	defer dr.Close()

	if _, err := io.Copy(digest, dr); err != nil {
		return Result{}, fmt.Errorf("cryptopipe: decompressing envelope: %w", err)
	}

	return Result{OriginalName: hdr.name, Digest: hexSum(digest)}, nil
}

// DecryptTo is like Decrypt but writes decompressed plaintext to w directly
// (Decrypt above discards it into the digest only — callers that need the
// bytes use this instead).
func (p *Pipeline) DecryptTo(w io.Writer, r io.Reader) (Result, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return Result{}, err
	}

	if hdr.compression != p.algo.Compression || hdr.encryption != p.algo.Encryption {
		return Result{}, fmt.Errorf("%w: envelope algorithms %s/%s do not match pipeline %s/%s",
			ErrEnvelopeCorrupt, hdr.compression, hdr.encryption, p.algo.Compression, p.algo.Encryption)
	}

	aead, err := newAEAD(p.algo.Encryption, p.key)
	if err != nil {
		return Result{}, err
	}

	digest, err := newDigest(p.algo.Digest)
	if err != nil {
		return Result{}, err
	}

	dec := &chunkDecoder{r: r, aead: aead, baseNonce: hdr.nonce}

	dr, err := decompressReader(p.algo.Compression, dec)
	if err != nil {
		return Result{}, err
	}
	defer dr.Close()

	mw := io.MultiWriter(w, digest)
	if _, err := io.Copy(mw, dr); err != nil {
		return Result{}, fmt.Errorf("cryptopipe: decompressing envelope: %w", err)
	}

	return Result{OriginalName: hdr.name, Digest: hexSum(digest)}, nil
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

type envelopeHeader struct {
	compression string
	encryption  string
	digest      string
	nonce       [nonceSize]byte
	name        string
}

func writeHeader(w io.Writer, algo Algorithms, nonce [nonceSize]byte, name string) error {
	buf := make([]byte, 0, len(envelopeMagic)+3+nonceSize+2+len(name))
	buf = append(buf, envelopeMagic[:]...)
	buf = append(buf, compressionCodes[algo.Compression], encryptionCodes[algo.Encryption], digestCodes[algo.Digest])
	buf = append(buf, nonce[:]...)

	nameBytes := []byte(name)
	if len(nameBytes) > 0xFFFF {
		return fmt.Errorf("cryptopipe: original name too long (%d bytes)", len(nameBytes))
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(nameBytes)))
	buf = append(buf, nameBytes...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("cryptopipe: writing envelope header: %w", err)
	}

	return nil
}

func readHeader(r io.Reader) (envelopeHeader, error) {
	var hdr envelopeHeader

	fixed := make([]byte, len(envelopeMagic)+3+nonceSize+2)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return hdr, fmt.Errorf("%w: reading header: %v", ErrEnvelopeCorrupt, err)
	}

	for i := range envelopeMagic {
		if fixed[i] != envelopeMagic[i] {
			return hdr, fmt.Errorf("%w: bad magic", ErrEnvelopeCorrupt)
		}
	}

	off := len(envelopeMagic)

	compression, ok := compressionNames[fixed[off]]
	if !ok {
		return hdr, fmt.Errorf("%w: unknown compression code %d", ErrEnvelopeCorrupt, fixed[off])
	}

	encryption, ok := encryptionNames[fixed[off+1]]
	if !ok {
		return hdr, fmt.Errorf("%w: unknown encryption code %d", ErrEnvelopeCorrupt, fixed[off+1])
	}

	digestName, ok := digestNames[fixed[off+2]]
	if !ok {
		return hdr, fmt.Errorf("%w: unknown digest code %d", ErrEnvelopeCorrupt, fixed[off+2])
	}

	off += 3

	var nonce [nonceSize]byte
	copy(nonce[:], fixed[off:off+nonceSize])
	off += nonceSize

	nameLen := binary.BigEndian.Uint16(fixed[off : off+2])

	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return hdr, fmt.Errorf("%w: reading name: %v", ErrEnvelopeCorrupt, err)
	}

	hdr.compression = compression
	hdr.encryption = encryption
	hdr.digest = digestName
	hdr.nonce = nonce
	hdr.name = string(nameBytes)

	return hdr, nil
}

// chunkEncoder seals chunkSize-sized plaintext windows from a reader into
// length-prefixed AEAD frames. The nonce for chunk i is the base nonce with
// a big-endian chunk counter XORed into its low 8 bytes; the last chunk
// additionally carries an authenticated "final" marker in its associated
// data so truncation can't pass as a clean end-of-file (see package doc).
type chunkEncoder struct {
	w         io.Writer
	aead      cipher.AEAD
	baseNonce [nonceSize]byte
}

func (e *chunkEncoder) encodeAll(r io.Reader) error {
	cur := make([]byte, chunkSize)

	curN, curErr := io.ReadFull(r, cur)
	if curErr != nil && !errors.Is(curErr, io.ErrUnexpectedEOF) && !errors.Is(curErr, io.EOF) {
		return fmt.Errorf("cryptopipe: reading plaintext: %w", curErr)
	}

	var index uint64

	for {
		next := make([]byte, chunkSize)

		nextN, nextErr := io.ReadFull(r, next)
		if nextErr != nil && !errors.Is(nextErr, io.ErrUnexpectedEOF) && !errors.Is(nextErr, io.EOF) {
			return fmt.Errorf("cryptopipe: reading plaintext: %w", nextErr)
		}

		isLast := nextN == 0 && nextErr != nil

		if err := e.encodeChunk(cur[:curN], index, isLast); err != nil {
			return err
		}

		if isLast {
			return nil
		}

		index++
		cur, curN, curErr = next, nextN, nextErr
	}
}

func (e *chunkEncoder) encodeChunk(plaintext []byte, index uint64, isLast bool) error {
	nonce := deriveNonce(e.baseNonce, index)
	aad := chunkAAD(index, isLast)

	ciphertext := e.aead.Seal(nil, nonce[:], plaintext, aad)

	frame := make([]byte, 4, 4+len(ciphertext))
	binary.BigEndian.PutUint32(frame, uint32(len(ciphertext)))
	frame = append(frame, ciphertext...)

	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("cryptopipe: writing chunk %d: %w", index, err)
	}

	return nil
}

// chunkDecoder implements io.Reader, decrypting one chunk at a time and
// serving decompressed-layer readers plaintext transparently. It always
// reads one frame ahead so it knows whether the frame it's about to
// authenticate is the stream's last before verifying its AAD.
type chunkDecoder struct {
	r         io.Reader
	aead      cipher.AEAD
	baseNonce [nonceSize]byte

	index   uint64
	pending []byte // decoded plaintext not yet consumed by Read
	lookRaw []byte // raw ciphertext of the frame read one ahead, nil once consumed
	lookErr error
	done    bool
	started bool
}

func (d *chunkDecoder) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.done {
			return 0, io.EOF
		}

		if err := d.advance(); err != nil {
			return 0, err
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]

	return n, nil
}

func (d *chunkDecoder) advance() error {
	if !d.started {
		d.started = true

		raw, err := readFrame(d.r)

		d.lookRaw, d.lookErr = raw, err
	}

	curRaw, curErr := d.lookRaw, d.lookErr

	nextRaw, nextErr := readFrame(d.r)
	d.lookRaw, d.lookErr = nextRaw, nextErr

	isLast := errors.Is(nextErr, io.EOF)

	if curErr != nil && !errors.Is(curErr, io.EOF) {
		return fmt.Errorf("%w: %v", ErrEnvelopeCorrupt, curErr)
	}

	if curErr != nil {
		d.done = true

		return io.EOF
	}

	nonce := deriveNonce(d.baseNonce, d.index)
	aad := chunkAAD(d.index, isLast)

	plaintext, err := d.aead.Open(nil, nonce[:], curRaw, aad)
	if err != nil {
		return fmt.Errorf("%w: chunk %d authentication failed: %v", ErrEnvelopeCorrupt, d.index, err)
	}

	d.index++
	d.pending = plaintext

	if isLast {
		d.done = true
	}

	if !isLast && nextErr != nil {
		return fmt.Errorf("%w: %v", ErrEnvelopeCorrupt, nextErr)
	}

	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("reading frame length: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	return buf, nil
}

func deriveNonce(base [nonceSize]byte, index uint64) [nonceSize]byte {
	nonce := base

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)

	for i := 0; i < 8; i++ {
		nonce[nonceSize-8+i] ^= idx[i]
	}

	return nonce
}

func chunkAAD(index uint64, isLast bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)

	if isLast {
		aad[8] = 1
	}

	return aad
}
