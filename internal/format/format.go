// Package format owns the on-disk envelope of a wallet store.
//
// Two envelopes exist, told apart by an 8-byte magic marker:
//
//	plain:     "WLTPLAIN" || mapping
//	encrypted: "WLTCRYPT" || version || kdf || cipher || iterations (u32 BE)
//	           || memory KiB (u32 BE) || threads || salt length || salt || sealed
//
// For the encrypted envelope everything before sealed is the header. The
// header is authenticated as AEAD additional data, so a modified header
// fails decryption just like a modified ciphertext.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/illarion/walletvault/internal/crypto"
)

const (
	MagicSize = 8
	Version   = 1

	// version, kdf, cipher, iterations, memory, threads, salt length
	fixedHeaderSize = 1 + 1 + 1 + 4 + 4 + 1 + 1
)

var (
	MagicPlain     = []byte("WLTPLAIN")
	MagicEncrypted = []byte("WLTCRYPT")
)

var (
	ErrUnrecognized = errors.New("unrecognized store format")
	ErrMalformed    = errors.New("malformed store envelope")
)

// Kind tells which envelope a byte sequence carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlain
	KindEncrypted
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindEncrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}

// Sniff inspects only the magic marker. Short or foreign input is
// KindUnknown.
func Sniff(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, MagicEncrypted):
		return KindEncrypted
	case bytes.HasPrefix(data, MagicPlain):
		return KindPlain
	default:
		return KindUnknown
	}
}

// Header describes how the payload of an encrypted envelope was sealed.
type Header struct {
	KDF    crypto.KDF
	Cipher crypto.Cipher
}

// Marshal returns the header bytes including the magic marker. The result
// is also the additional data for the AEAD.
func (h *Header) Marshal() ([]byte, error) {
	if len(h.KDF.Salt) > 0xff {
		return nil, fmt.Errorf("%w: salt too long", ErrMalformed)
	}

	out := make([]byte, 0, MagicSize+fixedHeaderSize+len(h.KDF.Salt))
	out = append(out, MagicEncrypted...)
	out = append(out, Version, byte(h.KDF.Algorithm), byte(h.Cipher))
	out = binary.BigEndian.AppendUint32(out, h.KDF.Iterations)
	out = binary.BigEndian.AppendUint32(out, h.KDF.Memory)
	out = append(out, h.KDF.Threads, byte(len(h.KDF.Salt)))
	out = append(out, h.KDF.Salt...)
	return out, nil
}

// Envelope is a parsed store file.
type Envelope struct {
	Kind Kind

	// Header and HeaderBytes are set for KindEncrypted only.
	Header      *Header
	HeaderBytes []byte

	// Payload is the mapping encoding for KindPlain and the sealed
	// nonce || ciphertext || tag for KindEncrypted.
	Payload []byte
}

// Parse splits data into its envelope parts. It never decrypts.
func Parse(data []byte) (*Envelope, error) {
	switch Sniff(data) {
	case KindPlain:
		return &Envelope{Kind: KindPlain, Payload: data[MagicSize:]}, nil
	case KindEncrypted:
		return parseEncrypted(data)
	default:
		return nil, ErrUnrecognized
	}
}

func parseEncrypted(data []byte) (*Envelope, error) {
	rest := data[MagicSize:]
	if len(rest) < fixedHeaderSize {
		return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
	}
	if rest[0] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, rest[0])
	}

	h := &Header{
		KDF: crypto.KDF{
			KDFParams: crypto.KDFParams{
				Algorithm:  crypto.KDFAlgorithm(rest[1]),
				Iterations: binary.BigEndian.Uint32(rest[3:7]),
				Memory:     binary.BigEndian.Uint32(rest[7:11]),
				Threads:    rest[11],
			},
		},
		Cipher: crypto.Cipher(rest[2]),
	}
	saltLen := int(rest[12])
	rest = rest[fixedHeaderSize:]

	if saltLen < crypto.MinSaltSize || saltLen > crypto.MaxSaltSize || len(rest) < saltLen {
		return nil, fmt.Errorf("%w: bad salt length %d", ErrMalformed, saltLen)
	}
	h.KDF.Salt = append([]byte(nil), rest[:saltLen]...)
	rest = rest[saltLen:]

	if err := h.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	nonceSize := h.Cipher.NonceSize()
	if nonceSize == 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, crypto.ErrUnsupportedCipher)
	}
	if len(rest) < nonceSize+crypto.TagSize {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrMalformed)
	}

	headerLen := len(data) - len(rest)
	return &Envelope{
		Kind:        KindEncrypted,
		Header:      h,
		HeaderBytes: data[:headerLen],
		Payload:     rest,
	}, nil
}

// EncodePlain frames an encoded mapping as a plain envelope.
func EncodePlain(payload []byte) []byte {
	out := make([]byte, 0, MagicSize+len(payload))
	out = append(out, MagicPlain...)
	return append(out, payload...)
}

// EncodeEncrypted joins header bytes from Header.Marshal with the sealed
// payload.
func EncodeEncrypted(headerBytes, sealed []byte) []byte {
	out := make([]byte, 0, len(headerBytes)+len(sealed))
	out = append(out, headerBytes...)
	return append(out, sealed...)
}
