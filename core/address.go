package core

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	tagBounceable    = 0x11
	tagNonBounceable = 0x51
	tagTestOnly      = 0x80
)

// ErrInvalidAddress is returned when an address fails to parse.
var ErrInvalidAddress = errors.New("invalid address")

// Address is an account address: a workchain and a 32 byte account hash.
type Address struct {
	Workchain int32
	Hash      [32]byte
}

// ParseAddress accepts the raw form (`wc:hex`) and the 48 character user
// friendly form in either base64 alphabet.
func ParseAddress(s string) (Address, error) {
	if strings.Contains(s, ":") {
		return parseRawAddress(s)
	}
	return parseFriendlyAddress(s)
}

func parseRawAddress(s string) (Address, error) {
	wcPart, hashPart, _ := strings.Cut(s, ":")
	wc, err := strconv.ParseInt(wcPart, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: workchain %q", ErrInvalidAddress, wcPart)
	}
	if len(hashPart) != 64 {
		return Address{}, fmt.Errorf("%w: hash must be 64 hex chars", ErrInvalidAddress)
	}
	raw, err := hex.DecodeString(hashPart)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	a := Address{Workchain: int32(wc)}
	copy(a.Hash[:], raw)
	return a, nil
}

func parseFriendlyAddress(s string) (Address, error) {
	if len(s) != 48 {
		return Address{}, fmt.Errorf("%w: expected 48 characters", ErrInvalidAddress)
	}
	enc := base64.URLEncoding
	if strings.ContainsAny(s, "+/") {
		enc = base64.StdEncoding
	}
	raw, err := enc.DecodeString(s)
	if err != nil || len(raw) != 36 {
		return Address{}, fmt.Errorf("%w: bad encoding", ErrInvalidAddress)
	}
	if crc16(raw[:34]) != binary.BigEndian.Uint16(raw[34:]) {
		return Address{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	tag := raw[0] &^ tagTestOnly
	if tag != tagBounceable && tag != tagNonBounceable {
		return Address{}, fmt.Errorf("%w: unknown tag %#x", ErrInvalidAddress, raw[0])
	}
	a := Address{Workchain: int32(int8(raw[1]))}
	copy(a.Hash[:], raw[2:34])
	return a, nil
}

// Raw renders the address as `wc:hex`.
func (a Address) Raw() string {
	return fmt.Sprintf("%d:%s", a.Workchain, hex.EncodeToString(a.Hash[:]))
}

// UserFriendly renders the address in the url safe user friendly form.
func (a Address) UserFriendly(bounceable, testOnly bool) string {
	var buf [36]byte
	buf[0] = tagNonBounceable
	if bounceable {
		buf[0] = tagBounceable
	}
	if testOnly {
		buf[0] |= tagTestOnly
	}
	buf[1] = byte(int8(a.Workchain))
	copy(buf[2:34], a.Hash[:])
	binary.BigEndian.PutUint16(buf[34:], crc16(buf[:34]))
	return base64.URLEncoding.EncodeToString(buf[:])
}

// Equal reports whether both addresses point at the same account.
func (a Address) Equal(b Address) bool {
	return a.Workchain == b.Workchain && a.Hash == b.Hash
}

// crc16 is CRC-16/XMODEM.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
