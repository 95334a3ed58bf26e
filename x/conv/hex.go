package conv

const hexd = "0123456789ABCDEF"

// HexDigit returns the value of one ASCII hex digit (either case).
// Anything else yields 0; callers that need strictness check IsHex first.
func HexDigit(b byte) uint8 {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	}
	return 0
}

// IsHex reports whether b is an ASCII hex digit.
func IsHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// AppendHex appends n as uppercase hex using the minimal number of digits
// (a single "0" for zero).
func AppendHex(dst []byte, n uint32) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var tmp [8]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexd[n&0xF]
		n >>= 4
	}
	return append(dst, tmp[i:]...)
}

// AppendHexByte appends b as exactly two uppercase hex digits.
func AppendHexByte(dst []byte, b byte) []byte {
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

// AppendHexNibble appends the low four bits of b as one hex digit.
func AppendHexNibble(dst []byte, b byte) []byte {
	return append(dst, hexd[b&0xF])
}
