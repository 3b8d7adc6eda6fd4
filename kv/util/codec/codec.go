package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)

	storageIDLen    = 8
	writeVersionLen = 16
)

var pads = make([]byte, encGroupSize)

// EncodeLogKey builds the key a log record is persisted under. Keys sort first by storage id, then by user key
// (ascending), then by write version (ascending), so replaying a storage in key order visits every version of a key
// oldest first. The user key part uses the memcomparable format, see EncodeBytes.
func EncodeLogKey(storageID uint64, key []byte, major, minor uint64) []byte {
	buf := make([]byte, storageIDLen, storageIDLen+(len(key)/encGroupSize+1)*(encGroupSize+1)+writeVersionLen)
	binary.BigEndian.PutUint64(buf, storageID)
	buf = appendBytes(buf, key)
	return AppendWriteVersion(buf, major, minor)
}

// StoragePrefix returns the prefix shared by every log key of storageID.
func StoragePrefix(storageID uint64) []byte {
	buf := make([]byte, storageIDLen)
	binary.BigEndian.PutUint64(buf, storageID)
	return buf
}

// AppendWriteVersion appends a (major, minor) write version in ascending order.
func AppendWriteVersion(b []byte, major, minor uint64) []byte {
	var v [writeVersionLen]byte
	binary.BigEndian.PutUint64(v[:8], major)
	binary.BigEndian.PutUint64(v[8:], minor)
	return append(b, v[:]...)
}

// DecodeLogKey is the inverse of EncodeLogKey.
func DecodeLogKey(b []byte) (storageID uint64, key []byte, major, minor uint64, err error) {
	if len(b) < storageIDLen {
		return 0, nil, 0, 0, errors.New("insufficient bytes to decode storage id")
	}
	storageID = binary.BigEndian.Uint64(b)
	left, key, err := DecodeBytes(b[storageIDLen:])
	if err != nil {
		return 0, nil, 0, 0, errors.Trace(err)
	}
	if len(left) != writeVersionLen {
		return 0, nil, 0, 0, errors.Errorf("invalid write version length %d", len(left))
	}
	major = binary.BigEndian.Uint64(left[:8])
	minor = binary.BigEndian.Uint64(left[8:])
	return storageID, key, major, minor, nil
}

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//  [group1][marker1]...[groupN][markerN]
//  group is 8 bytes slice which is padding with 0.
//  marker is `0xFF - padding 0 count`
// For example:
//   [] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//   [1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
//   [1, 2, 3, 0] -> [1, 2, 3, 0, 0, 0, 0, 0, 251]
//   [1, 2, 3, 4, 5, 6, 7, 8] -> [1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247]
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(data []byte) []byte {
	return appendBytes(make([]byte, 0, (len(data)/encGroupSize+1)*(encGroupSize+1)), data)
}

func appendBytes(result, data []byte) []byte {
	dLen := len(data)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}

		marker := encMarker - byte(padCount)
		result = append(result, marker)
	}
	return result
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}

		groupBytes := b[:encGroupSize+1]

		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			var padByte = encPad
			// Check validity of padding bytes.
			for _, v := range group[realGroupSize:] {
				if v != padByte {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}
