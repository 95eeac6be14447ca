package tokenstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// CurrentSchemaVersion is the version written by Encode.
	CurrentSchemaVersion uint8 = 2

	snapshotFormatVersionV1 uint8 = 1

	flagAuthenticated = 1 << 0
)

var errFieldTooLong = errors.New("snapshot field too long")

// Encode serializes s at CurrentSchemaVersion.
//
// Layout: version, kind, flags, four uint16-prefixed strings (access, refresh, uid,
// token type), uint32 expire seconds, int64 acquired-at unix seconds.
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)
	buf.WriteByte(s.Kind)

	var flags byte
	if s.Authenticated {
		flags |= flagAuthenticated
	}
	buf.WriteByte(flags)

	for _, field := range []string{s.AccessToken, s.RefreshToken, s.UID, s.TokenType} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	secs := s.Expire / time.Second
	if secs < 0 || secs > math.MaxUint32 {
		return nil, errors.New("snapshot expire out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(secs)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.AcquiredAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by any supported schema version. Version 1 blobs predate the
// token type field and decode with TokenType "Bearer".
func Decode(data []byte) (*Snapshot, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != snapshotFormatVersionV1 {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", version)
	}

	s := &Snapshot{SchemaVersion: version}

	if s.Kind, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Authenticated = flags&flagAuthenticated != 0

	if s.AccessToken, err = readString(reader); err != nil {
		return nil, err
	}
	if s.RefreshToken, err = readString(reader); err != nil {
		return nil, err
	}
	if s.UID, err = readString(reader); err != nil {
		return nil, err
	}
	if version == CurrentSchemaVersion {
		if s.TokenType, err = readString(reader); err != nil {
			return nil, err
		}
	} else {
		s.TokenType = "Bearer"
	}

	var secs uint32
	if err := binary.Read(reader, binary.BigEndian, &secs); err != nil {
		return nil, err
	}
	s.Expire = time.Duration(secs) * time.Second

	if err := binary.Read(reader, binary.BigEndian, &s.AcquiredAt); err != nil {
		return nil, err
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint16 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
