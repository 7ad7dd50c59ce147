package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const sessionFormatVersionCurrent = 1

const (
	flagActive = 1 << iota
	flagMFAVerified
	flagTrusted
	flagHasLocation
)

const maxFieldLen = math.MaxUint16

// Encode serializes s into the compact binary record stored in Redis.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	for _, field := range []string{
		s.ID,
		s.UserID,
		s.DeviceFingerprint,
		s.IPAddress,
		s.UserAgent,
		s.LoginMethod,
		string(s.State),
	} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	var flags byte
	if s.Active {
		flags |= flagActive
	}
	if s.MFAVerified {
		flags |= flagMFAVerified
	}
	if s.Trusted {
		flags |= flagTrusted
	}
	if s.Location != nil {
		flags |= flagHasLocation
	}
	buf.WriteByte(flags)

	if s.SecurityLevel < 0 || s.SecurityLevel > 100 {
		return nil, errors.New("security level out of range")
	}
	buf.WriteByte(byte(s.SecurityLevel))

	for _, ts := range []time.Time{s.CreatedAt, s.LastActivity, s.ExpiresAt, s.DeactivatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, unixNano(ts)); err != nil {
			return nil, err
		}
	}

	if s.Location != nil {
		for _, field := range []string{s.Location.Country, s.Location.Region, s.Location.City} {
			if err := writeString(&buf, field); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(&buf, binary.BigEndian, math.Float64bits(s.Location.Latitude)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, math.Float64bits(s.Location.Longitude)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	var state string
	for _, dst := range []*string{
		&s.ID,
		&s.UserID,
		&s.DeviceFingerprint,
		&s.IPAddress,
		&s.UserAgent,
		&s.LoginMethod,
		&state,
	} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	s.State = State(state)
	if !s.State.Valid() {
		return nil, errors.New("invalid session state")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Active = flags&flagActive != 0
	s.MFAVerified = flags&flagMFAVerified != 0
	s.Trusted = flags&flagTrusted != 0

	level, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if level > 100 {
		return nil, errors.New("security level out of range")
	}
	s.SecurityLevel = int(level)

	for _, dst := range []*time.Time{&s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.DeactivatedAt} {
		var n int64
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		*dst = fromUnixNano(n)
	}

	if flags&flagHasLocation != 0 {
		loc := &Location{}
		for _, dst := range []*string{&loc.Country, &loc.Region, &loc.City} {
			if *dst, err = readString(reader); err != nil {
				return nil, err
			}
		}
		var lat, lon uint64
		if err := binary.Read(reader, binary.BigEndian, &lat); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &lon); err != nil {
			return nil, err
		}
		loc.Latitude = math.Float64frombits(lat)
		loc.Longitude = math.Float64frombits(lon)
		s.Location = loc
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > maxFieldLen {
		return errors.New("session field too long")
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
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
