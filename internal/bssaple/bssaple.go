// Package bssaple defines the in-memory representation of BSSAP-LE /
// BSSMAP-LE / BSSLAP protocol data units exchanged over an Lb connection
// (3GPP TS 49.031, TS 48.071), and the Codec boundary between that
// representation and the wire. A real deployment wires in a
// 3GPP-conformant codec behind the same interface; DefaultCodec here is a
// deterministic stand-in good enough to exercise every field this module
// touches end to end.
package bssaple

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/osmocom-go/smlcd/internal/cellloc"
	"github.com/osmocom-go/smlcd/internal/gad"
)

// Discriminator distinguishes BSSMAP-LE messages from other BSSAP-LE
// payloads carried on the same SCCP connection.
type Discriminator uint8

const (
	DiscrBSSMAPLE Discriminator = 0
)

// MessageType enumerates the BSSMAP-LE message types this module produces
// or consumes (3GPP TS 49.031 §9.1).
type MessageType uint8

const (
	MsgTypeReset MessageType = iota + 1
	MsgTypeResetAck
	MsgTypePerformLocationRequest
	MsgTypePerformLocationResponse
	MsgTypePerformLocationAbort
	MsgTypeConnectionOrientedInfo
)

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case MsgTypeReset:
		return "RESET"
	case MsgTypeResetAck:
		return "RESET-ACK"
	case MsgTypePerformLocationRequest:
		return "PERFORM-LOCATION-REQUEST"
	case MsgTypePerformLocationResponse:
		return "PERFORM-LOCATION-RESPONSE"
	case MsgTypePerformLocationAbort:
		return "PERFORM-LOCATION-ABORT"
	case MsgTypeConnectionOrientedInfo:
		return "CONNECTION-ORIENTED-INFORMATION"
	default:
		return "UNKNOWN"
	}
}

// Cause is the BSSMAP-LE / LCS cause value carried in RESET and
// PERFORM-LOCATION-RESPONSE(failure) messages (3GPP TS 49.031 §9.3, TS
// 29.171 LCS Cause).
type Cause uint8

const (
	CauseEquipmentFailure Cause = 3
	CauseUnspecified      Cause = 0
	CauseSystemFailure    Cause = 52
	CauseRequestAborted   Cause = 54
	CauseFacilityNotSupp  Cause = 55
)

// BSSLAPType enumerates the BSSLAP APDU types carried inline within a
// CONNECTION-ORIENTED-INFORMATION message (3GPP TS 48.071 §3).
type BSSLAPType uint8

const (
	BSSLAPTypeTAReq BSSLAPType = iota + 1
	BSSLAPTypeTAResp
	BSSLAPTypeTALayer3
	BSSLAPTypeReset
	BSSLAPTypeAbort
	BSSLAPTypeReject
)

// BSSLAP is the decoded BSSLAP APDU carried inside a CONNECTION-ORIENTED-INFO
// message.
type BSSLAP struct {
	Type BSSLAPType
	// TA is valid for BSSLAPTypeTAResp and BSSLAPTypeTALayer3.
	TA uint8
	// CellID is valid for BSSLAPTypeTALayer3 (the cell the TA was measured
	// against).
	CellID cellloc.CellIdentifier
}

// PDU is the decoded form of a BSSAP-LE message: the discriminator plus the
// carried BSSMAP-LE message.
type PDU struct {
	Discr Discriminator
	BSSMAPLE
}

// BSSMAPLE is the decoded BSSMAP-LE message body. Exactly one of the typed
// fields is meaningful, selected by MsgType.
type BSSMAPLE struct {
	MsgType MessageType

	// Reset / ResetAck
	Cause Cause

	// PerformLocationRequest
	IMSI string

	// PerformLocationResponse
	Location      *cellloc.Location
	ResponseCause Cause // CauseUnspecified (0) on success

	// PerformLocationAbort
	AbortCause Cause

	// ConnectionOrientedInformation
	BSSLAP *BSSLAP
}

// Codec converts between the in-memory PDU representation and BSSAP-LE wire
// bytes. A production deployment wires in a real 3GPP codec here; the core
// engine in internal/lb only ever depends on this interface.
type Codec interface {
	DecodeBSSAPLE(wire []byte) (PDU, error)
	EncodeBSSAPLE(pdu PDU) ([]byte, error)
}

// ErrShortMessage indicates a wire buffer too short to contain a valid
// message header.
var ErrShortMessage = errors.New("bssaple: message too short")

// ErrUnknownMessageType indicates an unrecognized BSSMAP-LE message type
// octet.
var ErrUnknownMessageType = errors.New("bssaple: unknown message type")

// DefaultCodec is a deterministic, non-3GPP-bit-exact encoding sufficient to
// round-trip every field the engine in internal/lb produces or consumes.
// Layout: [discr][msg_type][payload...], with payload depending on msg_type.
type DefaultCodec struct{}

// EncodeBSSAPLE implements Codec.
func (DefaultCodec) EncodeBSSAPLE(pdu PDU) ([]byte, error) {
	buf := []byte{byte(pdu.Discr), byte(pdu.MsgType)}

	switch pdu.MsgType {
	case MsgTypeReset, MsgTypeResetAck:
		buf = append(buf, byte(pdu.Cause))

	case MsgTypePerformLocationRequest:
		buf = appendLV(buf, []byte(pdu.IMSI))

	case MsgTypePerformLocationResponse:
		buf = append(buf, byte(pdu.ResponseCause))
		if pdu.Location != nil {
			gadBytes := pdu.Location.ComposeGAD().Encode()
			buf = appendLV(buf, gadBytes)
		} else {
			buf = appendLV(buf, nil)
		}

	case MsgTypePerformLocationAbort:
		buf = append(buf, byte(pdu.AbortCause))

	case MsgTypeConnectionOrientedInfo:
		if pdu.BSSLAP == nil {
			return nil, fmt.Errorf("encode %s: %w", pdu.MsgType, errMissingBSSLAP)
		}
		buf = append(buf, encodeBSSLAP(*pdu.BSSLAP)...)

	default:
		return nil, fmt.Errorf("encode: %w: %d", ErrUnknownMessageType, pdu.MsgType)
	}

	return buf, nil
}

var errMissingBSSLAP = errors.New("bssaple: CONNECTION-ORIENTED-INFORMATION without BSSLAP body")

// DecodeBSSAPLE implements Codec.
func (DefaultCodec) DecodeBSSAPLE(wire []byte) (PDU, error) {
	if len(wire) < 2 {
		return PDU{}, ErrShortMessage
	}

	pdu := PDU{Discr: Discriminator(wire[0])}
	pdu.MsgType = MessageType(wire[1])
	rest := wire[2:]

	switch pdu.MsgType {
	case MsgTypeReset, MsgTypeResetAck:
		if len(rest) < 1 {
			return PDU{}, ErrShortMessage
		}
		pdu.Cause = Cause(rest[0])

	case MsgTypePerformLocationRequest:
		imsi, _, err := readLV(rest)
		if err != nil {
			return PDU{}, err
		}
		pdu.IMSI = string(imsi)

	case MsgTypePerformLocationResponse:
		if len(rest) < 1 {
			return PDU{}, ErrShortMessage
		}
		pdu.ResponseCause = Cause(rest[0])
		gadBytes, _, err := readLV(rest[1:])
		if err != nil {
			return PDU{}, err
		}
		if len(gadBytes) > 0 {
			p, err := gad.DecodeEllipsoidPointUncCircle(gadBytes)
			if err != nil {
				return PDU{}, err
			}
			lat := p.Latitude
			if p.LatitudeSign {
				lat = -lat
			}
			pdu.Location = &cellloc.Location{Latitude: lat, Longitude: p.Longitude, UncertaintyMeters: p.UncertaintyMeters}
		}

	case MsgTypePerformLocationAbort:
		if len(rest) < 1 {
			return PDU{}, ErrShortMessage
		}
		pdu.AbortCause = Cause(rest[0])

	case MsgTypeConnectionOrientedInfo:
		bssLAP, err := decodeBSSLAP(rest)
		if err != nil {
			return PDU{}, err
		}
		pdu.BSSLAP = &bssLAP

	default:
		return PDU{}, fmt.Errorf("decode: %w: %d", ErrUnknownMessageType, pdu.MsgType)
	}

	return pdu, nil
}

func appendLV(buf, v []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}

func readLV(buf []byte) (value []byte, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, ErrShortMessage
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n {
		return nil, nil, ErrShortMessage
	}
	return buf[:n], buf[n:], nil
}

func encodeBSSLAP(b BSSLAP) []byte {
	buf := []byte{byte(b.Type)}
	switch b.Type {
	case BSSLAPTypeTAResp:
		buf = append(buf, b.TA)
	case BSSLAPTypeTALayer3, BSSLAPTypeReset:
		// BSSLAPTypeReset (handover) carries a freshly measured TA against a
		// new cell, same layout as TA Layer3.
		buf = append(buf, b.TA)
		buf = append(buf, encodeCellID(b.CellID)...)
	}
	return buf
}

func decodeBSSLAP(buf []byte) (BSSLAP, error) {
	if len(buf) < 1 {
		return BSSLAP{}, ErrShortMessage
	}
	b := BSSLAP{Type: BSSLAPType(buf[0])}
	rest := buf[1:]

	switch b.Type {
	case BSSLAPTypeTAResp:
		if len(rest) < 1 {
			return BSSLAP{}, ErrShortMessage
		}
		b.TA = rest[0]
	case BSSLAPTypeTALayer3, BSSLAPTypeReset:
		if len(rest) < 1 {
			return BSSLAP{}, ErrShortMessage
		}
		b.TA = rest[0]
		cellID, err := decodeCellID(rest[1:])
		if err != nil {
			return BSSLAP{}, err
		}
		b.CellID = cellID
	}
	return b, nil
}

func encodeCellID(id cellloc.CellIdentifier) []byte {
	buf := []byte{byte(id.Discr)}
	var rest [8]byte
	binary.BigEndian.PutUint16(rest[0:2], id.MCC)
	binary.BigEndian.PutUint16(rest[2:4], id.MNC)
	binary.BigEndian.PutUint16(rest[4:6], id.LAC)
	binary.BigEndian.PutUint16(rest[6:8], id.CI)
	return append(buf, rest[:]...)
}

func decodeCellID(buf []byte) (cellloc.CellIdentifier, error) {
	if len(buf) < 9 {
		return cellloc.CellIdentifier{}, ErrShortMessage
	}
	return cellloc.CellIdentifier{
		Discr: cellloc.Discriminator(buf[0]),
		MCC:   binary.BigEndian.Uint16(buf[1:3]),
		MNC:   binary.BigEndian.Uint16(buf[3:5]),
		LAC:   binary.BigEndian.Uint16(buf[5:7]),
		CI:    binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}
