// Package pdu implements the DICOM upper layer: PDU encoding, presentation
// context negotiation and the association state machine.
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
)

// PDU types.
const (
	TypeAssociateRQ byte = 0x01
	TypeAssociateAC byte = 0x02
	TypeAssociateRJ byte = 0x03
	TypePDataTF     byte = 0x04
	TypeReleaseRQ   byte = 0x05
	TypeReleaseRP   byte = 0x06
	TypeAbort       byte = 0x07
)

const (
	// HeaderLength is the type, reserved byte and 4 byte length.
	HeaderLength = 6
	// DefaultMaxPDULength is used when the peer does not announce a limit.
	DefaultMaxPDULength uint32 = 16384
	// ProtocolVersion is the only upper layer protocol version.
	ProtocolVersion uint16 = 0x0001

	associateFixedLength = 68
)

// TypeName returns the service primitive name of a PDU type.
func TypeName(t byte) string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	}
	return fmt.Sprintf("PDU(0x%02x)", t)
}

// PDU is one of the seven protocol data units.
type PDU interface {
	Type() byte
	encodeBody() ([]byte, error)
}

// AssociateRQ proposes an association.
type AssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextRQ
	UserInfo             UserInformation
}

// AssociateAC accepts an association.
type AssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextAC
	UserInfo             UserInformation
}

// AssociateRJ rejects an association.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

// PDataTF carries presentation data values.
type PDataTF struct {
	Items []PDV
}

// PDV is one presentation data value.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// ReleaseRQ requests an orderly release.
type ReleaseRQ struct{}

// ReleaseRP confirms a release.
type ReleaseRP struct{}

// Abort tears down the association.
type Abort struct {
	Source byte
	Reason byte
}

// Abort sources and reasons.
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02

	AbortReasonNotSpecified          byte = 0x00
	AbortReasonUnrecognizedPDU       byte = 0x01
	AbortReasonUnexpectedPDU         byte = 0x02
	AbortReasonUnrecognizedParameter byte = 0x04
	AbortReasonUnexpectedParameter   byte = 0x05
	AbortReasonInvalidParameterValue byte = 0x06
)

func (*AssociateRQ) Type() byte { return TypeAssociateRQ }
func (*AssociateAC) Type() byte { return TypeAssociateAC }
func (*AssociateRJ) Type() byte { return TypeAssociateRJ }
func (*PDataTF) Type() byte     { return TypePDataTF }
func (*ReleaseRQ) Type() byte   { return TypeReleaseRQ }
func (*ReleaseRP) Type() byte   { return TypeReleaseRP }
func (*Abort) Type() byte       { return TypeAbort }

// Encode serialises p including its 6 byte header.
func Encode(p PDU) ([]byte, error) {
	body, err := p.encodeBody()
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderLength, HeaderLength+len(body))
	out[0] = p.Type()
	binary.BigEndian.PutUint32(out[2:], uint32(len(body)))
	return append(out, body...), nil
}

// Decode parses the body of a PDU of the given type.
func Decode(pduType byte, body []byte) (PDU, error) {
	switch pduType {
	case TypeAssociateRQ:
		return decodeAssociateRQ(body)
	case TypeAssociateAC:
		return decodeAssociateAC(body)
	case TypeAssociateRJ:
		if len(body) != 4 {
			return nil, invalid(pduType, "A-ASSOCIATE-RJ body is %d bytes, want 4", len(body))
		}
		return &AssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
	case TypePDataTF:
		return decodePDataTF(body)
	case TypeReleaseRQ:
		if len(body) != 4 {
			return nil, invalid(pduType, "A-RELEASE-RQ body is %d bytes, want 4", len(body))
		}
		return &ReleaseRQ{}, nil
	case TypeReleaseRP:
		if len(body) != 4 {
			return nil, invalid(pduType, "A-RELEASE-RP body is %d bytes, want 4", len(body))
		}
		return &ReleaseRP{}, nil
	case TypeAbort:
		if len(body) != 4 {
			return nil, invalid(pduType, "A-ABORT body is %d bytes, want 4", len(body))
		}
		return &Abort{Source: body[2], Reason: body[3]}, nil
	}
	return nil, invalid(pduType, "unknown PDU type")
}

func invalid(pduType byte, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", dicomerrors.ErrInvalidPDU, TypeName(pduType), fmt.Sprintf(format, args...))
}

// ReadPDU reads one PDU. A declared length above maxLength (when non-zero) is
// rejected before the body is read.
func ReadPDU(r io.Reader, maxLength uint32) (PDU, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[2:])
	if maxLength > 0 && length > maxLength {
		return nil, invalid(header[0], "declared length %d exceeds limit %d", length, maxLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(header[0], body)
}

// WritePDU encodes p and writes it in one call.
func WritePDU(w io.Writer, p PDU) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (p *AssociateRQ) encodeBody() ([]byte, error) {
	items := appendItem(nil, itemApplicationContext, []byte(p.appContext()))
	for _, pc := range p.PresentationContexts {
		var sub []byte
		sub = appendItem(sub, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			sub = appendItem(sub, itemTransferSyntax, []byte(ts))
		}
		items = appendItem(items, itemPresentationContextRQ, append([]byte{pc.ID, 0, 0, 0}, sub...))
	}
	items = appendItem(items, itemUserInformation, p.UserInfo.encode())
	return encodeAssociate(p.ProtocolVersion, p.CalledAETitle, p.CallingAETitle, items)
}

func (p *AssociateRQ) appContext() string {
	return defaultApplicationContext(p.ApplicationContext)
}

func (p *AssociateAC) encodeBody() ([]byte, error) {
	items := appendItem(nil, itemApplicationContext, []byte(defaultApplicationContext(p.ApplicationContext)))
	for _, pc := range p.PresentationContexts {
		var sub []byte
		// Only accepted contexts carry a transfer syntax sub-item.
		if pc.Result == ResultAcceptance {
			sub = appendItem(sub, itemTransferSyntax, []byte(pc.TransferSyntax))
		}
		items = appendItem(items, itemPresentationContextAC, append([]byte{pc.ID, 0, pc.Result, 0}, sub...))
	}
	items = appendItem(items, itemUserInformation, p.UserInfo.encode())
	return encodeAssociate(p.ProtocolVersion, p.CalledAETitle, p.CallingAETitle, items)
}

func encodeAssociate(version uint16, called, calling string, items []byte) ([]byte, error) {
	if version == 0 {
		version = ProtocolVersion
	}
	calledField, err := encodeAETitle(called)
	if err != nil {
		return nil, err
	}
	callingField, err := encodeAETitle(calling)
	if err != nil {
		return nil, err
	}
	body := make([]byte, associateFixedLength, associateFixedLength+len(items))
	binary.BigEndian.PutUint16(body[0:], version)
	copy(body[4:20], calledField)
	copy(body[20:36], callingField)
	return append(body, items...), nil
}

func (p *AssociateRJ) encodeBody() ([]byte, error) {
	return []byte{0, p.Result, p.Source, p.Reason}, nil
}

func (p *PDataTF) encodeBody() ([]byte, error) {
	size := 0
	for _, v := range p.Items {
		size += 6 + len(v.Data)
	}
	out := make([]byte, 0, size)
	for _, v := range p.Items {
		out = binary.BigEndian.AppendUint32(out, uint32(2+len(v.Data)))
		out = append(out, v.ContextID, v.controlHeader())
		out = append(out, v.Data...)
	}
	return out, nil
}

func (v PDV) controlHeader() byte {
	var h byte
	if v.Command {
		h |= 0x01
	}
	if v.Last {
		h |= 0x02
	}
	return h
}

func (*ReleaseRQ) encodeBody() ([]byte, error) { return make([]byte, 4), nil }
func (*ReleaseRP) encodeBody() ([]byte, error) { return make([]byte, 4), nil }

func (p *Abort) encodeBody() ([]byte, error) {
	return []byte{0, 0, p.Source, p.Reason}, nil
}

func decodePDataTF(body []byte) (*PDataTF, error) {
	p := &PDataTF{}
	for off := 0; off < len(body); {
		if len(body)-off < 4 {
			return nil, invalid(TypePDataTF, "truncated PDV length at %d", off)
		}
		n := int(binary.BigEndian.Uint32(body[off:]))
		off += 4
		if n < 2 || n > len(body)-off {
			return nil, invalid(TypePDataTF, "PDV length %d inconsistent with %d remaining bytes", n, len(body)-off)
		}
		ctrl := body[off+1]
		p.Items = append(p.Items, PDV{
			ContextID: body[off],
			Command:   ctrl&0x01 != 0,
			Last:      ctrl&0x02 != 0,
			Data:      body[off+2 : off+n],
		})
		off += n
	}
	if len(p.Items) == 0 {
		return nil, invalid(TypePDataTF, "no presentation data values")
	}
	return p, nil
}

type associateFields struct {
	version uint16
	called  string
	calling string
	items   []item
}

func decodeAssociateFixed(pduType byte, body []byte) (*associateFields, error) {
	if len(body) < associateFixedLength {
		return nil, invalid(pduType, "body is %d bytes, shorter than the fixed fields", len(body))
	}
	items, err := parseItems(body[associateFixedLength:])
	if err != nil {
		return nil, invalid(pduType, "%v", err)
	}
	return &associateFields{
		version: binary.BigEndian.Uint16(body[0:]),
		called:  decodeAETitle(body[4:20]),
		calling: decodeAETitle(body[20:36]),
		items:   items,
	}, nil
}

func decodeAssociateRQ(body []byte) (*AssociateRQ, error) {
	f, err := decodeAssociateFixed(TypeAssociateRQ, body)
	if err != nil {
		return nil, err
	}
	rq := &AssociateRQ{ProtocolVersion: f.version, CalledAETitle: f.called, CallingAETitle: f.calling}
	for _, it := range f.items {
		switch it.typ {
		case itemApplicationContext:
			rq.ApplicationContext = trimUID(it.value)
		case itemPresentationContextRQ:
			pc, err := decodePresentationContextRQ(it.value)
			if err != nil {
				return nil, invalid(TypeAssociateRQ, "%v", err)
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			if rq.UserInfo, err = decodeUserInformation(it.value); err != nil {
				return nil, invalid(TypeAssociateRQ, "%v", err)
			}
		}
	}
	return rq, nil
}

func decodeAssociateAC(body []byte) (*AssociateAC, error) {
	f, err := decodeAssociateFixed(TypeAssociateAC, body)
	if err != nil {
		return nil, err
	}
	ac := &AssociateAC{ProtocolVersion: f.version, CalledAETitle: f.called, CallingAETitle: f.calling}
	for _, it := range f.items {
		switch it.typ {
		case itemApplicationContext:
			ac.ApplicationContext = trimUID(it.value)
		case itemPresentationContextAC:
			pc, err := decodePresentationContextAC(it.value)
			if err != nil {
				return nil, invalid(TypeAssociateAC, "%v", err)
			}
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case itemUserInformation:
			if ac.UserInfo, err = decodeUserInformation(it.value); err != nil {
				return nil, invalid(TypeAssociateAC, "%v", err)
			}
		}
	}
	return ac, nil
}
