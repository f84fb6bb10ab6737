package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Variable item types.
const (
	itemApplicationContext    byte = 0x10
	itemPresentationContextRQ byte = 0x20
	itemPresentationContextAC byte = 0x21
	itemAbstractSyntax        byte = 0x30
	itemTransferSyntax        byte = 0x40
	itemUserInformation       byte = 0x50
	itemMaxLength             byte = 0x51
	itemImplementationClass   byte = 0x52
	itemAsyncOperations       byte = 0x53
	itemRoleSelection         byte = 0x54
	itemImplementationVersion byte = 0x55
)

// Presentation context results.
const (
	ResultAcceptance                 byte = 0
	ResultUserRejection              byte = 1
	ResultNoReason                   byte = 2
	ResultAbstractSyntaxNotSupported byte = 3
	ResultTransferSyntaxNotSupported byte = 4
)

// ResultName describes a presentation context result code.
func ResultName(r byte) string {
	switch r {
	case ResultAcceptance:
		return "acceptance"
	case ResultUserRejection:
		return "user-rejection"
	case ResultNoReason:
		return "no-reason"
	case ResultAbstractSyntaxNotSupported:
		return "abstract-syntax-not-supported"
	case ResultTransferSyntaxNotSupported:
		return "transfer-syntaxes-not-supported"
	}
	return fmt.Sprintf("result(%d)", r)
}

// PresentationContextRQ is a proposed context.
type PresentationContextRQ struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContextAC is the acceptor's answer to one proposed context.
type PresentationContextAC struct {
	ID             byte
	Result         byte
	TransferSyntax string
}

// RoleSelection is an SCP/SCU role selection sub-item.
type RoleSelection struct {
	SOPClassUID string
	SCURole     bool
	SCPRole     bool
}

// UserInformation carries the user information sub-items.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
	// MaxOpsInvoked and MaxOpsPerformed are only sent when AsyncOperations is set.
	AsyncOperations bool
	MaxOpsInvoked   uint16
	MaxOpsPerformed uint16
	RoleSelections  []RoleSelection
}

type item struct {
	typ   byte
	value []byte
}

func appendItem(dst []byte, typ byte, value []byte) []byte {
	dst = append(dst, typ, 0)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(value)))
	return append(dst, value...)
}

func parseItems(data []byte) ([]item, error) {
	var items []item
	for off := 0; off < len(data); {
		if len(data)-off < 4 {
			return nil, fmt.Errorf("truncated item header at %d", off)
		}
		typ := data[off]
		n := int(binary.BigEndian.Uint16(data[off+2:]))
		off += 4
		if n > len(data)-off {
			return nil, fmt.Errorf("item 0x%02x length %d exceeds %d remaining bytes", typ, n, len(data)-off)
		}
		items = append(items, item{typ: typ, value: data[off : off+n]})
		off += n
	}
	return items, nil
}

func decodePresentationContextRQ(data []byte) (PresentationContextRQ, error) {
	if len(data) < 4 {
		return PresentationContextRQ{}, fmt.Errorf("presentation context item too short")
	}
	pc := PresentationContextRQ{ID: data[0]}
	subs, err := parseItems(data[4:])
	if err != nil {
		return pc, err
	}
	for _, s := range subs {
		switch s.typ {
		case itemAbstractSyntax:
			pc.AbstractSyntax = trimUID(s.value)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, trimUID(s.value))
		}
	}
	if pc.AbstractSyntax == "" {
		return pc, fmt.Errorf("presentation context %d has no abstract syntax", pc.ID)
	}
	return pc, nil
}

func decodePresentationContextAC(data []byte) (PresentationContextAC, error) {
	if len(data) < 4 {
		return PresentationContextAC{}, fmt.Errorf("presentation context item too short")
	}
	pc := PresentationContextAC{ID: data[0], Result: data[2]}
	subs, err := parseItems(data[4:])
	if err != nil {
		return pc, err
	}
	for _, s := range subs {
		if s.typ == itemTransferSyntax {
			pc.TransferSyntax = trimUID(s.value)
		}
	}
	return pc, nil
}

func (u UserInformation) encode() []byte {
	maxLen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLen, u.MaxPDULength)
	out := appendItem(nil, itemMaxLength, maxLen)
	classUID := u.ImplementationClassUID
	if classUID == "" {
		classUID = dicom.ImplementationClassUIDValue
	}
	out = appendItem(out, itemImplementationClass, []byte(classUID))
	if u.AsyncOperations {
		var v [4]byte
		binary.BigEndian.PutUint16(v[0:], u.MaxOpsInvoked)
		binary.BigEndian.PutUint16(v[2:], u.MaxOpsPerformed)
		out = appendItem(out, itemAsyncOperations, v[:])
	}
	for _, rs := range u.RoleSelections {
		v := binary.BigEndian.AppendUint16(nil, uint16(len(rs.SOPClassUID)))
		v = append(v, rs.SOPClassUID...)
		v = append(v, boolByte(rs.SCURole), boolByte(rs.SCPRole))
		out = appendItem(out, itemRoleSelection, v)
	}
	if u.ImplementationVersionName != "" {
		out = appendItem(out, itemImplementationVersion, []byte(u.ImplementationVersionName))
	}
	return out
}

func decodeUserInformation(data []byte) (UserInformation, error) {
	var u UserInformation
	subs, err := parseItems(data)
	if err != nil {
		return u, err
	}
	for _, s := range subs {
		switch s.typ {
		case itemMaxLength:
			if len(s.value) != 4 {
				return u, fmt.Errorf("maximum length sub-item is %d bytes", len(s.value))
			}
			u.MaxPDULength = binary.BigEndian.Uint32(s.value)
		case itemImplementationClass:
			u.ImplementationClassUID = trimUID(s.value)
		case itemImplementationVersion:
			u.ImplementationVersionName = strings.TrimRight(string(s.value), " \x00")
		case itemAsyncOperations:
			if len(s.value) != 4 {
				return u, fmt.Errorf("asynchronous operations sub-item is %d bytes", len(s.value))
			}
			u.AsyncOperations = true
			u.MaxOpsInvoked = binary.BigEndian.Uint16(s.value[0:])
			u.MaxOpsPerformed = binary.BigEndian.Uint16(s.value[2:])
		case itemRoleSelection:
			if len(s.value) < 2 {
				return u, fmt.Errorf("role selection sub-item too short")
			}
			n := int(binary.BigEndian.Uint16(s.value))
			if len(s.value) != 2+n+2 {
				return u, fmt.Errorf("role selection sub-item length mismatch")
			}
			u.RoleSelections = append(u.RoleSelections, RoleSelection{
				SOPClassUID: trimUID(s.value[2 : 2+n]),
				SCURole:     s.value[2+n] == 1,
				SCPRole:     s.value[3+n] == 1,
			})
		}
	}
	return u, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// encodeAETitle left-justifies an AE title in a 16 byte space padded field.
func encodeAETitle(title string) ([]byte, error) {
	title = strings.TrimSpace(title)
	if len(title) > 16 {
		return nil, fmt.Errorf("AE title %q longer than 16 characters", title)
	}
	field := []byte(strings.Repeat(" ", 16))
	copy(field, title)
	return field, nil
}

func decodeAETitle(field []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(field), "\x00"))
}

func trimUID(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

func defaultApplicationContext(uid string) string {
	if uid == "" {
		return types.ApplicationContextUID
	}
	return uid
}
