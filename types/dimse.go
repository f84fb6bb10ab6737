package types

// DIMSE command field values.
const (
	CStoreRQ        = 0x0001
	CStoreRSP       = 0x8001
	CGetRQ          = 0x0010
	CGetRSP         = 0x8010
	CFindRQ         = 0x0020
	CFindRSP        = 0x8020
	CMoveRQ         = 0x0021
	CMoveRSP        = 0x8021
	CEchoRQ         = 0x0030
	CEchoRSP        = 0x8030
	NEventReportRQ  = 0x0100
	NEventReportRSP = 0x8100
	NGetRQ          = 0x0110
	NGetRSP         = 0x8110
	NSetRQ          = 0x0120
	NSetRSP         = 0x8120
	NActionRQ       = 0x0130
	NActionRSP      = 0x8130
	NCreateRQ       = 0x0140
	NCreateRSP      = 0x8140
	NDeleteRQ       = 0x0150
	NDeleteRSP      = 0x8150
	CCancelRQ       = 0x0FFF
)

// CommandDataSetType values. Anything other than DataSetAbsent means a dataset follows.
const (
	DataSetPresent = 0x0000
	DataSetAbsent  = 0x0101
)

// Priority values.
const (
	PriorityMedium = 0x0000
	PriorityHigh   = 0x0001
	PriorityLow    = 0x0002
)

// DIMSE status codes.
const (
	StatusSuccess        = 0x0000
	StatusPending        = 0xFF00
	StatusPendingWarning = 0xFF01
	StatusCancel         = 0xFE00

	StatusWarningCoercion          = 0xB000
	StatusWarningSubOpsFailed      = 0xB000
	StatusWarningElementsDiscarded = 0xB006
	StatusWarningDataSetMismatch   = 0xB007
	StatusAttributeValueOutOfRange = 0x0116

	StatusInvalidAttributeValue  = 0x0106
	StatusProcessingFailure      = 0x0110
	StatusDuplicateSOPInstance   = 0x0111
	StatusNoSuchObjectInstance   = 0x0112
	StatusNoSuchSOPClass         = 0x0118
	StatusMissingAttribute       = 0x0120
	StatusUnrecognizedOperation  = 0x0211
	StatusOutOfResources         = 0xA700
	StatusOutOfResourcesMatches  = 0xA701
	StatusOutOfResourcesSubOps   = 0xA702
	StatusMoveDestinationUnknown = 0xA801
	StatusDataSetDoesNotMatch    = 0xA900
	StatusIdentifierDoesNotMatch = 0xA900
	StatusFailure                = 0xC000
	StatusUnableToProcess        = 0xC001
	StatusSOPClassNotSupported   = 0x0122
)

// StatusCategory classifies a status code.
type StatusCategory int

const (
	CategorySuccess StatusCategory = iota
	CategoryPending
	CategoryCancel
	CategoryWarning
	CategoryFailure
)

func (c StatusCategory) String() string {
	switch c {
	case CategorySuccess:
		return "success"
	case CategoryPending:
		return "pending"
	case CategoryCancel:
		return "cancel"
	case CategoryWarning:
		return "warning"
	default:
		return "failure"
	}
}

// ClassifyStatus maps a status code onto its category.
func ClassifyStatus(status uint16) StatusCategory {
	switch {
	case status == StatusSuccess:
		return CategorySuccess
	case status == StatusPending || status == StatusPendingWarning:
		return CategoryPending
	case status == StatusCancel:
		return CategoryCancel
	case status == 0x0001 || status == 0x0107 || status == 0x0116 || status&0xF000 == 0xB000:
		return CategoryWarning
	}
	return CategoryFailure
}

// Message is a decoded DIMSE command set.
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	RequestedSOPInstanceUID   string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	ErrorComment              string
	MoveDestination           string
	MoveOriginatorAETitle     string
	MoveOriginatorMessageID   uint16

	// Sub-operation counters carried by C-MOVE and C-GET responses.
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16

	// TransferSyntaxUID is the syntax of the accompanying dataset. Not part of the wire command.
	TransferSyntaxUID string
}

// HasDataset reports whether a dataset follows the command.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != DataSetAbsent
}

// IsResponse reports whether the command field has the response bit set.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// ResponseCommandFor maps a request command field to its response.
func ResponseCommandFor(request uint16) uint16 {
	return request | 0x8000
}

// CommandName returns the conventional name of a command field.
func CommandName(field uint16) string {
	switch field {
	case CStoreRQ:
		return "C-STORE-RQ"
	case CStoreRSP:
		return "C-STORE-RSP"
	case CGetRQ:
		return "C-GET-RQ"
	case CGetRSP:
		return "C-GET-RSP"
	case CFindRQ:
		return "C-FIND-RQ"
	case CFindRSP:
		return "C-FIND-RSP"
	case CMoveRQ:
		return "C-MOVE-RQ"
	case CMoveRSP:
		return "C-MOVE-RSP"
	case CEchoRQ:
		return "C-ECHO-RQ"
	case CEchoRSP:
		return "C-ECHO-RSP"
	case NSetRQ:
		return "N-SET-RQ"
	case NSetRSP:
		return "N-SET-RSP"
	case NCreateRQ:
		return "N-CREATE-RQ"
	case NCreateRSP:
		return "N-CREATE-RSP"
	case CCancelRQ:
		return "C-CANCEL-RQ"
	}
	return "UNKNOWN"
}
