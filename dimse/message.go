// Package dimse implements the DIMSE message layer: command set encoding,
// PDV fragmentation and reassembly, response tracking and the acceptor
// side dispatcher.
package dimse

import (
	"fmt"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Command group tags.
var (
	tagCommandGroupLength        = types.NewTag(0x0000, 0x0000)
	tagAffectedSOPClassUID       = types.NewTag(0x0000, 0x0002)
	tagRequestedSOPClassUID      = types.NewTag(0x0000, 0x0003)
	tagCommandField              = types.NewTag(0x0000, 0x0100)
	tagMessageID                 = types.NewTag(0x0000, 0x0110)
	tagMessageIDBeingRespondedTo = types.NewTag(0x0000, 0x0120)
	tagMoveDestination           = types.NewTag(0x0000, 0x0600)
	tagPriority                  = types.NewTag(0x0000, 0x0700)
	tagCommandDataSetType        = types.NewTag(0x0000, 0x0800)
	tagStatus                    = types.NewTag(0x0000, 0x0900)
	tagErrorComment              = types.NewTag(0x0000, 0x0902)
	tagAffectedSOPInstanceUID    = types.NewTag(0x0000, 0x1000)
	tagRequestedSOPInstanceUID   = types.NewTag(0x0000, 0x1001)
	tagRemainingSuboperations    = types.NewTag(0x0000, 0x1020)
	tagCompletedSuboperations    = types.NewTag(0x0000, 0x1021)
	tagFailedSuboperations       = types.NewTag(0x0000, 0x1022)
	tagWarningSuboperations      = types.NewTag(0x0000, 0x1023)
	tagMoveOriginatorAETitle     = types.NewTag(0x0000, 0x1030)
	tagMoveOriginatorMessageID   = types.NewTag(0x0000, 0x1031)
)

func hasPriority(command uint16) bool {
	switch command {
	case types.CStoreRQ, types.CFindRQ, types.CMoveRQ, types.CGetRQ:
		return true
	}
	return false
}

// CommandDataset builds the command set of msg, without group length.
func CommandDataset(msg *types.Message) *dicom.Dataset {
	ds := dicom.NewDataset()
	if msg.AffectedSOPClassUID != "" {
		ds.SetString(tagAffectedSOPClassUID, dicom.VR_UI, msg.AffectedSOPClassUID)
	}
	if msg.RequestedSOPClassUID != "" {
		ds.SetString(tagRequestedSOPClassUID, dicom.VR_UI, msg.RequestedSOPClassUID)
	}
	ds.SetUint16(tagCommandField, msg.CommandField)
	if msg.IsResponse() || msg.CommandField == types.CCancelRQ {
		ds.SetUint16(tagMessageIDBeingRespondedTo, msg.MessageIDBeingRespondedTo)
	} else {
		ds.SetUint16(tagMessageID, msg.MessageID)
	}
	if msg.MoveDestination != "" {
		ds.SetString(tagMoveDestination, dicom.VR_AE, msg.MoveDestination)
	}
	if hasPriority(msg.CommandField) {
		ds.SetUint16(tagPriority, msg.Priority)
	}
	ds.SetUint16(tagCommandDataSetType, msg.CommandDataSetType)
	if msg.IsResponse() {
		ds.SetUint16(tagStatus, msg.Status)
	}
	if msg.ErrorComment != "" {
		ds.SetString(tagErrorComment, dicom.VR_LO, msg.ErrorComment)
	}
	if msg.AffectedSOPInstanceUID != "" {
		ds.SetString(tagAffectedSOPInstanceUID, dicom.VR_UI, msg.AffectedSOPInstanceUID)
	}
	if msg.RequestedSOPInstanceUID != "" {
		ds.SetString(tagRequestedSOPInstanceUID, dicom.VR_UI, msg.RequestedSOPInstanceUID)
	}
	counters := []struct {
		tag   types.Tag
		value *uint16
	}{
		{tagRemainingSuboperations, msg.NumberOfRemainingSuboperations},
		{tagCompletedSuboperations, msg.NumberOfCompletedSuboperations},
		{tagFailedSuboperations, msg.NumberOfFailedSuboperations},
		{tagWarningSuboperations, msg.NumberOfWarningSuboperations},
	}
	for _, c := range counters {
		if c.value != nil {
			ds.SetUint16(c.tag, *c.value)
		}
	}
	if msg.MoveOriginatorAETitle != "" {
		ds.SetString(tagMoveOriginatorAETitle, dicom.VR_AE, msg.MoveOriginatorAETitle)
		ds.SetUint16(tagMoveOriginatorMessageID, msg.MoveOriginatorMessageID)
	}
	return ds
}

// EncodeCommand encodes msg as an implicit VR little endian command set
// led by its group length.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	body, err := dicom.EncodeDataset(CommandDataset(msg), dicom.ImplicitVRLittleEndian, dicom.EncodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", types.CommandName(msg.CommandField), err)
	}
	enc := dicom.NewEncoder(dicom.ImplicitVRLittleEndian, dicom.EncodeOptions{})
	if err := enc.WriteElement(dicom.NewUint32Element(tagCommandGroupLength, uint32(len(body)))); err != nil {
		return nil, err
	}
	return append(enc.Bytes(), body...), nil
}

// DecodeCommand parses a command set.
func DecodeCommand(data []byte) (*types.Message, error) {
	ds, err := dicom.DecodeDataset(data, dicom.ImplicitVRLittleEndian, dicom.DecodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrInvalidMessage, err)
	}
	if !ds.Has(tagCommandField) {
		return nil, fmt.Errorf("%w: command field (0000,0100) missing", dicomerrors.ErrInvalidMessage)
	}
	msg := &types.Message{CommandDataSetType: types.DataSetAbsent}
	msg.CommandField, _ = ds.GetUint16(tagCommandField)
	msg.MessageID, _ = ds.GetUint16(tagMessageID)
	msg.MessageIDBeingRespondedTo, _ = ds.GetUint16(tagMessageIDBeingRespondedTo)
	msg.AffectedSOPClassUID = ds.GetString(tagAffectedSOPClassUID)
	msg.RequestedSOPClassUID = ds.GetString(tagRequestedSOPClassUID)
	msg.AffectedSOPInstanceUID = ds.GetString(tagAffectedSOPInstanceUID)
	msg.RequestedSOPInstanceUID = ds.GetString(tagRequestedSOPInstanceUID)
	msg.MoveDestination = ds.GetString(tagMoveDestination)
	msg.MoveOriginatorAETitle = ds.GetString(tagMoveOriginatorAETitle)
	msg.MoveOriginatorMessageID, _ = ds.GetUint16(tagMoveOriginatorMessageID)
	msg.ErrorComment = ds.GetString(tagErrorComment)
	msg.Priority, _ = ds.GetUint16(tagPriority)
	msg.Status, _ = ds.GetUint16(tagStatus)
	if v, err := ds.GetUint16(tagCommandDataSetType); err == nil {
		msg.CommandDataSetType = v
	}
	msg.NumberOfRemainingSuboperations = optionalUint16(ds, tagRemainingSuboperations)
	msg.NumberOfCompletedSuboperations = optionalUint16(ds, tagCompletedSuboperations)
	msg.NumberOfFailedSuboperations = optionalUint16(ds, tagFailedSuboperations)
	msg.NumberOfWarningSuboperations = optionalUint16(ds, tagWarningSuboperations)
	return msg, nil
}

func optionalUint16(ds *dicom.Dataset, tag types.Tag) *uint16 {
	v, err := ds.GetUint16(tag)
	if err != nil {
		return nil
	}
	return &v
}

// EncodeData encodes a message dataset for the context's transfer syntax.
func EncodeData(ds *dicom.Dataset, transferSyntaxUID string) ([]byte, error) {
	if ds == nil {
		return nil, nil
	}
	raw, err := dicom.EncodeDatasetWithTransferSyntax(ds, transferSyntaxUID)
	if err == nil && raw == nil {
		raw = []byte{}
	}
	return raw, err
}

// DecodeData decodes a message dataset received on a context.
func DecodeData(data []byte, transferSyntaxUID string) (*dicom.Dataset, error) {
	if data == nil {
		return nil, nil
	}
	return dicom.ParseDatasetWithTransferSyntax(data, transferSyntaxUID)
}
