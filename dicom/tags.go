package dicom

import "github.com/caio-sobreiro/dicomkit/types"

// Delimiters used by sequences and encapsulated pixel data.
var (
	ItemTag                 = types.NewTag(0xFFFE, 0xE000)
	ItemDelimitationTag     = types.NewTag(0xFFFE, 0xE00D)
	SequenceDelimitationTag = types.NewTag(0xFFFE, 0xE0DD)
)

// File meta information.
var (
	FileMetaInformationGroupLength = types.NewTag(0x0002, 0x0000)
	FileMetaInformationVersion     = types.NewTag(0x0002, 0x0001)
	MediaStorageSOPClassUID        = types.NewTag(0x0002, 0x0002)
	MediaStorageSOPInstanceUID     = types.NewTag(0x0002, 0x0003)
	TransferSyntaxUID              = types.NewTag(0x0002, 0x0010)
	ImplementationClassUID         = types.NewTag(0x0002, 0x0012)
	ImplementationVersionName      = types.NewTag(0x0002, 0x0013)
	SourceApplicationEntityTitle   = types.NewTag(0x0002, 0x0016)
)

// Frequently used attributes.
var (
	SpecificCharacterSet          = types.NewTag(0x0008, 0x0005)
	ImageType                     = types.NewTag(0x0008, 0x0008)
	SOPClassUID                   = types.NewTag(0x0008, 0x0016)
	SOPInstanceUID                = types.NewTag(0x0008, 0x0018)
	StudyDate                     = types.NewTag(0x0008, 0x0020)
	SeriesDate                    = types.NewTag(0x0008, 0x0021)
	StudyTime                     = types.NewTag(0x0008, 0x0030)
	AccessionNumber               = types.NewTag(0x0008, 0x0050)
	QueryRetrieveLevel            = types.NewTag(0x0008, 0x0052)
	RetrieveAETitle               = types.NewTag(0x0008, 0x0054)
	FailedSOPInstanceUIDList      = types.NewTag(0x0008, 0x0058)
	Modality                      = types.NewTag(0x0008, 0x0060)
	ModalitiesInStudy             = types.NewTag(0x0008, 0x0061)
	ReferringPhysicianName        = types.NewTag(0x0008, 0x0090)
	StudyDescription              = types.NewTag(0x0008, 0x1030)
	SeriesDescription             = types.NewTag(0x0008, 0x103E)
	ReferencedSOPClassUID         = types.NewTag(0x0008, 0x1150)
	ReferencedSOPInstanceUID      = types.NewTag(0x0008, 0x1155)
	ReferencedImageSequence       = types.NewTag(0x0008, 0x1140)
	PatientName                   = types.NewTag(0x0010, 0x0010)
	PatientID                     = types.NewTag(0x0010, 0x0020)
	PatientBirthDate              = types.NewTag(0x0010, 0x0030)
	PatientSex                    = types.NewTag(0x0010, 0x0040)
	StudyInstanceUID              = types.NewTag(0x0020, 0x000D)
	SeriesInstanceUID             = types.NewTag(0x0020, 0x000E)
	StudyID                       = types.NewTag(0x0020, 0x0010)
	SeriesNumber                  = types.NewTag(0x0020, 0x0011)
	InstanceNumber                = types.NewTag(0x0020, 0x0013)
	NumberOfStudyRelatedSeries    = types.NewTag(0x0020, 0x1206)
	NumberOfStudyRelatedInstances = types.NewTag(0x0020, 0x1208)
	SamplesPerPixel               = types.NewTag(0x0028, 0x0002)
	PhotometricInterpretation     = types.NewTag(0x0028, 0x0004)
	NumberOfFrames                = types.NewTag(0x0028, 0x0008)
	Rows                          = types.NewTag(0x0028, 0x0010)
	Columns                       = types.NewTag(0x0028, 0x0011)
	PixelSpacing                  = types.NewTag(0x0028, 0x0030)
	BitsAllocated                 = types.NewTag(0x0028, 0x0100)
	BitsStored                    = types.NewTag(0x0028, 0x0101)
	HighBit                       = types.NewTag(0x0028, 0x0102)
	PixelRepresentation           = types.NewTag(0x0028, 0x0103)
	WindowCenter                  = types.NewTag(0x0028, 0x1050)
	RequestedProcedureID          = types.NewTag(0x0040, 0x1001)
	PixelData                     = types.NewTag(0x7FE0, 0x0010)
)

// Worklist and performed procedure step attributes.
var (
	ScheduledStationAETitle           = types.NewTag(0x0040, 0x0001)
	ScheduledProcedureStepStartDate   = types.NewTag(0x0040, 0x0002)
	ScheduledProcedureStepStartTime   = types.NewTag(0x0040, 0x0003)
	ScheduledProcedureStepDescription = types.NewTag(0x0040, 0x0007)
	ScheduledProcedureStepID          = types.NewTag(0x0040, 0x0009)
	ScheduledProcedureStepSequence    = types.NewTag(0x0040, 0x0100)
	PerformedStationAETitle           = types.NewTag(0x0040, 0x0241)
	PerformedProcedureStepStartDate   = types.NewTag(0x0040, 0x0244)
	PerformedProcedureStepStartTime   = types.NewTag(0x0040, 0x0245)
	PerformedProcedureStepEndDate     = types.NewTag(0x0040, 0x0250)
	PerformedProcedureStepEndTime     = types.NewTag(0x0040, 0x0251)
	PerformedProcedureStepStatus      = types.NewTag(0x0040, 0x0252)
	PerformedProcedureStepID          = types.NewTag(0x0040, 0x0253)
	PerformedProcedureStepDescription = types.NewTag(0x0040, 0x0254)
	ScheduledStepAttributesSequence   = types.NewTag(0x0040, 0x0270)
	PerformedSeriesSequence           = types.NewTag(0x0040, 0x0340)
)
