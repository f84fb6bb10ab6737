package types

// ApplicationContextUID is the only application context defined for DICOM.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Composite instance storage
const (
	ComputedRadiographyImageStorage            = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation     = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalMammographyXRayImageStorage         = "1.2.840.10008.5.1.4.1.1.1.2"
	CTImageStorage                             = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                     = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImageStorage           = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                             = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                     = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage                     = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage               = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameTrueColorSecondaryCaptureStorage = "1.2.840.10008.5.1.4.1.1.7.4"
	XRayAngiographicImageStorage               = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage                = "1.2.840.10008.5.1.4.1.1.20"
	BasicTextSRStorage                         = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage                          = "1.2.840.10008.5.1.4.1.1.88.22"
	EncapsulatedPDFStorage                     = "1.2.840.10008.5.1.4.1.1.104.1"
	PETImageStorage                            = "1.2.840.10008.5.1.4.1.1.128"
	RTImageStorage                             = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                              = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage                      = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                              = "1.2.840.10008.5.1.4.1.1.481.5"
	VLPhotographicImageStorage                 = "1.2.840.10008.5.1.4.1.1.77.1.4"
	VLWholeSlideMicroscopyImageStorage         = "1.2.840.10008.5.1.4.1.1.77.1.6"
)

// Query/Retrieve information models
const (
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	StudyRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.2.3"
)

// Workflow management
const (
	ModalityWorklistInformationModelFind   = "1.2.840.10008.5.1.4.31"
	ModalityPerformedProcedureStepSOPClass = "1.2.840.10008.3.1.2.3.3"
)

// ServiceKind groups SOP classes by the DIMSE services they are used with.
type ServiceKind int

const (
	ServiceUnknown ServiceKind = iota
	ServiceVerification
	ServiceStorage
	ServiceQuery
	ServiceRetrieve
	ServiceWorklist
	ServiceProcedureStep
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceVerification:
		return "verification"
	case ServiceStorage:
		return "storage"
	case ServiceQuery:
		return "query"
	case ServiceRetrieve:
		return "retrieve"
	case ServiceWorklist:
		return "worklist"
	case ServiceProcedureStep:
		return "procedure-step"
	default:
		return "unknown"
	}
}

// SOPClassInfo describes a known SOP class.
type SOPClassInfo struct {
	UID  string
	Name string
	Kind ServiceKind
}

var sopClasses = []SOPClassInfo{
	{VerificationSOPClass, "Verification", ServiceVerification},

	{ComputedRadiographyImageStorage, "Computed Radiography Image Storage", ServiceStorage},
	{DigitalXRayImageStorageForPresentation, "Digital X-Ray Image Storage - For Presentation", ServiceStorage},
	{DigitalMammographyXRayImageStorage, "Digital Mammography X-Ray Image Storage", ServiceStorage},
	{CTImageStorage, "CT Image Storage", ServiceStorage},
	{EnhancedCTImageStorage, "Enhanced CT Image Storage", ServiceStorage},
	{UltrasoundMultiFrameImageStorage, "Ultrasound Multi-frame Image Storage", ServiceStorage},
	{MRImageStorage, "MR Image Storage", ServiceStorage},
	{EnhancedMRImageStorage, "Enhanced MR Image Storage", ServiceStorage},
	{UltrasoundImageStorage, "Ultrasound Image Storage", ServiceStorage},
	{SecondaryCaptureImageStorage, "Secondary Capture Image Storage", ServiceStorage},
	{MultiFrameTrueColorSecondaryCaptureStorage, "Multi-frame True Color Secondary Capture Image Storage", ServiceStorage},
	{XRayAngiographicImageStorage, "X-Ray Angiographic Image Storage", ServiceStorage},
	{NuclearMedicineImageStorage, "Nuclear Medicine Image Storage", ServiceStorage},
	{BasicTextSRStorage, "Basic Text SR Storage", ServiceStorage},
	{EnhancedSRStorage, "Enhanced SR Storage", ServiceStorage},
	{EncapsulatedPDFStorage, "Encapsulated PDF Storage", ServiceStorage},
	{PETImageStorage, "Positron Emission Tomography Image Storage", ServiceStorage},
	{RTImageStorage, "RT Image Storage", ServiceStorage},
	{RTDoseStorage, "RT Dose Storage", ServiceStorage},
	{RTStructureSetStorage, "RT Structure Set Storage", ServiceStorage},
	{RTPlanStorage, "RT Plan Storage", ServiceStorage},
	{VLPhotographicImageStorage, "VL Photographic Image Storage", ServiceStorage},
	{VLWholeSlideMicroscopyImageStorage, "VL Whole Slide Microscopy Image Storage", ServiceStorage},

	{PatientRootQueryRetrieveInformationModelFind, "Patient Root Query/Retrieve Information Model - FIND", ServiceQuery},
	{PatientRootQueryRetrieveInformationModelMove, "Patient Root Query/Retrieve Information Model - MOVE", ServiceRetrieve},
	{PatientRootQueryRetrieveInformationModelGet, "Patient Root Query/Retrieve Information Model - GET", ServiceRetrieve},
	{StudyRootQueryRetrieveInformationModelFind, "Study Root Query/Retrieve Information Model - FIND", ServiceQuery},
	{StudyRootQueryRetrieveInformationModelMove, "Study Root Query/Retrieve Information Model - MOVE", ServiceRetrieve},
	{StudyRootQueryRetrieveInformationModelGet, "Study Root Query/Retrieve Information Model - GET", ServiceRetrieve},

	{ModalityWorklistInformationModelFind, "Modality Worklist Information Model - FIND", ServiceWorklist},
	{ModalityPerformedProcedureStepSOPClass, "Modality Performed Procedure Step", ServiceProcedureStep},
}

var sopClassIndex = func() map[string]SOPClassInfo {
	m := make(map[string]SOPClassInfo, len(sopClasses))
	for _, c := range sopClasses {
		m[c.UID] = c
	}
	return m
}()

// LookupSOPClass returns the registered description of uid.
func LookupSOPClass(uid string) (SOPClassInfo, bool) {
	info, ok := sopClassIndex[uid]
	return info, ok
}

// SOPClassName returns a human readable name, or the UID itself when unknown.
func SOPClassName(uid string) string {
	if info, ok := sopClassIndex[uid]; ok {
		return info.Name
	}
	return uid
}

// IsStorageSOPClass reports whether uid is a known composite storage class.
func IsStorageSOPClass(uid string) bool {
	return sopClassIndex[uid].Kind == ServiceStorage
}

// IsQueryRetrieveSOPClass reports whether uid is a query or retrieve information model.
func IsQueryRetrieveSOPClass(uid string) bool {
	k := sopClassIndex[uid].Kind
	return k == ServiceQuery || k == ServiceRetrieve
}

// SOPClassesOfKind lists the registered UIDs serving kind, in registration order.
func SOPClassesOfKind(kind ServiceKind) []string {
	var out []string
	for _, c := range sopClasses {
		if c.Kind == kind {
			out = append(out, c.UID)
		}
	}
	return out
}
