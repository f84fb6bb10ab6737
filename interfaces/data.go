package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomkit/dicom"
	"github.com/caio-sobreiro/dicomkit/types"
)

// Instance is one stored composite object.
type Instance struct {
	SOPClassUID       string
	SOPInstanceUID    string
	StudyInstanceUID  string
	SeriesInstanceUID string
	PatientID         string
	Dataset           *dicom.Dataset
}

// InstanceStore persists and queries stored instances.
type InstanceStore interface {
	Store(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, sopInstanceUID string) (*Instance, error)
	// Find returns the instances matching identifier at level, in insertion order.
	Find(ctx context.Context, level types.QueryLevel, identifier *dicom.Dataset) ([]*Instance, error)
}

// WorklistStore supplies scheduled procedure steps for worklist queries.
type WorklistStore interface {
	Worklist(ctx context.Context) ([]*dicom.Dataset, error)
}
