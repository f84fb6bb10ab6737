package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/caio-sobreiro/dicomkit/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomkit/errors"
	"github.com/caio-sobreiro/dicomkit/interfaces"
	"github.com/caio-sobreiro/dicomkit/types"
)

// MemoryStore keeps instances and worklist items in memory. It implements
// interfaces.InstanceStore and interfaces.WorklistStore.
type MemoryStore struct {
	mu        sync.RWMutex
	order     []string
	instances map[string]*interfaces.Instance
	worklist  []*dicom.Dataset
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]*interfaces.Instance)}
}

// InstanceFromDataset fills the identifying fields of an Instance from ds.
func InstanceFromDataset(ds *dicom.Dataset) *interfaces.Instance {
	return &interfaces.Instance{
		SOPClassUID:       ds.GetString(dicom.SOPClassUID),
		SOPInstanceUID:    ds.GetString(dicom.SOPInstanceUID),
		StudyInstanceUID:  ds.GetString(dicom.StudyInstanceUID),
		SeriesInstanceUID: ds.GetString(dicom.SeriesInstanceUID),
		PatientID:         ds.GetString(dicom.PatientID),
		Dataset:           ds,
	}
}

// Store adds inst, replacing an instance with the same SOP instance UID
// but keeping its position.
func (m *MemoryStore) Store(_ context.Context, inst *interfaces.Instance) error {
	if inst.SOPInstanceUID == "" {
		return fmt.Errorf("store: instance without SOP instance UID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.SOPInstanceUID]; !ok {
		m.order = append(m.order, inst.SOPInstanceUID)
	}
	m.instances[inst.SOPInstanceUID] = inst
	return nil
}

// Get returns the instance with the given UID.
func (m *MemoryStore) Get(_ context.Context, sopInstanceUID string) (*interfaces.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[sopInstanceUID]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", dicomerrors.ErrElementNotFound, sopInstanceUID)
	}
	return inst, nil
}

// Find returns the instances whose dataset matches identifier, in
// insertion order. Only keys at or above level take part in matching.
func (m *MemoryStore) Find(ctx context.Context, level types.QueryLevel, identifier *dicom.Dataset) ([]*interfaces.Instance, error) {
	if level.Depth() < 0 {
		return nil, fmt.Errorf("find: unknown query level %q", level)
	}
	keys := keysForLevel(level, identifier)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*interfaces.Instance
	for _, uid := range m.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inst := m.instances[uid]
		if Matches(keys, inst.Dataset) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Len returns the number of stored instances.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// AddWorklistItem adds a scheduled procedure step.
func (m *MemoryStore) AddWorklistItem(ds *dicom.Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worklist = append(m.worklist, ds)
}

// Worklist returns every scheduled procedure step.
func (m *MemoryStore) Worklist(context.Context) ([]*dicom.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*dicom.Dataset(nil), m.worklist...), nil
}

// levelOf assigns attributes to the query level they belong to. Tags not
// listed match at every level.
var levelOf = map[dicom.Tag]types.QueryLevel{
	dicom.PatientID:                     types.QueryLevelPatient,
	dicom.PatientName:                   types.QueryLevelPatient,
	dicom.PatientBirthDate:              types.QueryLevelPatient,
	dicom.PatientSex:                    types.QueryLevelPatient,
	dicom.StudyInstanceUID:              types.QueryLevelStudy,
	dicom.StudyDate:                     types.QueryLevelStudy,
	dicom.StudyTime:                     types.QueryLevelStudy,
	dicom.StudyID:                       types.QueryLevelStudy,
	dicom.StudyDescription:              types.QueryLevelStudy,
	dicom.AccessionNumber:               types.QueryLevelStudy,
	dicom.ReferringPhysicianName:        types.QueryLevelStudy,
	dicom.ModalitiesInStudy:             types.QueryLevelStudy,
	dicom.NumberOfStudyRelatedSeries:    types.QueryLevelStudy,
	dicom.NumberOfStudyRelatedInstances: types.QueryLevelStudy,
	dicom.SeriesInstanceUID:             types.QueryLevelSeries,
	dicom.SeriesNumber:                  types.QueryLevelSeries,
	dicom.SeriesDescription:             types.QueryLevelSeries,
	dicom.Modality:                      types.QueryLevelSeries,
	dicom.SOPInstanceUID:                types.QueryLevelImage,
	dicom.SOPClassUID:                   types.QueryLevelImage,
	dicom.InstanceNumber:                types.QueryLevelImage,
}

// keysForLevel drops matching keys below level and the computed
// attributes that instances never carry.
func keysForLevel(level types.QueryLevel, identifier *dicom.Dataset) *dicom.Dataset {
	keys := dicom.NewDataset()
	for _, el := range identifier.Elements() {
		if el.Tag == dicom.ModalitiesInStudy || el.Tag == dicom.NumberOfStudyRelatedSeries ||
			el.Tag == dicom.NumberOfStudyRelatedInstances {
			continue
		}
		if l, ok := levelOf[el.Tag]; ok && l.Depth() > level.Depth() {
			continue
		}
		keys.Set(el)
	}
	return keys
}
