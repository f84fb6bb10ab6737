package types

import "strings"

// QueryLevel is the value of Query/Retrieve Level (0008,0052).
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// ParseQueryLevel normalises a level string. ok is false for unknown levels.
func ParseQueryLevel(s string) (QueryLevel, bool) {
	switch l := QueryLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case QueryLevelPatient, QueryLevelStudy, QueryLevelSeries, QueryLevelImage:
		return l, true
	}
	return "", false
}

// Depth orders levels from patient (0) to image (3).
func (l QueryLevel) Depth() int {
	switch l {
	case QueryLevelPatient:
		return 0
	case QueryLevelStudy:
		return 1
	case QueryLevelSeries:
		return 2
	case QueryLevelImage:
		return 3
	}
	return -1
}

// Performed Procedure Step Status (0040,0252) values.
const (
	ProcedureStepInProgress   = "IN PROGRESS"
	ProcedureStepCompleted    = "COMPLETED"
	ProcedureStepDiscontinued = "DISCONTINUED"
)
