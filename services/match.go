package services

import (
	"regexp"
	"strings"

	"github.com/caio-sobreiro/dicomkit/dicom"
)

// Matching keys that steer the query rather than select instances.
var controlKeys = map[dicom.Tag]bool{
	dicom.SpecificCharacterSet: true,
	dicom.QueryRetrieveLevel:   true,
}

// Matches reports whether ds satisfies every matching key in identifier.
//
// Empty keys match anything (universal matching). UI keys may list several
// UIDs separated by backslashes. DA, TM and DT keys accept "a-b", "a-" and
// "-b" ranges. Text keys containing * or ? use wildcard matching, person
// names case-insensitively. A sequence key with an item matches when any
// item of ds's sequence matches that item.
func Matches(identifier, ds *dicom.Dataset) bool {
	for _, key := range identifier.Elements() {
		if controlKeys[key.Tag] || key.Tag.IsGroupLength() {
			continue
		}
		if !matchElement(identifier, key, ds) {
			return false
		}
	}
	return true
}

func matchElement(identifier *dicom.Dataset, key *dicom.Element, ds *dicom.Dataset) bool {
	if key.IsSequence() {
		if len(key.Items) == 0 || key.Items[0].Len() == 0 {
			return true
		}
		items, err := ds.GetSequence(key.Tag)
		if err != nil {
			return false
		}
		for _, item := range items {
			if Matches(key.Items[0], item) {
				return true
			}
		}
		return false
	}

	wanted := identifier.GetStrings(key.Tag)
	if len(wanted) == 0 || (len(wanted) == 1 && wanted[0] == "") {
		return true
	}
	values := ds.GetStrings(key.Tag)
	if len(values) == 0 {
		return false
	}

	for _, w := range wanted {
		for _, v := range values {
			if matchValue(key.VR, w, v) {
				return true
			}
		}
	}
	return false
}

func matchValue(vr, wanted, value string) bool {
	switch vr {
	case dicom.VR_UI:
		return wanted == value
	case dicom.VR_DA, dicom.VR_TM, dicom.VR_DT:
		if lo, hi, ok := strings.Cut(wanted, "-"); ok {
			return matchRange(lo, hi, value)
		}
		return wanted == value
	case dicom.VR_PN:
		wanted, value = strings.ToUpper(wanted), strings.ToUpper(value)
	}
	if strings.ContainsAny(wanted, "*?") {
		return wildcard(wanted).MatchString(value)
	}
	return wanted == value
}

// matchRange compares fixed-width date/time strings lexically. An open end
// is unbounded.
func matchRange(lo, hi, value string) bool {
	if lo != "" && value < lo {
		return false
	}
	if hi != "" && value > hi && !strings.HasPrefix(value, hi) {
		return false
	}
	return true
}

func wildcard(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// returnKeys builds a response identifier holding the requested keys
// filled from ds. Keys ds lacks are returned empty.
func returnKeys(identifier, ds *dicom.Dataset) *dicom.Dataset {
	out := dicom.NewDataset()
	for _, key := range identifier.Elements() {
		if key.Tag.IsGroupLength() {
			continue
		}
		if key.Tag == dicom.QueryRetrieveLevel {
			out.Set(key)
			continue
		}
		if key.IsSequence() && len(key.Items) > 0 {
			items, err := ds.GetSequence(key.Tag)
			if err != nil {
				out.SetSequence(key.Tag)
				continue
			}
			filtered := make([]*dicom.Dataset, 0, len(items))
			for _, item := range items {
				filtered = append(filtered, returnKeys(key.Items[0], item))
			}
			out.SetSequence(key.Tag, filtered...)
			continue
		}
		if el, ok := ds.Get(key.Tag); ok {
			out.Set(el)
			continue
		}
		out.Set(dicom.NewElement(key.Tag, key.VR, nil))
	}
	if el, ok := ds.Get(dicom.SpecificCharacterSet); ok {
		out.Set(el)
	}
	return out
}
