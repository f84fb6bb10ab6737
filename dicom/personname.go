package dicom

import "strings"

// PersonNameGroup is one component group of a PN value.
type PersonNameGroup struct {
	Family string
	Given  string
	Middle string
	Prefix string
	Suffix string
}

func (g PersonNameGroup) String() string {
	parts := []string{g.Family, g.Given, g.Middle, g.Prefix, g.Suffix}
	n := len(parts)
	for n > 0 && parts[n-1] == "" {
		n--
	}
	return strings.Join(parts[:n], "^")
}

func (g PersonNameGroup) empty() bool {
	return g == PersonNameGroup{}
}

// PersonName is a PN value split into alphabetic, ideographic and phonetic groups.
type PersonName struct {
	Alphabetic  PersonNameGroup
	Ideographic PersonNameGroup
	Phonetic    PersonNameGroup
}

// ParsePersonName splits s on '=' and '^'.
func ParsePersonName(s string) PersonName {
	groups := strings.SplitN(s, "=", 3)
	var pn PersonName
	for i, g := range groups {
		c := strings.SplitN(g, "^", 5)
		for len(c) < 5 {
			c = append(c, "")
		}
		group := PersonNameGroup{
			Family: strings.TrimSpace(c[0]),
			Given:  strings.TrimSpace(c[1]),
			Middle: strings.TrimSpace(c[2]),
			Prefix: strings.TrimSpace(c[3]),
			Suffix: strings.TrimSpace(c[4]),
		}
		switch i {
		case 0:
			pn.Alphabetic = group
		case 1:
			pn.Ideographic = group
		case 2:
			pn.Phonetic = group
		}
	}
	return pn
}

// String renders the name in PN wire form, dropping empty trailing groups.
func (p PersonName) String() string {
	groups := []PersonNameGroup{p.Alphabetic, p.Ideographic, p.Phonetic}
	n := len(groups)
	for n > 1 && groups[n-1].empty() {
		n--
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = groups[i].String()
	}
	return strings.Join(parts, "=")
}
