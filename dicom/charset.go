package dicom

import (
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// defaultRepertoire decodes text when no Specific Character Set is given.
// Windows-1252 is a superset of the ASCII default repertoire.
var defaultRepertoire encoding.Encoding = charmap.Windows1252

// charsetLabels maps Specific Character Set defined terms to WHATWG labels.
var charsetLabels = map[string]string{
	"ISO_IR 6":        "us-ascii",
	"ISO_IR 100":      "iso-ir-100",
	"ISO_IR 101":      "iso-ir-101",
	"ISO_IR 109":      "iso-ir-109",
	"ISO_IR 110":      "iso-ir-110",
	"ISO_IR 144":      "iso-ir-144",
	"ISO_IR 127":      "iso-ir-127",
	"ISO_IR 126":      "iso-ir-126",
	"ISO_IR 138":      "iso-ir-138",
	"ISO_IR 148":      "iso-ir-148",
	"ISO_IR 13":       "shift-jis",
	"ISO_IR 166":      "tis-620",
	"ISO_IR 192":      "utf-8",
	"GB18030":         "gb18030",
	"GBK":             "gbk",
	"ISO 2022 IR 6":   "us-ascii",
	"ISO 2022 IR 100": "iso-ir-100",
	"ISO 2022 IR 101": "iso-ir-101",
	"ISO 2022 IR 109": "iso-ir-109",
	"ISO 2022 IR 110": "iso-ir-110",
	"ISO 2022 IR 144": "iso-ir-144",
	"ISO 2022 IR 127": "iso-ir-127",
	"ISO 2022 IR 126": "iso-ir-126",
	"ISO 2022 IR 138": "iso-ir-138",
	"ISO 2022 IR 148": "iso-ir-148",
	"ISO 2022 IR 13":  "shift-jis",
	"ISO 2022 IR 166": "tis-620",
	"ISO 2022 IR 87":  "iso-2022-jp",
	"ISO 2022 IR 159": "iso-2022-jp",
	"ISO 2022 IR 149": "iso-ir-149",
}

var encodingCache sync.Map // term -> encoding.Encoding

// LookupCharset resolves a defined term. Unknown terms fall back to the
// default repertoire and ok is false.
func LookupCharset(term string) (enc encoding.Encoding, ok bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return defaultRepertoire, true
	}
	if cached, hit := encodingCache.Load(term); hit {
		return cached.(encoding.Encoding), true
	}
	label, known := charsetLabels[term]
	if !known {
		return defaultRepertoire, false
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return defaultRepertoire, false
	}
	encodingCache.Store(term, enc)
	return enc, true
}

// charsetTerms returns the Specific Character Set in effect for d.
func (d *Dataset) charsetTerms() []string {
	if el, ok := d.Get(SpecificCharacterSet); ok {
		return el.Strings()
	}
	return d.inheritedCharset
}

// decodeText converts raw bytes to UTF-8. Only the first defined term is
// honoured; code extension switching is not interpreted.
func (d *Dataset) decodeText(raw []byte) string {
	terms := d.charsetTerms()
	enc := defaultRepertoire
	for _, t := range terms {
		if t == "" {
			continue
		}
		enc, _ = LookupCharset(t)
		break
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
