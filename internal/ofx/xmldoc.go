package ofx

import (
	"encoding/xml"
	"strings"
)

// xmlElement is one captured element subtree: the first text content of each
// direct child, keyed by upper-cased tag name, plus the verbatim source slice.
type xmlElement struct {
	children map[string]string
	raw      string
}

func (e *xmlElement) childText(tag string) string {
	return e.children[strings.ToUpper(tag)]
}

// xmlDoc is a minimal DOM substitute for OFX 2.x documents: captured
// subtrees for the tags the parser cares about, plus the first text content
// seen for every tag outside those subtrees (used for DTSTART/DTEND, which
// the statement carries once globally).
type xmlDoc struct {
	captured map[string][]*xmlElement
	texts    map[string]string
}

// capturedTags lists the element subtrees worth keeping whole.
var capturedTags = map[string]struct{}{"STMTTRN": {}}

func newXMLDoc(text string) *xmlDoc {
	doc := &xmlDoc{
		captured: make(map[string][]*xmlElement),
		texts:    make(map[string]string),
	}

	d := xml.NewDecoder(strings.NewReader(text))
	// Bank-produced XML is not reference-clean; lenient mode keeps the walk
	// alive past undeclared entities.
	d.Strict = false

	var (
		cur        *xmlElement
		curName    string
		curDepth   int
		childName  string
		startByte  int64
		prevOffset int64
		lastOpen   string
	)

	for {
		tok, err := d.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToUpper(t.Name.Local)
			if cur == nil {
				if _, ok := capturedTags[name]; ok {
					cur = &xmlElement{children: make(map[string]string)}
					curName = name
					curDepth = 0
					startByte = prevOffset
				} else {
					lastOpen = name
				}
			} else {
				curDepth++
				childName = name
			}

		case xml.EndElement:
			name := strings.ToUpper(t.Name.Local)
			if cur == nil {
				break
			}
			if curDepth == 0 && name == curName {
				cur.raw = strings.TrimSpace(text[startByte:d.InputOffset()])
				doc.captured[curName] = append(doc.captured[curName], cur)
				cur = nil
			} else if curDepth > 0 {
				curDepth--
				childName = ""
			}

		case xml.CharData:
			s := strings.TrimSpace(string(t))
			if s == "" {
				break
			}
			if cur != nil && childName != "" {
				if _, seen := cur.children[childName]; !seen {
					cur.children[childName] = s
				}
			} else if cur == nil && lastOpen != "" {
				if _, seen := doc.texts[lastOpen]; !seen {
					doc.texts[lastOpen] = s
				}
			}
		}

		prevOffset = d.InputOffset()
	}

	return doc
}

// elements returns all captured subtrees for the given tag, in document order.
func (d *xmlDoc) elements(tag string) []*xmlElement {
	return d.captured[strings.ToUpper(tag)]
}

// firstText returns the first text content of the given tag outside any
// captured subtree, or "".
func (d *xmlDoc) firstText(tag string) string {
	return d.texts[strings.ToUpper(tag)]
}
