package parser

import (
	"regexp"
	"strings"
)

// Document is one document of a submission, with any SGML wrapper removed.
type Document struct {
	Type     string
	Filename string
	Body     string
}

var (
	documentBlock = regexp.MustCompile(`(?is)<DOCUMENT>(.*?)</DOCUMENT>`)
	textBlock     = regexp.MustCompile(`(?is)<TEXT>(.*?)</TEXT>`)
	xmlBlock      = regexp.MustCompile(`(?is)<XML>(.*?)</XML>`)
	headerField   = regexp.MustCompile(`(?m)^<(TYPE|FILENAME)>([^\r\n<]*)`)
	headerPeriod  = regexp.MustCompile(`(?m)^\s*CONFORMED PERIOD OF REPORT:\s*(\d{8})`)
)

// SplitDocuments strips the submission envelope. A full submission text file
// yields one Document per <DOCUMENT> block; anything else is returned as a
// single document.
func SplitDocuments(body string) []Document {
	blocks := documentBlock.FindAllStringSubmatch(body, -1)
	if len(blocks) == 0 {
		return []Document{{Body: unwrap(body)}}
	}

	docs := make([]Document, 0, len(blocks))
	for _, b := range blocks {
		doc := Document{}
		for _, f := range headerField.FindAllStringSubmatch(b[1], -1) {
			switch strings.ToUpper(f[1]) {
			case "TYPE":
				doc.Type = strings.TrimSpace(f[2])
			case "FILENAME":
				doc.Filename = strings.TrimSpace(f[2])
			}
		}
		text := b[1]
		if m := textBlock.FindStringSubmatch(text); m != nil {
			text = m[1]
		}
		doc.Body = unwrap(text)
		docs = append(docs, doc)
	}
	return docs
}

// unwrap drops an <XML> wrapper and anything before the XML declaration.
func unwrap(s string) string {
	if m := xmlBlock.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// HeaderPeriod returns the CONFORMED PERIOD OF REPORT of a submission header
// as YYYY-MM-DD, or "".
func HeaderPeriod(body string) string {
	m := headerPeriod.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1][:4] + "-" + m[1][4:6] + "-" + m[1][6:]
}

// isXML reports whether a document body is an XML document.
func isXML(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "<?xml") ||
		strings.HasPrefix(trimmed, "<ownershipDocument") ||
		strings.HasPrefix(trimmed, "<informationTable") ||
		strings.HasPrefix(trimmed, "<edgarSubmission")
}
