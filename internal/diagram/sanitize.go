package diagram

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidSVG is returned when renderer output is not well-formed XML.
var ErrInvalidSVG = errors.New("invalid SVG output")

// Sanitize strips active content from renderer output: script and
// foreignObject subtrees, on* event attributes, and href or xlink:href values
// using the javascript:, vbscript: or data: schemes. Comments, processing instructions and
// directives are dropped. Element and attribute names keep their case.
func Sanitize(svg string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(svg))
	dec.Entity = xml.HTMLEntity
	var (
		out     bytes.Buffer
		stack   []string
		skip    int
		hasRoot bool
	)

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSVG, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := qualified(t.Name)
			if len(stack) == 0 {
				if hasRoot {
					return "", fmt.Errorf("%w: multiple root elements", ErrInvalidSVG)
				}
				hasRoot = true
			}
			stack = append(stack, name)
			if skip > 0 || blockedElement(t.Name.Local) {
				skip++
				continue
			}
			out.WriteByte('<')
			out.WriteString(name)
			for _, a := range t.Attr {
				if blockedAttr(a) {
					continue
				}
				out.WriteByte(' ')
				out.WriteString(qualified(a.Name))
				out.WriteString(`="`)
				_ = xml.EscapeText(&out, []byte(a.Value))
				out.WriteByte('"')
			}
			out.WriteByte('>')

		case xml.EndElement:
			name := qualified(t.Name)
			if len(stack) == 0 || stack[len(stack)-1] != name {
				return "", fmt.Errorf("%w: unexpected </%s>", ErrInvalidSVG, name)
			}
			stack = stack[:len(stack)-1]
			if skip > 0 {
				skip--
				continue
			}
			out.WriteString("</")
			out.WriteString(name)
			out.WriteByte('>')

		case xml.CharData:
			if skip > 0 || len(stack) == 0 {
				continue
			}
			_ = xml.EscapeText(&out, t)
		}
	}

	if !hasRoot || len(stack) != 0 {
		return "", fmt.Errorf("%w: incomplete document", ErrInvalidSVG)
	}
	return out.String(), nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func blockedElement(local string) bool {
	switch strings.ToLower(local) {
	case "script", "foreignobject":
		return true
	}
	return false
}

func blockedAttr(a xml.Attr) bool {
	name := strings.ToLower(qualified(a.Name))
	if strings.HasPrefix(name, "on") {
		return true
	}
	if name == "href" || name == "xlink:href" {
		return unsafeScheme(a.Value)
	}
	return false
}

var blockedSchemes = []string{"javascript:", "vbscript:", "data:"}

// unsafeScheme reports whether a URL runs script or embeds a document.
// Browsers drop control characters and whitespace before reading the scheme,
// so they are removed here too.
func unsafeScheme(value string) bool {
	v := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, value)
	v = strings.ToLower(v)
	for _, s := range blockedSchemes {
		if strings.HasPrefix(v, s) {
			return true
		}
	}
	return false
}
