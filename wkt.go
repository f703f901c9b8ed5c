package geoloc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// wktNode is a KEYWORD[arg,...] element of a WKT (1 or 2) CRS definition
type wktNode struct {
	keyword string
	args    []wktArg
}

type wktArg struct {
	node   *wktNode
	text   string
	quoted bool
}

type wktLexer struct {
	s   string
	pos int
}

func parseWKT(s string) (*wktNode, error) {
	lx := &wktLexer{s: s}
	n, err := lx.node()
	if err != nil {
		return nil, err
	}
	lx.skipSpace()
	if lx.pos != len(lx.s) {
		return nil, fmt.Errorf("wkt: trailing content at offset %d", lx.pos)
	}
	return n, nil
}

func (lx *wktLexer) skipSpace() {
	for lx.pos < len(lx.s) && unicode.IsSpace(rune(lx.s[lx.pos])) {
		lx.pos++
	}
}

func (lx *wktLexer) node() (*wktNode, error) {
	lx.skipSpace()
	start := lx.pos
	for lx.pos < len(lx.s) {
		c := lx.s[lx.pos]
		if c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			lx.pos++
			continue
		}
		break
	}
	if start == lx.pos {
		return nil, fmt.Errorf("wkt: expected keyword at offset %d", start)
	}
	n := &wktNode{keyword: strings.ToUpper(lx.s[start:lx.pos])}
	lx.skipSpace()
	if lx.pos >= len(lx.s) || (lx.s[lx.pos] != '[' && lx.s[lx.pos] != '(') {
		// bare keyword, e.g. the axis direction in AXIS["Lat",NORTH]
		return n, nil
	}
	closing := byte(']')
	if lx.s[lx.pos] == '(' {
		closing = ')'
	}
	lx.pos++
	for {
		lx.skipSpace()
		if lx.pos >= len(lx.s) {
			return nil, fmt.Errorf("wkt: unterminated %s", n.keyword)
		}
		if lx.s[lx.pos] == closing && len(n.args) == 0 {
			lx.pos++
			return n, nil
		}
		arg, err := lx.arg()
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, arg)
		lx.skipSpace()
		if lx.pos >= len(lx.s) {
			return nil, fmt.Errorf("wkt: unterminated %s", n.keyword)
		}
		switch lx.s[lx.pos] {
		case ',':
			lx.pos++
		case closing:
			lx.pos++
			return n, nil
		default:
			return nil, fmt.Errorf("wkt: unexpected %q at offset %d", lx.s[lx.pos], lx.pos)
		}
	}
}

func (lx *wktLexer) arg() (wktArg, error) {
	c := lx.s[lx.pos]
	switch {
	case c == '"':
		lx.pos++
		var sb strings.Builder
		for lx.pos < len(lx.s) {
			if lx.s[lx.pos] == '"' {
				if lx.pos+1 < len(lx.s) && lx.s[lx.pos+1] == '"' {
					sb.WriteByte('"')
					lx.pos += 2
					continue
				}
				lx.pos++
				return wktArg{text: sb.String(), quoted: true}, nil
			}
			sb.WriteByte(lx.s[lx.pos])
			lx.pos++
		}
		return wktArg{}, fmt.Errorf("wkt: unterminated string")
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		start := lx.pos
		for lx.pos < len(lx.s) && strings.IndexByte("+-.0123456789eE", lx.s[lx.pos]) >= 0 {
			lx.pos++
		}
		return wktArg{text: lx.s[start:lx.pos]}, nil
	default:
		n, err := lx.node()
		if err != nil {
			return wktArg{}, err
		}
		return wktArg{node: n}, nil
	}
}

func (n *wktNode) child(keywords ...string) *wktNode {
	for _, a := range n.args {
		if a.node == nil {
			continue
		}
		for _, k := range keywords {
			if a.node.keyword == k {
				return a.node
			}
		}
	}
	return nil
}

// name returns the first quoted argument of the node
func (n *wktNode) name() string {
	if len(n.args) > 0 && n.args[0].quoted {
		return n.args[0].text
	}
	return ""
}

// epsg returns the EPSG code of the node's AUTHORITY (WKT1) or ID (WKT2)
func (n *wktNode) epsg() (int, bool) {
	auth := n.child("AUTHORITY", "ID")
	if auth == nil || len(auth.args) < 2 || !strings.EqualFold(auth.args[0].text, "EPSG") {
		return 0, false
	}
	code, err := strconv.Atoi(auth.args[1].text)
	if err != nil {
		return 0, false
	}
	return code, true
}
