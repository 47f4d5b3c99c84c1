package geostore

import (
	"strings"

	"github.com/mohammed-shakir/geoswarm/internal/feedlog"
)

const (
	FeaturesNS = "features/"
	TypesNS    = "types/"
	QuadkeysNS = "quadkeys/"
)

func FeatureKey(id string) string { return FeaturesNS + id }

func TypeKey(typ, id string) string { return TypePrefix(typ) + id }

func QuadkeyKey(q, id string) string { return QuadkeysNS + q + "/" + id }

// TypePrefix is the key prefix shared by every feature of one type.
func TypePrefix(typ string) string { return TypesNS + EscapeType(typ) + "/" }

// NamespaceRange covers every key of a namespace such as FeaturesNS.
func NamespaceRange(ns string) feedlog.Range {
	return PrefixRange(ns)
}

// PrefixRange covers exactly the keys starting with prefix.
func PrefixRange(prefix string) feedlog.Range {
	return feedlog.Range{GTE: prefix, LT: prefixEnd(prefix)}
}

// QuadkeyRange covers the tile q and every tile below it. Quadkey digits
// sort before '~', so the upper bound closes the subtree.
func QuadkeyRange(q string) feedlog.Range {
	return feedlog.Range{GTE: QuadkeysNS + q, LT: QuadkeysNS + q + "~"}
}

// smallest string greater than every string with the given prefix
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// EscapeType makes a thematic type safe to embed in a key. Bytes outside
// [A-Za-z0-9:_.-] are percent-encoded, so distinct types never share a key.
func EscapeType(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isKeySafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isKeySafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ':' || c == '_' || c == '-' || c == '.'
}
