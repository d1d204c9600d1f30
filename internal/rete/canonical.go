package rete

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key is the structural hash of a condition subtree. Group children are hashed
// in their written order, so AND(a,b) and AND(b,a) have different keys.
type Key string

// LeafKey hashes a leaf predicate. Literals of exists/not_exists do not
// participate because those operators ignore them.
func LeafKey(l Leaf) Key {
	var b strings.Builder
	b.WriteString("L")
	writeString(&b, l.Field)
	writeString(&b, string(l.Op))
	if l.Op == OpExists || l.Op == OpNotExists {
		writeValue(&b, Null())
	} else {
		writeValue(&b, l.Value)
	}
	return hashKey(b.String())
}

// GroupKey hashes a group from its operator and its children's keys.
func GroupKey(op GroupOp, children []Key) Key {
	var b strings.Builder
	b.WriteString("G")
	writeString(&b, string(op))
	b.WriteString(strconv.Itoa(len(children)))
	b.WriteByte('(')
	for _, k := range children {
		b.WriteString(string(k))
		b.WriteByte(',')
	}
	b.WriteByte(')')
	return hashKey(b.String())
}

// CanonicalKey computes the key of a whole condition tree.
func CanonicalKey(c Condition) Key {
	if c.Kind == NodeLeaf {
		return LeafKey(c.Leaf)
	}
	keys := make([]Key, len(c.Children))
	for i, child := range c.Children {
		keys[i] = CanonicalKey(child)
	}
	return GroupKey(c.Op, keys)
}

func hashKey(s string) Key {
	sum := sha256.Sum256([]byte(s))
	return Key(hex.EncodeToString(sum[:]))
}

// Short returns an abbreviated key for logs.
func (k Key) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}

func writeString(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func writeValue(b *strings.Builder, v Value) {
	switch v.Kind() {
	case KindNull:
		b.WriteByte('z')
	case KindNumber:
		n, _ := v.AsNumber()
		if n == 0 {
			n = 0 // folds -0
		}
		b.WriteByte('n')
		b.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
		b.WriteByte(';')
	case KindString:
		s, _ := v.AsString()
		b.WriteByte('s')
		writeString(b, s)
	case KindBool:
		if t, _ := v.AsBool(); t {
			b.WriteByte('t')
		} else {
			b.WriteByte('f')
		}
	case KindArray:
		items := v.Items()
		b.WriteByte('a')
		b.WriteString(strconv.Itoa(len(items)))
		b.WriteByte('[')
		for _, item := range items {
			writeValue(b, item)
		}
		b.WriteByte(']')
	}
}
