// Package segment defines the ordered Literal/Bind stream produced by template
// evaluation and consumed by the renderer.
package segment

import (
	"strings"
)

// Origin tells where a bind point takes its value from.
type Origin int

const (
	// OriginField reads from the caller's record through the binding table.
	OriginField Origin = iota + 1
	// OriginLocal reads a value produced by template evaluation.
	OriginLocal
)

func (o Origin) String() string {
	switch o {
	case OriginField:
		return "field"
	case OriginLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Cardinality tells whether a bind point expands to one placeholder or many.
type Cardinality int

const (
	Scalar Cardinality = iota + 1
	List
)

func (c Cardinality) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case List:
		return "list"
	default:
		return "unknown"
	}
}

// BindPoint is a named slot replaced by placeholders at render time.
// Key identifies one concrete local binding; it is empty for fields and for
// locals whose defining branch was not taken.
type BindPoint struct {
	Name        string
	Key         string
	Origin      Origin
	Cardinality Cardinality
}

// Kind distinguishes literal text from bind points.
type Kind int

const (
	KindLiteral Kind = iota + 1
	KindBind
)

// Segment is either literal SQL text or a bind point reference.
type Segment struct {
	Kind Kind
	Text string
	Bind BindPoint
}

// Literal creates a literal text segment.
func Literal(text string) Segment {
	return Segment{Kind: KindLiteral, Text: text}
}

// Field creates a scalar bind point on a record field.
func Field(name string) Segment {
	return bind(BindPoint{Name: name, Origin: OriginField, Cardinality: Scalar})
}

// FieldList creates a list bind point on a record field.
func FieldList(name string) Segment {
	return bind(BindPoint{Name: name, Origin: OriginField, Cardinality: List})
}

// Local creates a scalar bind point on a template-local binding.
func Local(name, key string) Segment {
	return bind(BindPoint{Name: name, Key: key, Origin: OriginLocal, Cardinality: Scalar})
}

// LocalList creates a list bind point on a template-local binding.
func LocalList(name, key string) Segment {
	return bind(BindPoint{Name: name, Key: key, Origin: OriginLocal, Cardinality: List})
}

func bind(bp BindPoint) Segment {
	return Segment{Kind: KindBind, Bind: bp}
}

// Stream is the ordered output of template evaluation. Order is render-significant.
type Stream []Segment

// BindPoints returns the bind points in stream order.
func (s Stream) BindPoints() []BindPoint {
	var result []BindPoint

	for _, seg := range s {
		if seg.Kind == KindBind {
			result = append(result, seg.Bind)
		}
	}

	return result
}

// String renders the stream with {{name}} markers for debugging.
func (s Stream) String() string {
	var b strings.Builder

	for _, seg := range s {
		switch seg.Kind {
		case KindLiteral:
			b.WriteString(seg.Text)
		case KindBind:
			b.WriteString("{{")

			if seg.Bind.Origin == OriginLocal {
				b.WriteString("local:")
			}

			b.WriteString(seg.Bind.Name)

			if seg.Bind.Cardinality == List {
				b.WriteString("...")
			}

			b.WriteString("}}")
		}
	}

	return b.String()
}

// Builder accumulates segments, merging adjacent literals.
type Builder struct {
	segments Stream
}

// Literal appends literal text. Empty text is ignored.
func (b *Builder) Literal(text string) {
	if text == "" {
		return
	}

	if n := len(b.segments); n > 0 && b.segments[n-1].Kind == KindLiteral {
		b.segments[n-1].Text += text
		return
	}

	b.segments = append(b.segments, Literal(text))
}

// Append appends a segment as-is, except literals which are merged.
func (b *Builder) Append(seg Segment) {
	if seg.Kind == KindLiteral {
		b.Literal(seg.Text)
		return
	}

	b.segments = append(b.segments, seg)
}

// Len returns the number of segments collected so far.
func (b *Builder) Len() int {
	return len(b.segments)
}

// Stream returns the collected stream. The builder must not be used afterwards.
func (b *Builder) Stream() Stream {
	result := b.segments
	b.segments = nil

	return result
}
