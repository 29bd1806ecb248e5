package ldevents

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// contextFormatter implements C1: it serializes a Context for inclusion in analytics event output,
// redacting attributes according to the global private-attribute list, the per-context private list, or
// the all-attributes-private flag (spec §4.1).
type contextFormatter struct {
	allAttributesPrivate bool
	globalPrivateLookup  map[string]*privateLookupNode
}

// privateLookupNode is one level of the tree built from the global private-attribute list, letting
// writeContext test "is this attribute (or one of its ancestors) globally private" in O(depth) instead
// of rescanning the whole list at every nesting level.
type privateLookupNode struct {
	ref      *ldattr.Ref
	children map[string]*privateLookupNode
}

func newContextFormatter(config EventsConfiguration) contextFormatter {
	f := contextFormatter{allAttributesPrivate: config.AllAttributesPrivate}
	if len(config.PrivateAttributes) > 0 {
		f.globalPrivateLookup = buildPrivateLookup(config.PrivateAttributes)
	}
	return f
}

func buildPrivateLookup(refs []ldattr.Ref) map[string]*privateLookupNode {
	root := make(map[string]*privateLookupNode)
	for i := range refs {
		ref := refs[i]
		level := root
		for d := 0; d < ref.Depth(); d++ {
			name := ref.Component(d)
			node := level[name]
			if node == nil {
				node = &privateLookupNode{}
				level[name] = node
			}
			if d == ref.Depth()-1 {
				node.ref = &ref
			} else {
				if node.children == nil {
					node.children = make(map[string]*privateLookupNode)
				}
			}
			level = node.children
		}
	}
	return root
}

// writeContext serializes ec into w, applying redaction. It is the only entry point used by the output
// formatter (C2).
func (f contextFormatter) writeContext(w *jwriter.Writer, ec EventInputContext) {
	if ec.preserialized != nil {
		w.Raw(ec.preserialized)
		return
	}
	if ec.context.Err() != nil {
		w.AddError(ec.context.Err())
		return
	}
	if ec.context.Multiple() {
		f.writeMulti(w, ec.context)
		return
	}
	f.writeSingle(w, ec.context, true)
}

func (f contextFormatter) writeMulti(w *jwriter.Writer, c ldcontext.Context) {
	obj := w.Object()
	obj.Name(ldattr.KindAttr).String(string(ldcontext.MultiKind))
	for i := 0; i < c.IndividualContextCount(); i++ {
		ic := c.IndividualContextByIndex(i)
		if !ic.IsDefined() {
			continue
		}
		obj.Name(string(ic.Kind()))
		f.writeSingle(w, ic, false)
	}
	obj.End()
}

func (f contextFormatter) writeSingle(w *jwriter.Writer, c ldcontext.Context, includeKind bool) {
	redactAll := f.allAttributesPrivate
	obj := w.Object()
	if includeKind {
		obj.Name(ldattr.KindAttr).String(string(c.Kind()))
	}
	obj.Name(ldattr.KeyAttr).String(c.Key())

	names := make([]string, 0, 20)
	names = c.GetOptionalAttributeNames(names)
	redacted := make([]string, 0, 10)

	for _, name := range names {
		value := c.GetValue(name)
		if !value.IsDefined() {
			continue
		}
		if redactAll {
			redacted = append(redacted, ldattr.NewLiteralRef(name).String())
			continue
		}
		f.writeAttribute(w, c, &obj, nil, name, value, &redacted)
	}

	if c.Anonymous() {
		obj.Name(ldattr.AnonymousAttr).Bool(true)
	}

	if len(redacted) > 0 {
		meta := obj.Name("_meta").Object()
		arr := meta.Name("redactedAttributes").Array()
		for _, r := range redacted {
			arr.String(r)
		}
		arr.End()
		meta.End()
	}
	obj.End()
}

// writeAttribute decides whether value (found at path = append(parentPath, key)) is private, and either
// writes it (recursing into object values that have only partially-private subtrees) or records its
// canonical AttributeRef in redacted and omits it. See spec §4.1's redaction algorithm.
func (f contextFormatter) writeAttribute(
	w *jwriter.Writer,
	c ldcontext.Context,
	parent *jwriter.ObjectState,
	parentPath []string,
	key string,
	value ldvalue.Value,
	redacted *[]string,
) {
	path := append(append([]string(nil), parentPath...), key)
	fullyRedacted, childrenMayBeRedacted := f.isPrivate(c, path, value.Type(), redacted)

	if value.Type() != ldvalue.ObjectType {
		if !fullyRedacted {
			parent.Name(key)
			value.WriteToJSONWriter(w)
		}
		return
	}

	if fullyRedacted {
		return
	}
	parent.Name(key)
	if !childrenMayBeRedacted {
		value.WriteToJSONWriter(w)
		return
	}
	sub := w.Object()
	keys := make([]string, 0, 20)
	keys = value.Keys(keys)
	for _, subKey := range keys {
		f.writeAttribute(w, c, &sub, path, subKey, value.GetByKey(subKey), redacted)
	}
	sub.End()
}

// isPrivate reports whether the attribute at path is itself fully private (first return value), and
// whether any descendant of path is private even though path itself is not (second return value). It
// checks the global private-attribute list first, then the context's own private-attribute list.
func (f contextFormatter) isPrivate(
	c ldcontext.Context,
	path []string,
	valueType ldvalue.ValueType,
	redacted *[]string,
) (fullyRedacted bool, childrenMayBeRedacted bool) {
	if ref, exact := f.lookupGlobal(path); ref != nil {
		*redacted = append(*redacted, ref.String())
		return true, false
	} else if exact {
		childrenMayBeRedacted = true
	}

	checkChildren := valueType == ldvalue.ObjectType
	for i := 0; i < c.PrivateAttributeCount(); i++ {
		ref, _ := c.PrivateAttributeByIndex(i)
		depth := ref.Depth()
		if depth < len(path) {
			continue
		}
		if !checkChildren && depth > len(path) {
			continue
		}
		match := true
		for j := 0; j < len(path); j++ {
			if ref.Component(j) != path[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if depth == len(path) {
			*redacted = append(*redacted, ref.String())
			return true, false
		}
		childrenMayBeRedacted = true
	}
	return false, childrenMayBeRedacted
}

// lookupGlobal walks the precomputed lookup tree for path. The second return value is true if path
// itself had a node in the tree (with no ref attached) meaning some descendant is privately referenced.
func (f contextFormatter) lookupGlobal(path []string) (ref *ldattr.Ref, hadNode bool) {
	level := f.globalPrivateLookup
	if level == nil {
		return nil, false
	}
	for i, name := range path {
		node := level[name]
		if node == nil {
			return nil, false
		}
		if i == len(path)-1 {
			return node.ref, node.ref == nil
		}
		level = node.children
	}
	return nil, false
}
