package device

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/autoglm/phoneagent/pkg/memory"
)

// UiElement is an interactive component extracted from a screen (§3, §4.1).
//
// Identity for graph keying is computed from ClassPath + semantic attrs
// only, never BBox or Center - two elements with identical semantics but
// different positions across a resize/rotation are still the same element.
type UiElement struct {
	ElemID      string
	BBox        BBox
	Center      Point
	ClassPath   string
	Checked     string // "enabled" | "disabled"
	Focused     string // "enabled" | "disabled"
	ResourceID  string
	ContentDesc string
	Text        string
}

// Identity projects a UiElement onto the fields that define node equality
// within a WorkGraph (§3 WorkNode invariant).
func (e UiElement) Identity() memory.ElementIdentity {
	return memory.ElementIdentity{
		ElemID:      e.ElemID,
		ClassPath:   e.ClassPath,
		ResourceID:  e.ResourceID,
		ContentDesc: e.ContentDesc,
		Text:        e.Text,
		Checked:     e.Checked,
		Focused:     e.Focused,
	}
}

// content returns the non-empty semantic attribute set used by the
// speculative executor's similarity computation (§4.8) and the reflection
// engine's positional keying (§4.9): resource-id, content-desc, text.
func (e UiElement) content() []string {
	var out []string
	if e.ResourceID != "" {
		out = append(out, "resource-id:"+e.ResourceID)
	}
	if e.ContentDesc != "" {
		out = append(out, "content-desc:"+e.ContentDesc)
	}
	if e.Text != "" {
		out = append(out, "text:"+e.Text)
	}
	return out
}

// rawNode mirrors an Android uiautomator hierarchy dump node: attributes plus
// nested <node> children, parsed generically so the root element's tag name
// (commonly "hierarchy") doesn't need to be known in advance.
type rawNode struct {
	XMLName  xml.Name
	Attr     []xml.Attr `xml:",any,attr"`
	Children []rawNode  `xml:",any"`
}

func (n rawNode) attr(key string) string {
	for _, a := range n.Attr {
		if a.Name.Local == key {
			return a.Value
		}
	}
	return ""
}

func (n rawNode) isNode() bool { return n.XMLName.Local == "node" }

// defaultDedupeDistance is the pixel radius within which a clickable and a
// focusable candidate are considered the same on-screen target (§4.1).
const defaultDedupeDistance = 30.0

// ExtractElements parses a uiautomator-style XML hierarchy dump into the
// ordered list of actionable UiElements (§4.1 UiExtractor capability).
func ExtractElements(rawXML string) ([]UiElement, error) {
	var root rawNode
	if err := xml.Unmarshal([]byte(rawXML), &root); err != nil {
		return nil, fmt.Errorf("parse ui xml: %w", err)
	}

	var clickable, focusable []UiElement
	var walk func(n rawNode, path []rawNode)
	walk = func(n rawNode, path []rawNode) {
		path = append(path, n)
		if n.isNode() {
			if isClickable(n) {
				clickable = append(clickable, buildElement(n, path))
			}
			if isFocusable(n) {
				focusable = append(focusable, buildElement(n, path))
			}
		}
		for _, c := range n.Children {
			walk(c, path)
		}
	}
	for _, c := range root.Children {
		walk(c, nil)
	}

	return mergeDedupe(clickable, focusable, defaultDedupeDistance), nil
}

func isClickable(n rawNode) bool {
	return n.attr("enabled") == "true" &&
		n.attr("visible-to-user") != "false" &&
		(n.attr("clickable") == "true" || n.attr("long-clickable") == "true" || n.attr("scrollable") == "true")
}

func isFocusable(n rawNode) bool {
	return n.attr("enabled") == "true" &&
		n.attr("visible-to-user") != "false" &&
		n.attr("focusable") == "true"
}

func parseBounds(n rawNode) (BBox, error) {
	raw := n.attr("bounds")
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	parts := strings.Split(raw, "][")
	if len(parts) != 2 {
		return BBox{}, fmt.Errorf("malformed bounds %q", n.attr("bounds"))
	}
	p1 := strings.Split(parts[0], ",")
	p2 := strings.Split(parts[1], ",")
	if len(p1) != 2 || len(p2) != 2 {
		return BBox{}, fmt.Errorf("malformed bounds %q", n.attr("bounds"))
	}
	x1, err := strconv.Atoi(p1[0])
	if err != nil {
		return BBox{}, err
	}
	y1, err := strconv.Atoi(p1[1])
	if err != nil {
		return BBox{}, err
	}
	x2, err := strconv.Atoi(p2[0])
	if err != nil {
		return BBox{}, err
	}
	y2, err := strconv.Atoi(p2[1])
	if err != nil {
		return BBox{}, err
	}
	return BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// semanticParts returns the non-empty resource-id/text/content-desc values
// of n, in that priority order - the building blocks of elem_id.
func semanticParts(n rawNode) []string {
	var parts []string
	for _, k := range []string{"resource-id", "text", "content-desc"} {
		v := strings.TrimSpace(n.attr(k))
		if v != "" {
			parts = append(parts, strings.ReplaceAll(v, "/", "_"))
		}
	}
	return parts
}

// semanticFromChildren searches n's node descendants for resource-id/text/
// content-desc, keeping the longest text found. Used only to fill in
// identity for the emitted target when it has no semantic attrs of its own
// (§4.1: "may inherit ... only if it is the emitted target").
func semanticFromChildren(n rawNode) map[string]string {
	out := map[string]string{}
	var walk func(rawNode)
	walk = func(c rawNode) {
		if c.isNode() {
			for _, k := range []string{"resource-id", "text", "content-desc"} {
				v := strings.TrimSpace(c.attr(k))
				if v == "" {
					continue
				}
				if existing, ok := out[k]; !ok {
					out[k] = v
				} else if k == "text" && len(v) > len(existing) {
					out[k] = v
				}
			}
		}
		for _, cc := range c.Children {
			walk(cc)
		}
	}
	for _, c := range n.Children {
		walk(c)
	}
	return out
}

// elemIDWithoutChildren computes elem_id using only n's own attributes,
// falling back to class+WxH - used for parent-context prefixes, which must
// never inherit from descendants.
func elemIDWithoutChildren(n rawNode) string {
	parts := semanticParts(n)
	if len(parts) > 0 {
		return strings.Join(parts, "_")
	}
	bbox, err := parseBounds(n)
	class := n.attr("class")
	if class == "" {
		class = "node"
	}
	if err != nil {
		return class
	}
	return fmt.Sprintf("%s_%dx%d", class, bbox.X2-bbox.X1, bbox.Y2-bbox.Y1)
}

// elemID computes the full elem_id for n, allowing descendant fallback when
// n itself lacks semantic attrs (the "emitted target" case).
func elemID(n rawNode) string {
	parts := semanticParts(n)
	needsChildFallback := len(parts) == 0 || (len(parts) == 1 && strings.HasPrefix(parts[0], "com."))
	if needsChildFallback {
		child := semanticFromChildren(n)
		have := map[string]bool{}
		for _, p := range parts {
			have[strings.ReplaceAll(p, "_", "/")] = true
		}
		for _, k := range []string{"text", "content-desc", "resource-id"} {
			v := child[k]
			if v != "" && !have[v] {
				parts = append(parts, strings.ReplaceAll(v, "/", "_"))
			}
		}
	}
	if len(parts) == 0 {
		return elemIDWithoutChildren(n)
	}
	return strings.Join(parts, "_")
}

// classPathStep renders one ancestor's xpath-style step: its class's last
// dotted segment, with semantic conditions in brackets. isTarget enables the
// same child-inheritance fallback as elemID, applied only on the final step.
func classPathStep(n rawNode, isTarget bool) string {
	class := n.attr("class")
	if class == "" {
		class = "node"
	}
	segs := strings.Split(class, ".")
	name := segs[len(segs)-1]

	type cond struct{ key, val string }
	var conds []cond
	hasSemantic := false
	for _, k := range []string{"resource-id", "content-desc", "text"} {
		v := n.attr(k)
		if v != "" {
			conds = append(conds, cond{k, v})
			if k == "content-desc" || k == "text" {
				hasSemantic = true
			}
		}
	}

	if isTarget && !hasSemantic {
		child := semanticFromChildren(n)
		for _, k := range []string{"text", "content-desc"} {
			if v, ok := child[k]; ok {
				conds = append(conds, cond{k, v})
			}
		}
	}

	if len(conds) == 0 {
		return name
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = fmt.Sprintf("@%s=%q", c.key, c.val)
	}
	return name + "[" + strings.Join(parts, " | ") + "]"
}

// buildElement constructs a UiElement for the last node in path (its
// ancestor chain, root-first, including itself).
func buildElement(n rawNode, path []rawNode) UiElement {
	bbox, _ := parseBounds(n)

	id := elemID(n)
	if len(path) > 1 {
		parent := path[len(path)-2]
		if parent.isNode() {
			id = elemIDWithoutChildren(parent) + "__" + id
		}
	}

	var steps []string
	for i, p := range path {
		if !p.isNode() {
			continue
		}
		steps = append(steps, classPathStep(p, i == len(path)-1))
	}
	classPath := "/" + strings.Join(steps, "/")

	checked := "disabled"
	if n.attr("checked") == "true" && n.attr("checkable") == "true" {
		checked = "enabled"
	}
	focused := "disabled"
	if n.attr("focused") == "true" && n.attr("focusable") == "true" {
		focused = "enabled"
	}

	return UiElement{
		ElemID:      id,
		BBox:        bbox,
		Center:      bbox.Center(),
		ClassPath:   classPath,
		Checked:     checked,
		Focused:     focused,
		ResourceID:  n.attr("resource-id"),
		ContentDesc: n.attr("content-desc"),
		Text:        n.attr("text"),
	}
}

// mergeDedupe keeps every clickable element, then adds focusable elements
// that aren't within dist pixels of a clickable element with no
// contradicting semantic attribute (§4.1).
func mergeDedupe(clickable, focusable []UiElement, dist float64) []UiElement {
	out := make([]UiElement, len(clickable))
	copy(out, clickable)

	for _, f := range focusable {
		close := false
		for _, c := range clickable {
			dx := float64(f.Center.X - c.Center.X)
			dy := float64(f.Center.Y - c.Center.Y)
			if math.Hypot(dx, dy) > dist {
				continue
			}
			if differsSemantically(f, c) {
				continue
			}
			close = true
			break
		}
		if !close {
			out = append(out, f)
		}
	}
	return out
}

func differsSemantically(a, b UiElement) bool {
	if a.ResourceID != "" && b.ResourceID != "" && a.ResourceID != b.ResourceID {
		return true
	}
	if a.ContentDesc != "" && b.ContentDesc != "" && a.ContentDesc != b.ContentDesc {
		return true
	}
	if a.Text != "" && b.Text != "" && a.Text != b.Text {
		return true
	}
	return false
}

// JaccardSimilarity computes |A cap B| / |A cup B| over elements' non-empty
// content attributes (resource-id/content-desc/text), the similarity used by
// the speculative executor (§4.8) to match the current screen to a
// historical node.
func JaccardSimilarity(a, b []UiElement) float64 {
	setA := contentSet(a)
	setB := contentSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0.0
	}

	inter := 0
	union := map[string]bool{}
	for k := range setA {
		union[k] = true
	}
	for k := range setB {
		union[k] = true
		if setA[k] {
			inter++
		}
	}
	if len(union) == 0 {
		return 0.0
	}
	return float64(inter) / float64(len(union))
}

func contentSet(elements []UiElement) map[string]bool {
	set := map[string]bool{}
	for _, e := range elements {
		for _, c := range e.content() {
			set[c] = true
		}
	}
	return set
}

// ContentKeys returns e's non-empty semantic content attributes
// (resource-id/content-desc/text), sorted for deterministic rendering - used
// by the speculative executor when labeling predicted elements (§4.8.5).
func ContentKeys(e UiElement) []string {
	c := e.content()
	sort.Strings(c)
	return c
}
