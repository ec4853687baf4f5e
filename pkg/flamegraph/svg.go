package flamegraph

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// SVGOptions configures the flame graph SVG output.
type SVGOptions struct {
	Title       string
	Width       int
	ColorScheme string // "hot", "cold", "mem"
}

// DefaultSVGOptions returns sensible defaults.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		Title:       "Frame Scopes",
		Width:       1200,
		ColorScheme: "hot",
	}
}

const (
	frameHeight  = 16
	headerHeight = 40
	margin       = 10
)

type node struct {
	name     string
	value    int64
	children map[string]*node
}

func newNode(name string) *node {
	return &node{name: name, children: make(map[string]*node)}
}

func buildTree(stacks Stacks) *node {
	root := newNode("all")
	for stack, v := range stacks {
		if v <= 0 {
			continue
		}
		n := root
		n.value += v
		for _, name := range strings.Split(stack, ";") {
			child, ok := n.children[name]
			if !ok {
				child = newNode(name)
				n.children[name] = child
			}
			child.value += v
			n = child
		}
	}
	return root
}

func (n *node) depth() int {
	max := 0
	for _, c := range n.children {
		if d := c.depth() + 1; d > max {
			max = d
		}
	}
	return max
}

func (n *node) sortedChildren() []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// WriteSVG renders stacks as an SVG flame graph.
func WriteSVG(w io.Writer, stacks Stacks, opts SVGOptions) error {
	if opts.Width == 0 {
		opts.Width = 1200
	}
	root := buildTree(stacks)
	if root.value == 0 {
		return fmt.Errorf("no samples in collapsed stacks")
	}

	height := (root.depth()+1)*frameHeight + headerHeight + 2*margin
	fmt.Fprintf(w, `<?xml version="1.0" standalone="no"?>
<svg version="1.1" width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<style>
  .scope:hover { stroke:black; stroke-width:0.5; cursor:pointer; }
  text { font-family: monospace; font-size: 12px; }
</style>
<rect x="0" y="0" width="%d" height="%d" fill="white"/>
<text x="%d" y="20" text-anchor="middle" style="font-size:16px; font-weight:bold;">%s</text>
<text x="%d" y="35" text-anchor="middle" style="font-size:12px; fill:#666;">(%d µs)</text>
`,
		opts.Width, height,
		opts.Width, height,
		opts.Width/2, html.EscapeString(opts.Title),
		opts.Width/2, root.value)

	r := renderer{
		w:      w,
		total:  root.value,
		baseY:  height - margin,
		scheme: opts.ColorScheme,
	}
	r.render(root, margin, opts.Width-2*margin, 0)

	_, err := fmt.Fprintln(w, "</svg>")
	return err
}

type renderer struct {
	w      io.Writer
	total  int64
	baseY  int
	scheme string
}

func (r *renderer) render(n *node, x, width, depth int) {
	if width < 1 || n.value == 0 {
		return
	}

	y := r.baseY - (depth+1)*frameHeight
	red, green, blue := color(n.name, r.scheme)
	fmt.Fprintf(r.w, `<g class="scope">
<rect x="%d" y="%d" width="%d" height="%d" fill="rgb(%d,%d,%d)" rx="1"/>
`, x, y, width, frameHeight-1, red, green, blue)

	if label := fitLabel(n.name, width); label != "" {
		fmt.Fprintf(r.w, "<text x=\"%d\" y=\"%d\">%s</text>\n", x+2, y+frameHeight-4, html.EscapeString(label))
	}
	fmt.Fprintf(r.w, "<title>%s (%d µs, %.1f%%)</title>\n</g>\n",
		html.EscapeString(n.name), n.value, float64(n.value)/float64(r.total)*100)

	childX := x
	for _, c := range n.sortedChildren() {
		cw := int(float64(width) * float64(c.value) / float64(n.value))
		if cw < 1 {
			cw = 1
		}
		r.render(c, childX, cw, depth+1)
		childX += cw
	}
}

func fitLabel(name string, width int) string {
	if width <= 40 {
		return ""
	}
	maxChars := (width - 4) / 7
	if len(name) <= maxChars {
		return name
	}
	if maxChars > 3 {
		return name[:maxChars-2] + ".."
	}
	return ""
}

// color picks a stable color per scope name.
func color(name string, scheme string) (int, int, int) {
	h := int(xxh3.HashString(name) % 1000)
	switch scheme {
	case "cold":
		return 30, 50 + h%150, 150 + h%100
	case "mem":
		return 30, 190 + h%60, 30
	default:
		return 200 + h%55, 50 + h%150, 30
	}
}
