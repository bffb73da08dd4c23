// Package ui paints cart and wishlist counts onto badge nodes.
package ui

import (
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

// Badge classes toggled on every paint.
const (
	ClassEmpty    = "empty"
	ClassHasItems = "has-items"
)

// Selectors the page uses for counter badges.
var selectors = map[domain.Kind]string{
	domain.KindCart:     ".cart-counter",
	domain.KindWishlist: ".wishlist-counter",
}

// Selector returns the badge selector for kind.
func Selector(k domain.Kind) string {
	return selectors[k]
}

// ErrDetached is returned by a badge that is no longer on the page.
var ErrDetached = errors.New("badge detached")

// Badge is one counter node.
type Badge interface {
	SetText(text string) error
	SetClass(class string, on bool) error
}

// Locator finds the badges for a kind.
type Locator interface {
	Locate(kind domain.Kind) []Badge
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(kind domain.Kind) []Badge

// Locate calls f.
func (f LocatorFunc) Locate(kind domain.Kind) []Badge { return f(kind) }

// Node is an in-memory badge. It records what was painted so the HTTP
// surface and tests can read it back.
type Node struct {
	mu       sync.Mutex
	text     string
	classes  map[string]bool
	detached bool
	writes   int
}

// NewNode creates an empty node.
func NewNode() *Node {
	return &Node{classes: make(map[string]bool)}
}

// SetText sets the node text.
func (n *Node) SetText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.detached {
		return ErrDetached
	}
	n.text = text
	n.writes++
	return nil
}

// SetClass adds or removes a class.
func (n *Node) SetClass(class string, on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.detached {
		return ErrDetached
	}
	if on {
		n.classes[class] = true
	} else {
		delete(n.classes, class)
	}
	return nil
}

// Detach makes later writes fail.
func (n *Node) Detach() {
	n.mu.Lock()
	n.detached = true
	n.mu.Unlock()
}

// Text returns the painted text.
func (n *Node) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

// Writes returns how many times the text was written.
func (n *Node) Writes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes
}

// HasClass reports whether class is set.
func (n *Node) HasClass(class string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.classes[class]
}

// Classes returns the set classes, sorted.
func (n *Node) Classes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.classes))
	for c := range n.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Board is a Locator over fixed in-memory nodes, one set per kind.
type Board struct {
	mu    sync.Mutex
	nodes map[domain.Kind][]*Node
}

// NewBoard creates a board with perKind nodes for every kind.
func NewBoard(perKind int) *Board {
	b := &Board{nodes: make(map[domain.Kind][]*Node)}
	for _, k := range domain.Kinds {
		for i := 0; i < perKind; i++ {
			b.nodes[k] = append(b.nodes[k], NewNode())
		}
	}
	return b
}

// Add places another node for kind.
func (b *Board) Add(kind domain.Kind) *Node {
	n := NewNode()
	b.mu.Lock()
	b.nodes[kind] = append(b.nodes[kind], n)
	b.mu.Unlock()
	return n
}

// Nodes returns the nodes for kind.
func (b *Board) Nodes(kind domain.Kind) []*Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Node(nil), b.nodes[kind]...)
}

// Locate implements Locator.
func (b *Board) Locate(kind domain.Kind) []Badge {
	nodes := b.Nodes(kind)
	out := make([]Badge, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

// Text returns the text of the first node for kind and whether one exists.
func (b *Board) Text(kind domain.Kind) (string, bool) {
	nodes := b.Nodes(kind)
	if len(nodes) == 0 {
		return "", false
	}
	return nodes[0].Text(), true
}

func formatCount(n domain.Count) string {
	return strconv.Itoa(n)
}
