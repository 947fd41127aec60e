package pipeline

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/stimforge/internal/funscript"
	"github.com/mattjoyce/stimforge/internal/workspace"
)

// Class is the static classification of a channel role.
type Class string

const (
	// ClassFinal channels are delivered to the device.
	ClassFinal Class = "final"
	// ClassIntermediary channels feed later nodes.
	ClassIntermediary Class = "intermediary"
	// ClassAlternative channels are produced but never consumed; removing
	// them changes no final output.
	ClassAlternative Class = "alternative"
)

// Primary names the source timeline as a node input. It is not a node.
const Primary = "primary"

// ProduceFunc computes one channel from its declared inputs.
type ProduceFunc func(ctx context.Context, in *Inputs) (*funscript.Script, error)

// Node is one channel role in the dependency graph.
type Node struct {
	Role      string   `json:"role"`
	Class     Class    `json:"class"`
	Inputs    []string `json:"inputs"`
	Transform string   `json:"transform"`
	// Overridable roles may be supplied by the user as an auxiliary file
	// beside the source, which replaces generation entirely.
	Overridable bool `json:"overridable"`
	// Deliver places an alternative channel in the output directory.
	Deliver bool        `json:"deliver,omitempty"`
	Produce ProduceFunc `json:"-"`
}

// Edge defines a directed dependency: To consumes From.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a compiled, validated channel DAG.
type Graph struct {
	Nodes       map[string]Node
	Edges       []Edge
	Order       []string
	Fingerprint string // blake3:<hex> of the normalized node and edge set.
}

// Compile validates nodes and orders them so every producer precedes its
// consumers. Ties are broken by role name so the order is deterministic.
func Compile(nodes []Node) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]Node, len(nodes))}

	for i, node := range nodes {
		role := strings.TrimSpace(node.Role)
		if err := workspace.ValidateRole(role); err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if role == Primary {
			return nil, fmt.Errorf("nodes[%d]: role %q is reserved", i, Primary)
		}
		if _, exists := g.Nodes[role]; exists {
			return nil, fmt.Errorf("duplicate role %q", role)
		}
		if node.Produce == nil {
			return nil, fmt.Errorf("role %q: produce function is required", role)
		}
		switch node.Class {
		case ClassFinal, ClassIntermediary, ClassAlternative:
		default:
			return nil, fmt.Errorf("role %q: unknown class %q", role, node.Class)
		}
		node.Role = role
		g.Nodes[role] = node
	}

	for _, role := range sortedRoles(g.Nodes) {
		node := g.Nodes[role]
		seen := make(map[string]struct{}, len(node.Inputs))
		for _, in := range node.Inputs {
			if in == role {
				return nil, fmt.Errorf("role %q depends on itself", role)
			}
			if _, dup := seen[in]; dup {
				return nil, fmt.Errorf("role %q lists input %q twice", role, in)
			}
			seen[in] = struct{}{}
			if in == Primary {
				continue
			}
			if _, ok := g.Nodes[in]; !ok {
				return nil, fmt.Errorf("role %q references unknown input %q", role, in)
			}
			g.Edges = append(g.Edges, Edge{From: in, To: role})
		}
	}
	sortEdges(g.Edges)

	order, err := topoOrder(g)
	if err != nil {
		return nil, err
	}
	g.Order = order

	fingerprint, err := fingerprintGraph(g)
	if err != nil {
		return nil, err
	}
	g.Fingerprint = fingerprint
	return g, nil
}

// topoOrder is Kahn's algorithm with the ready set kept sorted.
func topoOrder(g *Graph) ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	for role := range g.Nodes {
		inDegree[role] = 0
	}
	for _, edge := range g.Edges {
		adj[edge.From] = append(adj[edge.From], edge.To)
		inDegree[edge.To]++
	}

	var ready []string
	for role, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, role)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, next := range adj[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(g.Nodes) {
		var stuck []string
		for role, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, role)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("channel graph contains a cycle among: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

// Roles returns the roles of the given class in execution order.
func (g *Graph) Roles(class Class) []string {
	var out []string
	for _, role := range g.Order {
		if g.Nodes[role].Class == class {
			out = append(out, role)
		}
	}
	return out
}

// Consumers returns the roles that take role as an input, sorted.
func (g *Graph) Consumers(role string) []string {
	var out []string
	for _, edge := range g.Edges {
		if edge.From == role {
			out = append(out, edge.To)
		}
	}
	return out
}

func fingerprintGraph(g *Graph) (string, error) {
	type fingerprintShape struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}

	nodes := make([]Node, 0, len(g.Nodes))
	for _, role := range sortedRoles(g.Nodes) {
		nodes = append(nodes, g.Nodes[role])
	}

	body, err := json.Marshal(fingerprintShape{Nodes: nodes, Edges: g.Edges})
	if err != nil {
		return "", fmt.Errorf("marshal graph fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From == edges[j].From {
			return edges[i].To < edges[j].To
		}
		return edges[i].From < edges[j].From
	})
}

func sortedRoles(nodes map[string]Node) []string {
	out := make([]string, 0, len(nodes))
	for role := range nodes {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
