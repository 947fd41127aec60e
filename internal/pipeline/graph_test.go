package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

func stub(role string, class Class, inputs ...string) Node {
	return Node{
		Role:      role,
		Class:     class,
		Inputs:    inputs,
		Transform: "stub",
		Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
			return &funscript.Script{}, nil
		},
	}
}

func TestCompileOrdersProducersFirst(t *testing.T) {
	g, err := Compile([]Node{
		stub("c", ClassFinal, "a", "b"),
		stub("d", ClassFinal, Primary),
		stub("b", ClassIntermediary, "a"),
		stub("a", ClassIntermediary, Primary),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, g.Order)
	assert.Equal(t, []Edge{{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "b", To: "c"}}, g.Edges)
	assert.Equal(t, []string{"b", "c"}, g.Consumers("a"))
	assert.Equal(t, []string{"c", "d"}, g.Roles(ClassFinal))
	assert.Equal(t, []string{"a", "b"}, g.Roles(ClassIntermediary))
}

func TestCompileRejectsInvalidGraphs(t *testing.T) {
	noProduce := stub("x", ClassFinal, Primary)
	noProduce.Produce = nil

	tests := []struct {
		name    string
		nodes   []Node
		wantErr string
	}{
		{"cycle", []Node{stub("x", ClassFinal, "y"), stub("y", ClassIntermediary, "x")}, "cycle among: x, y"},
		{"self dependency", []Node{stub("x", ClassFinal, "x")}, "depends on itself"},
		{"unknown input", []Node{stub("x", ClassFinal, "ghost")}, `unknown input "ghost"`},
		{"duplicate role", []Node{stub("x", ClassFinal, Primary), stub("x", ClassFinal, Primary)}, `duplicate role "x"`},
		{"reserved role", []Node{stub(Primary, ClassFinal)}, "reserved"},
		{"invalid role", []Node{stub("a.b", ClassFinal, Primary)}, "must not contain dots"},
		{"missing produce", []Node{noProduce}, "produce function is required"},
		{"unknown class", []Node{stub("x", Class("other"), Primary)}, "unknown class"},
		{"duplicate input", []Node{stub("x", ClassFinal, Primary, Primary)}, "twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.nodes)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGraphFingerprint(t *testing.T) {
	build := func(transform string) string {
		b := stub("b", ClassFinal, "a")
		b.Transform = transform
		g, err := Compile([]Node{stub("a", ClassIntermediary, Primary), b})
		require.NoError(t, err)
		return g.Fingerprint
	}

	first := build("stub")
	assert.Equal(t, first, build("stub"))
	assert.Contains(t, first, "blake3:")
	assert.NotEqual(t, first, build("invert"))
}
