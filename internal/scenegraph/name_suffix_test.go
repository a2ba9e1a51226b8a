package scenegraph

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// TestSiblingSuffixProperty pins the deterministic-name contract: for any
// base name, repeated creates under one parent mint base, base_2, ...,
// base_k in order, and deleting a suffixed sibling frees the smallest slot
// for the next create.
func TestSiblingSuffixProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	newParented := func() *Graph {
		g := New()
		seq := 0
		g.SetIDFunc(func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		})
		if _, err := g.ReplaceFull([]*types.Instance{
			{ID: "ws", ClassName: "Workspace", Name: "Workspace"},
		}); err != nil {
			panic(err)
		}
		return g
	}

	create := func(g *Graph, base string) (*MutationResult, *types.Conflict) {
		return g.ApplyCommand(types.Change{
			Kind: types.ChangeCreate, ParentID: "ws", ClassName: "Folder", Name: base,
		})
	}

	properties.Property("k same-named creates mint base through base_k", prop.ForAll(
		func(base string, k int) bool {
			if len(base) > 80 {
				base = base[:80]
			}
			g := newParented()
			for i := 1; i <= k; i++ {
				res, conflict := create(g, base)
				if conflict != nil {
					return false
				}
				want := base
				if i > 1 {
					want = fmt.Sprintf("%s_%d", base, i)
				}
				if res.Name != want {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.IntRange(1, 8),
	))

	properties.Property("deleting a suffixed sibling frees the smallest slot", prop.ForAll(
		func(base string) bool {
			if len(base) > 80 {
				base = base[:80]
			}
			g := newParented()
			var ids []string
			for i := 0; i < 3; i++ {
				res, conflict := create(g, base)
				if conflict != nil {
					return false
				}
				ids = append(ids, res.ID)
			}
			if _, conflict := g.ApplyCommand(types.Change{Kind: types.ChangeDelete, ID: ids[1]}); conflict != nil {
				return false
			}
			res, conflict := create(g, base)
			if conflict != nil {
				return false
			}
			return res.Name == base+"_2"
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
