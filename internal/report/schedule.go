package report

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/encukou/abi-checker/internal/caserun"
)

// scheduleNode is a node in the dispatch-order graph: a compile build, an
// exec build, a test module, or a run. Grounded directly on
// internal/batch/batch.go's own `node{id int64, pkg, fullname string}`,
// which plays the same role for its package-build DAG.
type scheduleNode struct {
	id  int64
	key string
}

func (n *scheduleNode) ID() int64 { return n.id }

// schedule orders runs by a topological sort of the graph of their
// dependencies (compile build -> test module -> run, exec build -> run),
// modeled as a directed graph the way internal/batch/batch.go
// topologically sorts its package-build graph before dispatching workers.
// Only the runs are returned: builds and test modules are not dispatched
// on their own, and start when the first run that needs them asks for
// them. Nodes are visited in ID order (order of first appearance in runs),
// so the same input always yields the same order. The graph here can
// never contain a cycle (an edge only ever runs build -> module -> run),
// so the sort always succeeds; a failure falls back to expansion order
// rather than aborting the whole report.
func schedule(runs []*caserun.CaseRun) []*caserun.CaseRun {
	g := simple.NewDirectedGraph()
	nodes := make(map[string]*scheduleNode)
	var nextID int64
	nodeFor := func(key string) *scheduleNode {
		if n, ok := nodes[key]; ok {
			return n
		}
		n := &scheduleNode{id: nextID, key: key}
		nextID++
		nodes[key] = n
		g.AddNode(n)
		return n
	}
	addEdge := func(from, to *scheduleNode) {
		if from.ID() == to.ID() || g.HasEdgeFromTo(from.ID(), to.ID()) {
			return
		}
		g.SetEdge(g.NewEdge(from, to))
	}

	runByNode := make(map[int64]*caserun.CaseRun)
	for _, run := range runs {
		m := run.TestModule
		cb := m.CompileBuild
		eb := run.ExecBuild

		cbNode := nodeFor("build:" + cb.Tag())
		ebNode := nodeFor("build:" + eb.Tag())
		moduleNode := nodeFor("module:" + m.Case.Tag + "/" + cb.Tag() + "/" + m.CompileOption.Tag())
		runNode := nodeFor("run:" + m.Case.Tag + "/" + cb.Tag() + "/" + m.CompileOption.Tag() + "/" + eb.Tag())
		runByNode[runNode.ID()] = run

		addEdge(cbNode, moduleNode)
		addEdge(moduleNode, runNode)
		addEdge(ebNode, runNode)
	}

	order, err := topo.SortStabilized(g, func(ns []graph.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID() < ns[j].ID() })
	})
	if err != nil {
		return runs
	}
	scheduled := make([]*caserun.CaseRun, 0, len(runs))
	for _, n := range order {
		if run, ok := runByNode[n.ID()]; ok {
			scheduled = append(scheduled, run)
		}
	}
	return scheduled
}
