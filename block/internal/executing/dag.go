package executing

import (
	"github.com/heimdalr/dag"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/types"
)

// TxIO is the read and write set of one executed transaction.
type TxIO struct {
	Reads  map[types.StateKey]types.Felt
	Writes map[types.StateKey]types.Felt
}

// DependencyDAG has an edge from j to i when transaction i read a key that
// transaction j < i wrote.
type DependencyDAG struct {
	*dag.DAG
	ids   []string
	edges map[int][]int
}

// DAGStats summarizes the parallelism available in a block.
type DAGStats struct {
	Vertices     int
	Edges        int
	Roots        int
	LongestChain int
}

func hasReadDep(from, to TxIO) bool {
	for key := range to.Reads {
		if _, ok := from.Writes[key]; ok {
			return true
		}
	}
	return false
}

// BuildDependencyDAG builds the read-after-write dependencies of txs.
func BuildDependencyDAG(txs []TxIO, logger zerolog.Logger) *DependencyDAG {
	d := &DependencyDAG{
		DAG:   dag.NewDAG(),
		ids:   make([]string, len(txs)),
		edges: make(map[int][]int),
	}
	for i := range txs {
		id, err := d.AddVertex(i)
		if err != nil {
			logger.Warn().Err(err).Int("tx_index", i).Msg("failed to add vertex")
			continue
		}
		d.ids[i] = id
	}

	for i := len(txs) - 1; i > 0; i-- {
		for j := i - 1; j >= 0; j-- {
			if !hasReadDep(txs[j], txs[i]) {
				continue
			}
			if err := d.AddEdge(d.ids[j], d.ids[i]); err != nil {
				logger.Warn().Err(err).Int("from", j).Int("to", i).Msg("failed to add edge")
				continue
			}
			d.edges[i] = append(d.edges[i], j)
		}
	}
	return d
}

// Stats returns the shape of the DAG.
func (d *DependencyDAG) Stats() DAGStats {
	stats := DAGStats{
		Vertices: d.GetOrder(),
		Edges:    d.GetSize(),
		Roots:    len(d.GetRoots()),
	}

	// Vertices are in topological order by index.
	depth := make([]int, len(d.ids))
	for i := range d.ids {
		depth[i] = 1
		for _, j := range d.edges[i] {
			depth[i] = max(depth[i], depth[j]+1)
		}
		stats.LongestChain = max(stats.LongestChain, depth[i])
	}
	return stats
}
