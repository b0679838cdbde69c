package iterator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	"github.com/quarrysearch/quarry/internal/searcher/merger"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

// PartitionRequest asks a partition for a window of its ranked results.
type PartitionRequest struct {
	Query     string   `json:"q"`
	IndexName string   `json:"index,omitempty"`
	Offset    int      `json:"offset"`
	Num       int      `json:"num"`
	Filter    []string `json:"filter,omitempty"`
	SaveName  string   `json:"save_name,omitempty"`
}

// PartitionResponse is a partition's window of ranked results.
type PartitionResponse struct {
	Results   []WireResult `json:"results"`
	TotalRows int          `json:"total_rows"`
}

// WireResult is a Result as sent between partitions. Keys travel as
// base64 hashes.
type WireResult struct {
	Key           string   `json:"key"`
	IndexName     string   `json:"index_name"`
	Gen           int      `json:"gen"`
	Doc           uint32   `json:"doc"`
	SummaryOffset uint64   `json:"summary_offset"`
	Aux           string   `json:"aux,omitempty"`
	IsDoc         bool     `json:"is_doc"`
	Length        uint32   `json:"length"`
	Positions     []uint32 `json:"positions,omitempty"`
	DocRank       float64  `json:"doc_rank"`
	Relevance     float64  `json:"relevance"`
	Proximity     float64  `json:"proximity"`
	Score         float64  `json:"score"`
	MachineID     string   `json:"machine_id,omitempty"`
}

// ToWire converts r for sending.
func ToWire(r *Result) WireResult {
	return WireResult{
		Key:           hash.Base64([]byte(r.Key)),
		IndexName:     r.IndexName,
		Gen:           r.Pos.Gen,
		Doc:           r.Pos.Doc,
		SummaryOffset: r.SummaryOffset,
		Aux:           r.Aux,
		IsDoc:         r.IsDoc,
		Length:        r.Length,
		Positions:     r.Positions,
		DocRank:       r.DocRank,
		Relevance:     r.Relevance,
		Proximity:     r.Proximity,
		Score:         r.Score,
		MachineID:     r.MachineID,
	}
}

// FromWire converts a received result. Results with an undecodable key are
// rejected.
func FromWire(w WireResult) (*Result, bool) {
	key, err := hash.DecodeBase64(w.Key)
	if err != nil {
		return nil, false
	}
	return &Result{
		Pos:           DocPos{Gen: w.Gen, Doc: w.Doc},
		Key:           index.DocKey(key),
		IndexName:     w.IndexName,
		SummaryOffset: w.SummaryOffset,
		Aux:           w.Aux,
		IsDoc:         w.IsDoc,
		Length:        w.Length,
		Positions:     w.Positions,
		DocRank:       w.DocRank,
		Relevance:     w.Relevance,
		Proximity:     w.Proximity,
		Score:         w.Score,
		MachineID:     w.MachineID,
	}, true
}

// PartitionClient queries one remote partition.
type PartitionClient interface {
	Name() string
	Query(ctx context.Context, req PartitionRequest) (*PartitionResponse, error)
}

// NetworkOptions configure a Network iterator.
type NetworkOptions struct {
	IndexName string
	Filter    []string
	SaveName  string
	// ResultsPerBlock is the number of results wanted per round.
	ResultsPerBlock int
	// Alpha over-fetches from each partition: a partition is asked for
	// ceil(Alpha*ResultsPerBlock/partitions) results per round.
	Alpha float64
	// Timeout bounds every partition request; zero leaves it to the client.
	Timeout time.Duration
	// OnPartition is told the outcome of every partition request.
	OnPartition func(partition string, err error)
}

// Network asks every partition for its best results a block at a time and
// yields them merged by score. A partition that fails contributes nothing
// from then on. Results are in score order, not position order, so Advance
// cannot skip; it behaves like Next unless the current result already
// qualifies.
type Network struct {
	ctx     context.Context
	clients []PartitionClient
	query   string
	opts    NetworkOptions
	logger  *slog.Logger

	offsets []int
	totals  []int
	active  []bool
	buf     []*Result
	cur     *Result
	done    bool
	count   int
}

func NewNetwork(ctx context.Context, query string, clients []PartitionClient, opts NetworkOptions) *Network {
	if opts.ResultsPerBlock <= 0 {
		opts.ResultsPerBlock = defaultBlockSize
	}
	if opts.Alpha <= 0 {
		opts.Alpha = 1
	}
	n := &Network{
		ctx:     ctx,
		clients: clients,
		query:   query,
		opts:    opts,
		logger:  slog.Default().With("component", "network-iterator"),
		offsets: make([]int, len(clients)),
		totals:  make([]int, len(clients)),
		active:  make([]bool, len(clients)),
	}
	for i := range n.active {
		n.active[i] = true
	}
	return n
}

// Quota is the number of results asked of each partition per round.
func (n *Network) Quota() int {
	if len(n.clients) == 0 {
		return 0
	}
	return int(math.Ceil(n.opts.Alpha * float64(n.opts.ResultsPerBlock) / float64(len(n.clients))))
}

func (n *Network) Next() bool {
	if n.done {
		return false
	}
	for len(n.buf) == 0 {
		if !n.fetch() {
			n.cur, n.done = nil, true
			return false
		}
	}
	n.cur, n.buf = n.buf[0], n.buf[1:]
	return true
}

// fetch runs one round against the active partitions.
func (n *Network) fetch() bool {
	quota := n.Quota()
	blocks := make([][]*Result, len(n.clients))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(n.ctx)
	asked := false
	for i, c := range n.clients {
		if !n.active[i] {
			continue
		}
		asked = true
		g.Go(func() error {
			req := PartitionRequest{
				Query:     n.query,
				IndexName: n.opts.IndexName,
				Offset:    n.offsets[i],
				Num:       quota,
				Filter:    n.opts.Filter,
				SaveName:  n.opts.SaveName,
			}
			var resp *PartitionResponse
			err := resilience.WithTimeout(ctx, n.opts.Timeout, "partition "+c.Name(), func(ctx context.Context) error {
				var err error
				resp, err = c.Query(ctx, req)
				return err
			})
			if n.opts.OnPartition != nil {
				n.opts.OnPartition(c.Name(), err)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				n.logger.Warn("partition query failed", "partition", c.Name(), "error", err)
				n.active[i] = false
				return nil
			}
			results := make([]*Result, 0, len(resp.Results))
			for _, w := range resp.Results {
				if r, ok := FromWire(w); ok {
					if r.MachineID == "" {
						r.MachineID = c.Name()
					}
					results = append(results, r)
				}
			}
			blocks[i] = results
			n.totals[i] = resp.TotalRows
			n.offsets[i] += len(resp.Results)
			if len(resp.Results) < quota {
				n.active[i] = false
			}
			return nil
		})
	}
	if !asked {
		return false
	}
	_ = g.Wait()
	n.count = 0
	for i, t := range n.totals {
		n.count += max(t, n.offsets[i])
	}
	n.buf = merger.Merge(blocks, 0)
	return true
}

func (n *Network) Advance(target DocPos) bool {
	if n.cur != nil && !n.cur.Pos.Less(target) {
		return true
	}
	return n.Next()
}

func (n *Network) Current() *Result { return n.cur }

func (n *Network) Count() int { return n.count }

// SavePoint of a network iterator only tells whether it is exhausted;
// partitions keep their own save points under the save name.
func (n *Network) SavePoint() DocPos {
	if n.done {
		return End
	}
	return DocPos{}
}
