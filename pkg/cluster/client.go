// Package cluster fans a single benchmark out to remote agents and
// combines the per-node results as if their workers were local.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"spindle/internal/logger"
	"spindle/pkg/config"
	"spindle/pkg/engine"
	"spindle/pkg/errs"
	"spindle/pkg/model"
)

// Client distributes one benchmark config across several agent nodes.
type Client struct {
	nodes []string
	http  *http.Client
	lg    *logger.Logger
}

// New builds a client over the given node addresses (host:port, no
// scheme). Deadlines come from the caller's context rather than a
// fixed client timeout, since size-bounded runs have no wall-time
// bound.
func New(nodes []string, lg *logger.Logger) *Client {
	return &Client{
		nodes: nodes,
		http:  &http.Client{},
		lg:    logger.Default(lg),
	}
}

// Ping checks that every node answers its health probe, retrying
// briefly so agents that are still starting up are not counted out.
func (c *Client) Ping(ctx context.Context) error {
	for _, node := range c.nodes {
		err := errs.Retry(ctx, errs.DefaultRetryConfig(), func() error {
			return c.ping(ctx, node)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ping(ctx context.Context, node string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+node+"/health", nil)
	if err != nil {
		return errs.Wrap(errs.KindConfig, fmt.Sprintf("node %s", node), err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindWorker, fmt.Sprintf("node %s unreachable", node), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindWorker, "node %s health probe returned %d", node, resp.StatusCode)
	}
	return nil
}

// Run splits cfg across the nodes, runs the shares concurrently and
// combines the per-node results. Workers are spread as evenly as
// possible; size-bounded modes also split the file size proportionally
// so the cluster processes the configured total. Nodes left with zero
// workers sit the run out. The first node failure aborts the whole run.
func (c *Client) Run(ctx context.Context, cfg config.BenchmarkConfig) (model.BenchmarkResult, error) {
	if len(c.nodes) == 0 {
		return model.BenchmarkResult{}, errs.New(errs.KindConfig, "no agent nodes given")
	}

	type nodeResult struct {
		node string
		res  model.BenchmarkResult
		err  error
	}

	shares := Partition(cfg, len(c.nodes))
	out := make(chan nodeResult, len(c.nodes))
	var wg sync.WaitGroup
	active := 0
	for i, node := range c.nodes {
		share := shares[i]
		if share.Workers == 0 {
			c.lg.Debug("node %s sits out: no workers to assign", node)
			continue
		}
		active++
		wg.Add(1)
		go func(node string, share config.BenchmarkConfig) {
			defer wg.Done()
			res, err := c.runRemote(ctx, node, share)
			out <- nodeResult{node: node, res: res, err: err}
		}(node, share)
	}
	wg.Wait()
	close(out)

	results := make([]model.BenchmarkResult, 0, active)
	for nr := range out {
		if nr.err != nil {
			return model.BenchmarkResult{}, errs.Wrap(errs.KindWorker, fmt.Sprintf("node %s", nr.node), nr.err)
		}
		c.lg.Info("node %s: %.2f MB/s, %.0f IOPS", nr.node, nr.res.Metrics.ThroughputMBps, nr.res.Metrics.IOPS)
		results = append(results, nr.res)
	}

	combined, err := engine.CombineResults(results)
	if err != nil {
		return model.BenchmarkResult{}, err
	}
	// Nodes ran partitioned shares; report the caller's config. The
	// system snapshot stays whichever node sat first in the slice.
	combined.Config = cfg
	return combined, nil
}

func (c *Client) runRemote(ctx context.Context, node string, cfg config.BenchmarkConfig) (model.BenchmarkResult, error) {
	// Duration-bounded shares get a deadline with headroom for setup
	// and result assembly. Size-bounded shares run open-ended.
	if cfg.Mode.UsesDuration() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration.Std()+time.Minute)
		defer cancel()
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return model.BenchmarkResult{}, errs.Wrap(errs.KindConfig, "encode config", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+node+"/run", bytes.NewReader(body))
	if err != nil {
		return model.BenchmarkResult{}, errs.Wrap(errs.KindConfig, "build run request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.BenchmarkResult{}, errs.Wrap(errs.KindWorker, "post run", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.BenchmarkResult{}, errs.Newf(errs.KindWorker, "agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res model.BenchmarkResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return model.BenchmarkResult{}, errs.Wrap(errs.KindWorker, "decode result", err)
	}
	return res, nil
}

// Partition spreads cfg.Workers over n shares, front-loading the
// remainder. Size-bounded modes scale each share's file size by its
// worker count so every remote worker ends up with the same slice the
// local engine would hand it.
func Partition(cfg config.BenchmarkConfig, n int) []config.BenchmarkConfig {
	shares := make([]config.BenchmarkConfig, n)
	base := cfg.Workers / n
	rem := cfg.Workers % n
	for i := range shares {
		shares[i] = cfg
		w := base
		if i < rem {
			w++
		}
		shares[i].Workers = w
		if cfg.Mode.UsesFileSize() && cfg.Workers > 0 {
			shares[i].FileSize = cfg.FileSize / int64(cfg.Workers) * int64(w)
		}
	}
	return shares
}
