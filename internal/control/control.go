// Package control starts, stops and corrupts the processes of cluster nodes,
// and cuts the network between them.
package control

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/grudge"
)

// Key is the signing key material a validator runs with.
type Key struct {
	PubKey  string `yaml:"pub_key"`
	PrivKey string `yaml:"priv_key"`
}

// NewKey generates a fresh ed25519 validator key.
func NewKey() (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, errors.Wrap(err, "failed to generate validator key")
	}

	return Key{PubKey: hex.EncodeToString(pub), PrivKey: hex.EncodeToString(priv)}, nil
}

// Controller manages the two processes every node runs: the consensus
// engine and the state-machine storage it connects to.
type Controller interface {
	StopConsensus(ctx context.Context, node cluster.Node) error
	StartConsensus(ctx context.Context, node cluster.Node) error
	StopStorage(ctx context.Context, node cluster.Node) error
	StartStorage(ctx context.Context, node cluster.Node) error
	// TruncateLog chops bytes off the end of the node's write-ahead log.
	TruncateLog(ctx context.Context, node cluster.Node, bytes int64) error
	WriteValidatorKey(ctx context.Context, node cluster.Node, key Key) error
	// ResetNodeState wipes the node's persistent data.
	ResetNodeState(ctx context.Context, node cluster.Node) error
}

// Net cuts and restores links between nodes.
type Net interface {
	Drop(ctx context.Context, g grudge.Grudge) error
	Heal(ctx context.Context) error
}

// OnNodes runs fn for every node concurrently and waits for all of them.
// One node failing does not stop the others; every error is returned.
func OnNodes(ctx context.Context, nodes []cluster.Node, fn func(context.Context, cluster.Node) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)

	for _, node := range nodes {
		g.Go(func() error {
			err := fn(ctx, node)
			if err != nil {
				err = errors.Wrapf(err, "node %s", node)

				mu.Lock()
				errs = errors.CombineErrors(errs, err)
				mu.Unlock()
			}

			return err
		})
	}

	_ = g.Wait()
	return errs
}

// Restart brings storage up before consensus, since consensus connects to
// storage on boot. Consensus is attempted even if storage fails.
func Restart(ctx context.Context, c Controller, node cluster.Node) error {
	var errs error
	if err := c.StartStorage(ctx, node); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "starting storage"))
	}

	if err := c.StartConsensus(ctx, node); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "starting consensus"))
	}

	return errs
}

// Shutdown stops consensus, then storage.
func Shutdown(ctx context.Context, c Controller, node cluster.Node) error {
	if err := c.StopConsensus(ctx, node); err != nil {
		return errors.Wrap(err, "stopping consensus")
	}

	if err := c.StopStorage(ctx, node); err != nil {
		return errors.Wrap(err, "stopping storage")
	}

	return nil
}
