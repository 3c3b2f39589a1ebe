package main

import (
	"context"
	"time"

	"github.com/goatnetwork/bond-aevum/internal/chain"
	"github.com/goatnetwork/bond-aevum/internal/consensus"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	log "github.com/sirupsen/logrus"
)

// Producer builds a block on its chain every interval.
type Producer struct {
	chain    *chain.Chain
	sealer   consensus.Sealer
	interval time.Duration
	logger   *log.Entry
}

func NewProducer(c *chain.Chain, sealer consensus.Sealer, interval time.Duration) *Producer {
	return &Producer{
		chain:    c,
		sealer:   sealer,
		interval: interval,
		logger:   log.WithFields(log.Fields{"module": "producer", "chain": c.ID().String()}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := p.chain.Produce(ctx, p.sealer, -1)
			switch {
			case errors.Is(err, errors.ErrBadSeal):
				// Not our turn.
				p.logger.Debugf("Skipped height: %v", err)
			case err != nil:
				p.logger.Errorf("Failed to produce block: %v", err)
			default:
				p.logger.Infof("Produced block %s at height %d", out.Tip.Hash, out.Tip.Height)
			}
		}
	}
}
