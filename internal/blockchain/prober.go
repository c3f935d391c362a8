package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

var ErrEmptyEndpoint = errors.New("rpc endpoint is empty")

// Prober checks whether a workspace RPC endpoint answers.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// RPCProber 通过 eth_blockNumber 探测 RPC 可用性
type RPCProber struct {
	timeout time.Duration
}

func NewRPCProber(timeout time.Duration) *RPCProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCProber{timeout: timeout}
}

// Probe dials url and asks for the head block. Hitting the timeout is a failure.
func (p *RPCProber) Probe(ctx context.Context, url string) error {
	if url == "" {
		return ErrEmptyEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer client.Close()

	if _, err := client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("eth_blockNumber: %w", err)
	}
	return nil
}
