package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PollConfig bounds the exponential backoff used while waiting for resources.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p PollConfig) withDefaults() PollConfig {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 15 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Options configures every driver.
type Options struct {
	Poll            PollConfig
	NetworkTimeout  time.Duration
	InstanceTimeout time.Duration
	// SecretBucket receives the private key material of created key pairs.
	SecretBucket string
	// SealKey, when set, encrypts key material before upload.
	SealKey string
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	o.Poll = o.Poll.withDefaults()
	if o.NetworkTimeout <= 0 {
		o.NetworkTimeout = 2 * time.Minute
	}
	if o.InstanceTimeout <= 0 {
		o.InstanceTimeout = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

var errNotReady = errors.New("resource not ready")

// waitUntil polls check with exponential backoff until it reports ready, fails, or timeout elapses.
func waitUntil(ctx context.Context, poll PollConfig, timeout time.Duration, what string, check func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll.InitialInterval
	b.MaxInterval = poll.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	op := func() error {
		ready, err := check(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ready {
			return errNotReady
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotReady), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w after %s", what, ErrProviderTimeout, timeout)
	default:
		return err
	}
}
