package threshold

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QuorumOptions configures a QuorumClient.
type QuorumOptions struct {
	// Threshold is the number of shares required to reconstruct plaintext.
	Threshold int

	// RoundTimeout bounds each individual share request.
	RoundTimeout time.Duration

	// WaitCeiling bounds the whole decryption attempt.
	WaitCeiling time.Duration
}

// DefaultQuorumOptions are the default options for a QuorumClient.
var DefaultQuorumOptions = QuorumOptions{
	RoundTimeout: 2 * time.Second,
	WaitCeiling:  8 * time.Second,
}

// QuorumClient implements Decryptor by fanning a share request out to every
// key server at once and combining as soon as Threshold shares arrive.
type QuorumClient struct {
	servers []KeyServer
	combine CombineFunc
	opts    QuorumOptions
}

// NewQuorumClient creates a QuorumClient over the given committee.
// Threshold defaults to a majority of the committee.
func NewQuorumClient(servers []KeyServer, combine CombineFunc, optFns ...func(o *QuorumOptions)) (*QuorumClient, error) {
	opts := DefaultQuorumOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("quorum client requires at least one key server")
	}

	if combine == nil {
		return nil, fmt.Errorf("quorum client requires a combine function")
	}

	if opts.Threshold <= 0 {
		opts.Threshold = len(servers)/2 + 1
	}

	if opts.Threshold > len(servers) {
		return nil, fmt.Errorf("threshold %d exceeds committee size %d", opts.Threshold, len(servers))
	}

	return &QuorumClient{
		servers: servers,
		combine: combine,
		opts:    opts,
	}, nil
}

type shareResult struct {
	share  Share
	err    error
	denied bool
}

// Decrypt requests shares from every server concurrently. It returns as soon
// as the outcome is decided:
//   - Threshold shares collected: combine and return plaintext.
//   - More denials than the committee can absorb (denials > n - threshold):
//     ErrDenied.
//   - Wait ceiling reached, or every server answered without reaching the
//     threshold: ErrQuorumUnavailable.
func (q *QuorumClient) Decrypt(ctx context.Context, ciphertext, identity, approval []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.WaitCeiling)
	defer cancel()

	results := make(chan shareResult, len(q.servers))

	for _, srv := range q.servers {
		go func() {
			reqCtx, reqCancel := context.WithTimeout(ctx, q.opts.RoundTimeout)
			defer reqCancel()

			share, err := srv.FetchShare(reqCtx, ciphertext, identity, approval)

			select {
			case results <- shareResult{share: share, err: err, denied: err != nil && isDenied(err)}:
			case <-ctx.Done():
			}
		}()
	}

	var (
		shares  []Share
		denials int
		failed  int
	)

	maxDenials := len(q.servers) - q.opts.Threshold

	for range q.servers {
		select {
		case res := <-results:
			switch {
			case res.err == nil:
				shares = append(shares, res.share)
				if len(shares) >= q.opts.Threshold {
					return q.combine(ciphertext, shares)
				}
			case res.denied:
				denials++
				if denials > maxDenials {
					return nil, fmt.Errorf("%w: %d of %d servers refused", ErrDenied, denials, len(q.servers))
				}
			default:
				failed++
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: wait ceiling reached with %d of %d shares", ErrQuorumUnavailable, len(shares), q.opts.Threshold)
		}
	}

	return nil, fmt.Errorf("%w: %d of %d shares (%d denied, %d failed)", ErrQuorumUnavailable, len(shares), q.opts.Threshold, denials, failed)
}

func isDenied(err error) bool {
	return errors.Is(err, ErrShareDenied)
}
