package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const DefaultTimeout = 2000 * time.Millisecond

// Options configure a service channel.
type Options struct {
	// Timeout bounds every call's wait for a reply.
	Timeout time.Duration
	// RetryWait is the pause between reconnect attempts of reliable reads.
	RetryWait time.Duration
	Policy    IntegrityPolicy
	// DialOptions are appended to the defaults (insecure transport).
	DialOptions []grpc.DialOption
	Logger      logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 5 * time.Second
	}
	if o.Policy == "" {
		o.Policy = FailFast
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// channel is a request/response connection to one service that can be torn
// down and reopened.
type channel struct {
	name     string
	endpoint string
	target   string
	opts     Options
	logger   logrus.FieldLogger
	conn     *grpc.ClientConn
}

func openChannel(name, endpoint string, opts Options) (*channel, error) {
	opts = opts.withDefaults()
	ch := &channel{
		name:     name,
		endpoint: endpoint,
		target:   parseAddress(endpoint),
		opts:     opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"service":  name,
			"endpoint": endpoint,
		}),
	}
	if err := ch.connect(); err != nil {
		return nil, err
	}
	return ch, nil
}

// parseAddress normalises an endpoint for gRPC. ipc:// endpoints and absolute
// paths become unix sockets; anything else is passed through.
func parseAddress(address string) string {
	switch {
	case strings.HasPrefix(address, "unix://"):
		return address
	case strings.HasPrefix(address, "ipc://"):
		return "unix://" + strings.TrimPrefix(address, "ipc://")
	case strings.HasPrefix(address, "tcp://"):
		return strings.TrimPrefix(address, "tcp://")
	case strings.HasPrefix(address, "/"):
		return "unix://" + address
	default:
		return address
	}
}

func (ch *channel) connect() error {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, ch.opts.DialOptions...)
	conn, err := grpc.NewClient(ch.target, dialOpts...)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", ch.target, err)
	}
	ch.conn = conn
	return nil
}

func (ch *channel) reopen() error {
	_ = ch.close()
	return ch.connect()
}

func (ch *channel) close() error {
	if ch.conn == nil {
		return nil
	}
	err := ch.conn.Close()
	ch.conn = nil
	return err
}

// call performs one bounded request/response exchange and decodes the reply
// into out. Decoding and validation failures are IntegrityErrors.
func (ch *channel) call(ctx context.Context, method string, req any, out reply) error {
	if ch.conn == nil {
		if err := ch.connect(); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, ch.opts.Timeout)
	defer cancel()

	var reply rawFrame
	err := ch.conn.Invoke(callCtx, method, req, &reply,
		grpc.CallContentSubtype(codecName),
		grpc.WaitForReady(false),
	)
	if err != nil {
		return translateError(err)
	}

	out.reset()
	if err := json.Unmarshal(reply.data, out); err != nil {
		return &IntegrityError{Service: ch.name, Err: err}
	}
	if err := out.validate(); err != nil {
		return &IntegrityError{Service: ch.name, Err: err}
	}
	return nil
}

// callReliable repeats call until it gets an OK reply. Every failure closes and
// reopens the channel and waits RetryWait. It reports whether a reconnect
// happened. Cancellation of ctx ends the loop with ErrShutdown.
func (ch *channel) callReliable(ctx context.Context, method string, req any, out reply) (bool, error) {
	reconnected := false
	for attempt := 1; ; attempt++ {
		err := ch.call(ctx, method, req, out)
		if err == nil && out.status() != StatusOK {
			err = fmt.Errorf("%s: %w", ch.name, ErrRejected)
		}
		if err == nil {
			if reconnected {
				ch.logger.WithField("attempts", attempt).Warn("Reconnected to server")
			}
			return reconnected, nil
		}

		var integrity *IntegrityError
		if errors.As(err, &integrity) && ch.opts.Policy == FailFast {
			return reconnected, err
		}
		if ctx.Err() != nil {
			ch.logger.Warn("Server unreachable on exit, giving up")
			return reconnected, ErrShutdown
		}

		reconnected = true
		ch.logger.WithError(err).WithField("attempt", attempt).Error("No response from server. Reconnecting...")
		if err := ch.reopen(); err != nil {
			ch.logger.WithError(err).Error("Failed to reopen channel")
		}

		timer := time.NewTimer(ch.opts.RetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return reconnected, ErrShutdown
		case <-timer.C:
		}
	}
}

func translateError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("no reply within timeout: %w", err)
	case codes.Unavailable:
		return fmt.Errorf("server unavailable: %w", err)
	default:
		return err
	}
}
