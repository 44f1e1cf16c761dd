package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/boneybank/boneybank"
	"github.com/boneybank/boneybank/pkg/wg_timeout"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// errExit is returned by Exec for the exit command.
var errExit = fmt.Errorf("exit")

const usage = "commands: R | D <amount> | W <amount> | S <milliseconds> | help | exit"

// Client sends every command to all replicas at once, each under a new
// sequence number, and prints every reply.
type Client struct {
	id       int64
	seq      int64
	replicas map[boneybank.NodeID]boneybank.BankService

	mu  sync.Mutex
	out io.Writer

	// Wait is how long a command waits for replies before the next one is
	// sent. Late replies are still printed.
	Wait time.Duration
	// Timeout bounds each request, retries included. Zero means no bound.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *zap.Logger

	wg sync.WaitGroup
}

// NewClient returns the client id of replicas, printing to out.
func NewClient(id int64, replicas map[boneybank.NodeID]boneybank.BankService, out io.Writer) *Client {
	return &Client{
		id:       id,
		replicas: replicas,
		out:      out,
		Wait:     500 * time.Millisecond,
		Clock:    clock.New(),
		Logger:   zap.NewNop(),
	}
}

func (c *Client) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Client) next() boneybank.Credentials {
	c.seq++
	return boneybank.Credentials{ClientID: c.id, SequenceNumber: c.seq}
}

// broadcast calls fn on every replica and waits up to c.Wait for all of
// them. It returns the errors of the calls that failed in time.
func (c *Client) broadcast(ctx context.Context, fn func(ctx context.Context, id boneybank.NodeID, svc boneybank.BankService) error) error {
	ids := make([]boneybank.NodeID, 0, len(c.replicas))
	for id := range c.replicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, id := range ids {
		id, svc := id, c.replicas[id]
		wg.Add(1)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer wg.Done()
			if err := fn(callCtx, id, svc); err != nil {
				c.Logger.Debug("Request failed", zap.Stringer("replica", id), zap.Error(err))
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("bank %d: %w", id, err))
				mu.Unlock()
			}
		}()
	}

	go func() {
		wg.Wait()
		cancel()
	}()
	wg_timeout.WaitGroupTimeout(ctx, c.Clock, &wg, c.Wait)

	mu.Lock()
	defer mu.Unlock()
	return errs.ErrorOrNil()
}

// Deposit adds amount to the account on every replica.
func (c *Client) Deposit(ctx context.Context, amount float64) error {
	cred := c.next()
	return c.broadcast(ctx, func(ctx context.Context, id boneybank.NodeID, svc boneybank.BankService) error {
		reply, err := svc.Deposit(ctx, cred, amount)
		if err != nil {
			c.printf("(%d) Deposit | Bank %d: %v", cred.SequenceNumber, id, err)
			return err
		}
		c.printf("(%d) Deposit | Bank %d (%s): Deposited %g. Balance = %g", cred.SequenceNumber, id, reply.Role, amount, reply.Balance)
		return nil
	})
}

// Withdrawal takes amount from the account on every replica.
func (c *Client) Withdrawal(ctx context.Context, amount float64) error {
	cred := c.next()
	return c.broadcast(ctx, func(ctx context.Context, id boneybank.NodeID, svc boneybank.BankService) error {
		reply, err := svc.Withdrawal(ctx, cred, amount)
		if err != nil {
			c.printf("(%d) Withdrawal | Bank %d: %v", cred.SequenceNumber, id, err)
			return err
		}
		if reply.Withdrawn == 0 {
			c.printf("(%d) Withdrawal | Bank %d (%s): Insufficient funds. Balance = %g", cred.SequenceNumber, id, reply.Role, reply.Balance)
			return nil
		}
		c.printf("(%d) Withdrawal | Bank %d (%s): Withdrew %g. Balance = %g", cred.SequenceNumber, id, reply.Role, reply.Withdrawn, reply.Balance)
		return nil
	})
}

// ReadBalance reads the balance on every replica.
func (c *Client) ReadBalance(ctx context.Context) error {
	cred := c.next()
	return c.broadcast(ctx, func(ctx context.Context, id boneybank.NodeID, svc boneybank.BankService) error {
		reply, err := svc.ReadBalance(ctx, cred)
		if err != nil {
			c.printf("(%d) ReadBalance | Bank %d: %v", cred.SequenceNumber, id, err)
			return err
		}
		c.printf("(%d) ReadBalance | Bank %d (%s): Balance = %g", cred.SequenceNumber, id, reply.Role, reply.Balance)
		return nil
	})
}

// Exec runs one command line. Blank lines and lines starting with # are
// ignored. It returns errExit for the exit command.
func (c *Client) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	arg := func() (float64, error) {
		if len(fields) != 2 {
			return 0, fmt.Errorf("%s takes one argument; %s", fields[0], usage)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid amount %q", fields[1])
		}
		return v, nil
	}

	switch strings.ToUpper(fields[0]) {
	case "D":
		v, err := arg()
		if err != nil {
			return err
		}
		return c.Deposit(ctx, v)
	case "W":
		v, err := arg()
		if err != nil {
			return err
		}
		return c.Withdrawal(ctx, v)
	case "R":
		if len(fields) != 1 {
			return fmt.Errorf("R takes no argument; %s", usage)
		}
		return c.ReadBalance(ctx)
	case "S":
		v, err := arg()
		if err != nil {
			return err
		}
		d := time.Duration(v) * time.Millisecond
		c.printf("Sleeping for %s...", d)
		c.Clock.Sleep(d)
		return nil
	case "HELP":
		c.printf("%s", usage)
		return nil
	case "EXIT":
		return errExit
	default:
		return fmt.Errorf("unknown command %q; %s", fields[0], usage)
	}
}

// Run executes every line of r in order. Errors of single commands are
// printed and do not stop the run.
func (c *Client) Run(ctx context.Context, r io.Reader) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := s.Text()
		c.printf("> %s", line)
		switch err := c.Exec(ctx, line); {
		case err == errExit:
			return nil
		case err != nil:
			c.printf("%v", err)
		}
	}
	return s.Err()
}

// Close waits for every reply that has not arrived yet.
func (c *Client) Close() {
	c.wg.Wait()
}
