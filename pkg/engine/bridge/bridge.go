// Package bridge binds engine.Port to an engine running as a child process.
// Requests and responses are msgpack maps streamed over the child's stdin and
// stdout, one response per request, answered in order.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// Sentinel errors for the bridge protocol.
var (
	ErrClosed       = errors.New("engine bridge closed")
	ErrOutOfOrder   = errors.New("engine response out of order")
	ErrNoCommand    = errors.New("engine command not configured")
	errShortRequest = errors.New("request has no op")
)

// Request is one call frame.
type Request struct {
	ID   uint64         `msgpack:"id"`
	Op   string         `msgpack:"op"`
	Args map[string]any `msgpack:"args"`
}

// Response is one reply frame. Result is decoded per operation.
type Response struct {
	ID     uint64             `msgpack:"id"`
	OK     bool               `msgpack:"ok"`
	Error  string             `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

// closeGrace is how long Close waits for the engine to exit on its own
// before killing it.
const closeGrace = 5 * time.Second

// Client speaks the bridge protocol over a pair of streams. Calls are
// serialized; Close and Abort never wait for a call in flight.
type Client struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *msgpack.Encoder
	dec    *msgpack.Decoder
	nextID uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	// shutdown releases the streams. It waits at most grace for a clean exit.
	shutdown func(grace time.Duration) error
}

// NewClient returns a client writing requests to w and reading responses from
// r. Closing the client closes r and w when they are io.Closers, which fails
// a call blocked on either stream.
func NewClient(r io.Reader, w io.Writer) *Client {
	bw := bufio.NewWriter(w)

	return &Client{
		w:   bw,
		enc: msgpack.NewEncoder(bw),
		dec: msgpack.NewDecoder(bufio.NewReader(r)),
		shutdown: func(time.Duration) error {
			var errs []error

			for _, s := range []any{w, r} {
				if c, ok := s.(io.Closer); ok {
					errs = append(errs, c.Close())
				}
			}

			return errors.Join(errs...)
		},
	}
}

// Start launches command with args and returns a client bound to its stdio.
// The child's stderr is forwarded to ours.
func Start(ctx context.Context, logger *slog.Logger, command string, args ...string) (*Client, error) {
	if command == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("start engine %s: %w", command, err)
	}

	if logger != nil {
		logger.Info("engine started", slog.String("command", command), slog.Int("pid", cmd.Process.Pid))
	}

	c := NewClient(stdout, stdin)
	c.shutdown = func(grace time.Duration) error {
		closeErr := stdin.Close()

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		if grace > 0 {
			timer := time.NewTimer(grace)
			defer timer.Stop()

			select {
			case waitErr := <-exited:
				return errors.Join(closeErr, waitErr)
			case <-timer.C:
			}
		}

		if logger != nil {
			logger.Warn("killing engine", slog.Int("pid", cmd.Process.Pid))
		}

		killErr := cmd.Process.Kill()
		<-exited

		return errors.Join(closeErr, killErr)
	}

	return c, nil
}

// Close ends the session. A started engine gets its stdin closed and a grace
// period to exit before it is killed. Close is safe to call more than once
// and while a call is blocked; that call then fails with ErrClosed.
func (c *Client) Close() error {
	return c.stop(closeGrace)
}

// Abort ends the session at once, killing a started engine. Calls in flight
// and every later call fail with ErrClosed.
func (c *Client) Abort() error {
	return c.stop(0)
}

func (c *Client) stop(grace time.Duration) error {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown(grace)
	})

	return c.closeErr
}

// failed reports err, or ErrClosed when the session was closed under it.
func (c *Client) failed(stage, op string, err error) error {
	if c.closed.Load() {
		return fmt.Errorf("%s %s: %w", stage, op, ErrClosed)
	}

	return fmt.Errorf("%s %s: %w", stage, op, err)
}

// call sends op with args and decodes the result into out (nil to discard).
// The engine cannot be interrupted mid-call; ctx is only checked before sending.
func (c *Client) call(ctx context.Context, op string, args map[string]any, out any) error {
	if op == "" {
		return errShortRequest
	}

	err := ctx.Err()
	if err != nil {
		return err
	}

	if c.closed.Load() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	c.nextID++
	id := c.nextID

	err = c.enc.Encode(&Request{ID: id, Op: op, Args: args})
	if err == nil {
		err = c.w.Flush()
	}

	if err != nil {
		return c.failed("send", op, err)
	}

	var resp Response

	err = c.dec.Decode(&resp)
	if err != nil {
		return c.failed("receive", op, err)
	}

	if resp.ID != id {
		return fmt.Errorf("%w: sent %d, got %d", ErrOutOfOrder, id, resp.ID)
	}

	if !resp.OK {
		return fmt.Errorf("%w: %s: %s", engine.ErrEngine, op, resp.Error)
	}

	if out == nil || len(resp.Result) == 0 {
		return nil
	}

	err = msgpack.Unmarshal(resp.Result, out)
	if err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}

	return nil
}

func spanArgs(req engine.Request, extra map[string]any) map[string]any {
	args := map[string]any{
		"dataset":       req.Dataset,
		"query_dataset": req.QueryDataset,
		"index":         req.Span.Index,
		"start":         req.Span.Start,
		"end":           req.Span.End,
	}

	for k, v := range extra {
		args[k] = v
	}

	return args
}

// LoadDataset implements engine.Port.
func (c *Client) LoadDataset(ctx context.Context, name, path string, opts engine.LoadOptions) (engine.DatasetInfo, error) {
	var info engine.DatasetInfo

	err := c.call(ctx, engine.OpLoadDataset, map[string]any{
		"name":         name,
		"path":         path,
		"delimiter":    opts.Delimiter,
		"label_column": opts.LabelColumn,
		"skip_columns": opts.SkipColumns,
	}, &info)

	return info, err
}

// UnloadDataset implements engine.Port.
func (c *Client) UnloadDataset(ctx context.Context, name string) error {
	return c.call(ctx, engine.OpUnloadDataset, map[string]any{"name": name}, nil)
}

// Normalize implements engine.Port.
func (c *Client) Normalize(ctx context.Context, name string) error {
	return c.call(ctx, engine.OpNormalize, map[string]any{"name": name}, nil)
}

// PrepareApproximation implements engine.Port.
func (c *Client) PrepareApproximation(ctx context.Context, name string, blockSize int) error {
	return c.call(ctx, engine.OpPrepareApproximation, map[string]any{"name": name, "block_size": blockSize}, nil)
}

func (c *Client) queryMatches(ctx context.Context, op string, args map[string]any) ([]series.Match, error) {
	var out []series.Match

	err := c.call(ctx, op, args, &out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// QueryBruteforce implements engine.Port.
func (c *Client) QueryBruteforce(ctx context.Context, k int, req engine.Request, distance string) ([]series.Match, error) {
	return c.queryMatches(ctx, engine.OpQueryBruteforce, spanArgs(req, map[string]any{"k": k, "distance": distance}))
}

// QueryApprox implements engine.Port.
func (c *Client) QueryApprox(ctx context.Context, k int, req engine.Request, distance string) ([]series.Match, error) {
	return c.queryMatches(ctx, engine.OpQueryApprox, spanArgs(req, map[string]any{"k": k, "distance": distance}))
}

// QueryGrouped1NN implements engine.Port.
func (c *Client) QueryGrouped1NN(ctx context.Context, req engine.Request) ([]series.Match, error) {
	return c.queryMatches(ctx, engine.OpQueryGrouped1NN, spanArgs(req, nil))
}

// QueryGroupedKNN implements engine.Port.
func (c *Client) QueryGroupedKNN(ctx context.Context, k int, extent float64, req engine.Request) ([]series.Match, error) {
	return c.queryMatches(ctx, engine.OpQueryGroupedKNN, spanArgs(req, map[string]any{"k": k, "extent": extent}))
}

// BuildGrouping implements engine.Port. It returns the number of groups built.
func (c *Client) BuildGrouping(ctx context.Context, dataset string, threshold float64, distance string, threads int) (int, error) {
	var count int

	err := c.call(ctx, engine.OpBuildGrouping, map[string]any{
		"dataset":   dataset,
		"threshold": threshold,
		"distance":  distance,
		"threads":   threads,
	}, &count)

	return count, err
}

// SaveGrouping implements engine.Port.
func (c *Client) SaveGrouping(ctx context.Context, dataset, path string) error {
	return c.call(ctx, engine.OpSaveGrouping, map[string]any{"dataset": dataset, "path": path}, nil)
}

// SaveGroupingSizes implements engine.Port.
func (c *Client) SaveGroupingSizes(ctx context.Context, dataset, path string) error {
	return c.call(ctx, engine.OpSaveGroupingSizes, map[string]any{"dataset": dataset, "path": path}, nil)
}

// LoadGrouping implements engine.Port. It returns the number of groups loaded.
func (c *Client) LoadGrouping(ctx context.Context, dataset, path string) (int, error) {
	var count int

	err := c.call(ctx, engine.OpLoadGrouping, map[string]any{"dataset": dataset, "path": path}, &count)

	return count, err
}

var (
	_ engine.Port    = (*Client)(nil)
	_ engine.Aborter = (*Client)(nil)
)
