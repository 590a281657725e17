package kubernetes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oncallops/incident-core/internal/apperrors"
)

// mcpSession is the narrow contract both Kubernetes action transports
// satisfy: a real MCP subprocess speaking stdio JSON-RPC, and a direct
// command-line fallback. The adapter's logic is identical regardless of
// which transport backs it (§4.2 [EXPANDED]).
type mcpSession interface {
	call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error)
	close(ctx context.Context) error
}

type rpcRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// stdioMCPSession multiplexes request/response pairs over a child process's
// stdin/stdout by request id, one line of JSON per message. Grounded on the
// teacher's action-history server's id-keyed request multiplexing pattern.
type stdioMCPSession struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	stdin   *json.Encoder
	nextID  int64
	pending map[int64]chan rpcResponse

	scanner *bufio.Scanner
}

// newStdioMCPSession starts command as a child process and begins reading
// its stdout in a background goroutine, dispatching responses to pending
// callers by id.
func newStdioMCPSession(ctx context.Context, command string, args []string) (*stdioMCPSession, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open MCP subprocess stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open MCP subprocess stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "start MCP subprocess")
	}

	s := &stdioMCPSession{
		cmd:     cmd,
		stdin:   json.NewEncoder(stdin),
		pending: make(map[int64]chan rpcResponse),
		scanner: bufio.NewScanner(stdout),
	}
	go s.readLoop()
	return s, nil
}

func (s *stdioMCPSession) readLoop() {
	for s.scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(s.scanner.Bytes(), &resp); err != nil {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (s *stdioMCPSession) call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	ch := make(chan rpcResponse, 1)

	s.mu.Lock()
	s.pending[id] = ch
	err := s.stdin.Encode(rpcRequest{ID: id, Method: method, Params: params})
	s.mu.Unlock()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "write MCP request")
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, apperrors.New(apperrors.ErrorTypeInternal, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stdioMCPSession) close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	if err := s.cmd.Process.Kill(); err != nil {
		return nil // already exited
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// cliSession falls back to direct command-line invocation of the cluster
// CLI (e.g. kubectl) when no MCP subprocess is configured or available.
type cliSession struct {
	binary string
}

func newCLISession(binary string) *cliSession {
	if binary == "" {
		binary = "kubectl"
	}
	return &cliSession{binary: binary}
}

// call renders method/params into CLI arguments and captures stdout.
// Callers of the narrow mcpSession contract do not need to know the
// transport differs; only the kubernetes adapter's command-rendering maps
// a method name onto CLI verbs.
func (s *cliSession) call(ctx context.Context, method string, params map[string]interface{}) (json.RawMessage, error) {
	args := renderCLIArgs(method, params)
	cmd := exec.CommandContext(ctx, s.binary, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "%s %s failed", s.binary, strings.Join(args, " "))
	}
	return json.RawMessage(fmt.Sprintf("%q", strings.TrimSpace(string(out)))), nil
}

func (s *cliSession) close(context.Context) error { return nil }

func renderCLIArgs(method string, params map[string]interface{}) []string {
	args := strings.Fields(method)
	if ns, ok := params["namespace"].(string); ok && ns != "" {
		args = append(args, "-n", ns)
	}
	if name, ok := params["name"].(string); ok && name != "" {
		args = append(args, name)
	}
	return args
}
