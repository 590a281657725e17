// Package policy wraps github.com/open-policy-agent/opa's Rego evaluator
// as an optional override layer on top of CommandGate's hand-rolled risk
// classifier: a policy can only escalate (require approval, or forbid
// outright), never loosen, whatever Assess and the mode policy already
// decided. A missing or invalid policy file degrades to "require approval"
// rather than erroring, the same fail-safe default the teacher's own
// AIAnalysis Rego evaluator uses for a missing/invalid policy.
package policy

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/rego"
	"github.com/sirupsen/logrus"
)

//go:embed default.rego
var defaultPolicy []byte

// Input is the command gate's policy evaluation input: everything Rego
// needs to decide whether a previewed command should be escalated beyond
// what Assess and the operating-mode policy already concluded.
type Input struct {
	Command            string  `json:"command"`
	RiskLevel          string  `json:"risk_level"`
	Confidence         float64 `json:"confidence"`
	DestructiveEnabled bool    `json:"destructive_enabled"`
	Mode               string  `json:"mode"`
}

// Result is the policy's verdict. RequireApproval and Forbidden only ever
// add restriction on top of the gate's own decision; Degraded marks a
// result produced without a usable compiled policy.
type Result struct {
	RequireApproval bool
	Forbidden       bool
	Reason          string
	Degraded        bool
}

// Config names the policy source. An empty PolicyPath uses the embedded
// default policy, which never changes at runtime (StartHotReload is then a
// no-op beyond the initial compile).
type Config struct {
	PolicyPath string
}

// Evaluator compiles and hot-reloads a Rego policy, serving concurrent
// Evaluate calls against the most recently compiled version.
type Evaluator struct {
	policyPath string
	log        *logrus.Logger

	mu       sync.RWMutex
	query    *rego.PreparedEvalQuery
	hash     string
	loadOnce sync.Once

	watcher *fsnotify.Watcher
}

// NewEvaluator constructs an Evaluator. Call StartHotReload to compile the
// policy eagerly and, for a file-backed policy, watch it for changes;
// Evaluate also lazy-compiles on first use so a caller that skips
// StartHotReload still gets a (possibly degraded) answer.
func NewEvaluator(cfg Config, log *logrus.Logger) *Evaluator {
	if log == nil {
		log = logrus.New()
	}
	return &Evaluator{policyPath: cfg.PolicyPath, log: log}
}

// GetPolicyHash returns the sha256 hex digest of the currently compiled
// policy source, or "" if nothing has compiled successfully yet.
func (e *Evaluator) GetPolicyHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hash
}

// StartHotReload compiles the policy once, failing fast on a syntax error
// (ADR-050-style startup validation: an operator-supplied policy that
// cannot compile must block startup, not degrade silently). For a
// file-backed policy it then watches the containing directory and
// recompiles on change, logging and keeping the previous compiled policy
// if the new version fails to compile.
func (e *Evaluator) StartHotReload(ctx context.Context) error {
	var err error
	e.loadOnce.Do(func() { err = e.load() })
	if err != nil {
		return err
	}
	if e.policyPath == "" {
		return nil // embedded default never changes on disk
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start policy watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(e.policyPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch policy directory: %w", err)
	}
	e.watcher = watcher
	go e.watchLoop(ctx)
	return nil
}

func (e *Evaluator) watchLoop(ctx context.Context) {
	defer e.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(e.policyPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := e.load(); err != nil {
				e.log.WithError(err).WithField("policy_path", e.policyPath).
					Warn("gate policy hot-reload failed, keeping previously compiled policy")
			} else {
				e.log.WithField("policy_path", e.policyPath).Info("gate policy hot-reloaded")
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.log.WithError(err).Warn("gate policy watcher error")
		}
	}
}

// load reads and compiles the policy source, swapping it in on success.
// It never mutates e.query on failure, so a bad hot-reload leaves the
// previously compiled policy serving Evaluate.
func (e *Evaluator) load() error {
	source := defaultPolicy
	if e.policyPath != "" {
		b, err := os.ReadFile(e.policyPath)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		source = b
	}

	ctx := context.Background()
	prepared, err := rego.New(
		rego.Query("data.gate"),
		rego.Module("gate.rego", string(source)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}

	sum := sha256.Sum256(source)

	e.mu.Lock()
	e.query = &prepared
	e.hash = hex.EncodeToString(sum[:])
	e.mu.Unlock()
	return nil
}

// Evaluate runs the compiled policy against in. A missing, unreadable, or
// invalid policy source — including never having called StartHotReload —
// degrades to RequireApproval=true rather than returning an error: an
// unreadable policy is exactly the situation where a human should decide.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Result, error) {
	e.loadOnce.Do(func() {
		if err := e.load(); err != nil {
			e.log.WithError(err).WithField("policy_path", e.policyPath).
				Warn("gate policy unavailable, defaulting to manual approval")
		}
	})

	e.mu.RLock()
	q := e.query
	e.mu.RUnlock()

	if q == nil {
		return &Result{RequireApproval: true, Reason: "policy unavailable, defaulting to manual approval", Degraded: true}, nil
	}

	b, err := json.Marshal(in)
	if err != nil {
		return &Result{RequireApproval: true, Reason: "policy input encoding failed, defaulting to manual approval", Degraded: true}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return &Result{RequireApproval: true, Reason: "policy input decoding failed, defaulting to manual approval", Degraded: true}, nil
	}

	rs, err := q.Eval(ctx, rego.EvalInput(m))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Result{RequireApproval: true, Reason: "policy evaluation failed, defaulting to manual approval", Degraded: true}, nil
	}

	out, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return &Result{RequireApproval: true, Reason: "policy result malformed, defaulting to manual approval", Degraded: true}, nil
	}

	result := &Result{}
	if b, ok := out["require_approval"].(bool); ok {
		result.RequireApproval = b
	}
	if b, ok := out["forbidden"].(bool); ok {
		result.Forbidden = b
	}
	if s, ok := out["reason"].(string); ok {
		result.Reason = s
	}
	return result, nil
}
