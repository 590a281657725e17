// Package classifier maps free-text alert descriptions onto the fixed
// AlertKind enumeration (§4.6). Classify is a pure function: for identical
// inputs it returns identical outputs on every call, with no I/O and no
// shared mutable state, the property checked by Testable Property 9.
package classifier

import (
	"regexp"

	"github.com/oncallops/incident-core/pkg/types"
)

type pattern struct {
	kind types.AlertKind
	re   *regexp.Regexp
}

// patterns is the ordered (regex, kind) list from §4.6: first match wins.
// More specific patterns are listed before the general ones they would
// otherwise be shadowed by (e.g. oom_kill before pod_crash's broader
// "crash loop" wording).
var patterns = []pattern{
	{types.KindOOMKill, regexp.MustCompile(`(?i)oom.?kill(ed)?|out[ -]of[ -]memory killed|oomkilled`)},
	{types.KindImagePull, regexp.MustCompile(`(?i)image.?pull.?back.?off|errimagepull|failed to pull image|cannot pull`)},
	{types.KindPodCrash, regexp.MustCompile(`(?i)crash.?loop|pod (is |keeps )?(crashing|restarting)|container.*restart(ing|ed)?.*repeatedly`)},
	{types.KindHighMemory, regexp.MustCompile(`(?i)high memory|memory usage (is |at )?\d|memory pressure|oom[- ]risk`)},
	{types.KindHighCPU, regexp.MustCompile(`(?i)high cpu|cpu usage (is |at )?\d|cpu throttl(ed|ing)`)},
	{types.KindServiceDown, regexp.MustCompile(`(?i)service (is )?down|no (healthy )?endpoints|connection refused|503 service unavailable`)},
	{types.KindDeploymentFailed, regexp.MustCompile(`(?i)deployment (failed|unhealthy|degraded)|rollout (failed|stuck)|progress deadline exceeded`)},
	{types.KindNodeIssue, regexp.MustCompile(`(?i)node (\S+ )?(is )?(not ?ready|unreachable|pressure)|kubelet (stopped|unresponsive)`)},
}

// Classify returns the first matching AlertKind for description, or
// KindUnknown when no pattern matches.
func Classify(description string) types.AlertKind {
	for _, p := range patterns {
		if p.re.MatchString(description) {
			return p.kind
		}
	}
	return types.KindUnknown
}
