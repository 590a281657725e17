package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oncallops/incident-core/pkg/classifier"
	"github.com/oncallops/incident-core/pkg/types"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		description string
		want        types.AlertKind
	}{
		{"oom kill", "Container was OOMKilled after exceeding memory limit", types.KindOOMKill},
		{"image pull", "Pod stuck in ImagePullBackOff: cannot pull image", types.KindImagePull},
		{"pod crash loop", "Pod checkout-7f9 is crash looping", types.KindPodCrash},
		{"high memory", "Memory usage is 95% on node pool-a", types.KindHighMemory},
		{"high cpu", "CPU usage is 98%, throttling detected", types.KindHighCPU},
		{"service down", "Service checkout is down: connection refused", types.KindServiceDown},
		{"deployment failed", "Deployment checkout rollout failed: progress deadline exceeded", types.KindDeploymentFailed},
		{"node issue", "Node ip-10-0-1-5 is NotReady", types.KindNodeIssue},
		{"unknown", "Disk usage nearing capacity on volume data-1", types.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifier.Classify(tc.description))
		})
	}
}

// TestClassify_IsPure is Testable Property 9: identical input must produce
// identical output across repeated calls, with no shared mutable state.
func TestClassify_IsPure(t *testing.T) {
	const description = "Pod stuck in ImagePullBackOff: cannot pull image"
	first := classifier.Classify(description)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, classifier.Classify(description))
	}
}

func TestClassify_OOMKillTakesPrecedenceOverPodCrash(t *testing.T) {
	got := classifier.Classify("Pod crash looping due to OOMKilled container")
	assert.Equal(t, types.KindOOMKill, got)
}
