package notifier

// SetPosterForTest swaps n's Slack client for a test double. Exported only
// to _test.go files via the standard export_test.go pattern.
func SetPosterForTest(n *Notifier, p Poster) {
	n.client = p
}
