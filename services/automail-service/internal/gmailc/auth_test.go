package gmailc

import (
	"strings"
	"testing"

	gmail "google.golang.org/api/gmail/v1"
)

// The client never writes to the mailbox, so the consent grant must
// stay read-only apart from the pubsub binding.
func TestScopesStayReadOnly(t *testing.T) {
	for _, scope := range Scopes {
		if scope == gmail.GmailModifyScope || strings.Contains(scope, "gmail.modify") {
			t.Errorf("Scopes requests %s, but nothing modifies messages", scope)
		}
	}

	var hasReadonly bool
	for _, scope := range Scopes {
		if scope == gmail.GmailReadonlyScope {
			hasReadonly = true
		}
	}
	if !hasReadonly {
		t.Error("Scopes is missing the readonly scope needed for history and message fetches")
	}
}
