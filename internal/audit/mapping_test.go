package audit

import "testing"

func TestParseRoute(t *testing.T) {
	tests := []struct {
		method, route    string
		action, resource string
	}{
		{"PATCH", "/accounts/:id/suspend", "suspend", "account"},
		{"PATCH", "/accounts/:id/activate", "activate", "account"},
		{"DELETE", "/accounts/:id", "softban", "account"},
		{"DELETE", "/accounts/:id/purge", "purge", "account"},
		{"POST", "/accounts/:id/restore", "restore", "account"},
		{"DELETE", "/accounts/me", "self_delete", "account"},
		{"POST", "/accounts/transfer-default-admin", "transfer_default_admin", "account"},
		{"GET", "/moderation/softbanned", "softbanned", "moderation"},
		{"GET", "/moderation/accounts/:id/history", "history", "moderation"},
		{"GET", "/notifications/:accountId", "get", "notification"},
		{"GET", "/notifications/:accountId/unread-count", "unread_count", "notification"},
		{"PUT", "/notifications/:accountId/read-all", "read_all", "notification"},
		{"DELETE", "/notifications/:id", "delete", "notification"},
		{"DELETE", "/notifications/:accountId/all", "delete_all", "notification"},
		{"post", "/auth/management/unlock", "unlock", "auth"},
		{"GET", "/", "unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.route, func(t *testing.T) {
			got := ParseRoute(tt.method, tt.route)
			if got.Action != tt.action || got.Resource != tt.resource {
				t.Errorf("ParseRoute(%q, %q) = %+v, want {%s %s}", tt.method, tt.route, got, tt.action, tt.resource)
			}
		})
	}
}
