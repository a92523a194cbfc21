package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP method and route pattern.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides where the method verb alone would be misleading.
var routeOverrides = map[string]ActionResource{
	"DELETE /accounts/me":                   {Action: "self_delete", Resource: "account"},
	"PATCH /accounts/me":                    {Action: "profile_update", Resource: "account"},
	"DELETE /accounts/:id":                  {Action: "softban", Resource: "account"},
	"POST /accounts/transfer-default-admin": {Action: "transfer_default_admin", Resource: "account"},
	"POST /auth/signin":                     {Action: ActionSignIn, Resource: "auth"},
	"POST /auth/signout":                    {Action: ActionSignOut, Resource: "auth"},
	"POST /notifications/broadcast":         {Action: "broadcast", Resource: "notification"},
}

// ParseRoute returns action and resource for a method and fiber route pattern (e.g. PATCH /accounts/:id/suspend).
// Resource is the singular first path segment. Action is the last literal segment after the resource,
// or a verb derived from the method when the route has none.
func ParseRoute(method, route string) ActionResource {
	method = strings.ToUpper(method)
	if ar, ok := routeOverrides[method+" "+route]; ok {
		return ar
	}
	segs := strings.Split(strings.Trim(route, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(segs[0])
	for i := len(segs) - 1; i > 0; i-- {
		s := segs[i]
		if strings.HasPrefix(s, ":") || s == "me" || s == "all" {
			continue
		}
		return ActionResource{Action: strings.ReplaceAll(s, "-", "_"), Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, segs), Resource: resource}
}

func singular(seg string) string {
	switch seg {
	case "accounts":
		return "account"
	case "notifications":
		return "notification"
	case "sessions":
		return "session"
	}
	return seg
}

func methodToAction(method string, segs []string) string {
	switch method {
	case "GET":
		if strings.HasPrefix(segs[len(segs)-1], ":") && len(segs) == 2 {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		if segs[len(segs)-1] == "all" {
			return "delete_all"
		}
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
