package models

import (
	"encoding/json"
	"time"
)

// ActionKind is the closed set of action types an assistant may declare.
type ActionKind string

const (
	KindUnknown     ActionKind = ""
	KindExecuteCode ActionKind = "execute_code"

	// Retired direct-manipulation kinds. Kept so they can be recognised and
	// rejected with guidance instead of being treated as unknown input.
	KindCreatePage         ActionKind = "create_page"
	KindCreatePost         ActionKind = "create_post"
	KindUpdatePost         ActionKind = "update_post"
	KindDeletePost         ActionKind = "delete_post"
	KindAddElementorWidget ActionKind = "add_elementor_widget"
	KindCreatePlugin       ActionKind = "create_plugin"
	KindUpdateOption       ActionKind = "update_option"
	KindCreateMenu         ActionKind = "create_menu"
	KindRegisterPostType   ActionKind = "register_post_type"
	KindConfigureSEO       ActionKind = "configure_seo"
)

var knownKinds = map[ActionKind]bool{
	KindExecuteCode:        true,
	KindCreatePage:         true,
	KindCreatePost:         true,
	KindUpdatePost:         true,
	KindDeletePost:         true,
	KindAddElementorWidget: true,
	KindCreatePlugin:       true,
	KindUpdateOption:       true,
	KindCreateMenu:         true,
	KindRegisterPostType:   true,
	KindConfigureSEO:       true,
}

// ParseActionKind maps a raw type tag to a known kind, or KindUnknown.
func ParseActionKind(raw string) ActionKind {
	kind := ActionKind(raw)
	if knownKinds[kind] {
		return kind
	}
	return KindUnknown
}

// IsLegacy reports whether the kind is one of the retired direct-manipulation kinds.
func (k ActionKind) IsLegacy() bool {
	return k != KindExecuteCode && k != KindUnknown && knownKinds[k]
}

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// Action is one unit of work declared by the assistant inside a message.
type Action struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Target      string                 `json:"target,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Status      ActionStatus           `json:"status"`
	ChatID      string                 `json:"chat_id,omitempty"`
	MessageID   string                 `json:"message_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *ExecutionResult       `json:"result,omitempty"`
}

// UnmarshalJSON accepts the older "params" field as an alias for "details".
func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	aux := struct {
		*alias
		Params map[string]interface{} `json:"params,omitempty"`
	}{alias: (*alias)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(a.Details) == 0 && len(aux.Params) > 0 {
		a.Details = aux.Params
	}
	if a.Status == "" {
		a.Status = ActionPending
	}
	return nil
}

func (a *Action) Kind() ActionKind {
	return ParseActionKind(a.Type)
}

// Code returns details.code, or "" when absent or not a string.
func (a *Action) Code() string {
	return a.DetailString("code")
}

func (a *Action) DetailString(key string) string {
	if a.Details == nil {
		return ""
	}
	if s, ok := a.Details[key].(string); ok {
		return s
	}
	return ""
}

// HasDetail reports whether details carries key at all.
func (a *Action) HasDetail(key string) bool {
	_, ok := a.Details[key]
	return ok
}

func (a *Action) DetailBool(key string) bool {
	if a.Details == nil {
		return false
	}
	switch v := a.Details[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}

// DetailStrings returns a list-valued detail, skipping non-string entries.
func (a *Action) DetailStrings(key string) []string {
	if a.Details == nil {
		return nil
	}
	switch v := a.Details[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
