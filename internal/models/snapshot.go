package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// StateMap is the captured persisted state of one entity. A nil StateMap
// means "not captured"; a non-nil empty one means the entity did not exist.
type StateMap map[string]interface{}

func (s StateMap) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	b, err := json.Marshal(s[key])
	if err != nil {
		return ""
	}
	return string(b)
}

// Int64 reads an integer field that may have been decoded from JSON as float64.
func (s StateMap) Int64(key string) (int64, bool) {
	return toInt64(s[key])
}

func (s StateMap) Bool(key string) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		return v == "yes" || v == "true" || v == "1" || v == "on"
	case float64:
		return v != 0
	}
	return false
}

// Map returns a nested map field.
func (s StateMap) Map(key string) StateMap {
	switch v := s[key].(type) {
	case StateMap:
		return v
	case map[string]interface{}:
		return StateMap(v)
	case map[string]string:
		out := make(StateMap, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	}
	return nil
}

// StringMap flattens a nested map field to string values.
func (s StateMap) StringMap(key string) map[string]string {
	nested := s.Map(key)
	if nested == nil {
		return nil
	}
	out := make(map[string]string, len(nested))
	for k := range nested {
		out[k] = nested.String(k)
	}
	return out
}

// Int64Slice reads a list of integers, tolerating JSON-decoded []interface{}.
func (s StateMap) Int64Slice(key string) []int64 {
	return toInt64Slice(s[key])
}

// Int64SliceMap reads a map of lists of integers (e.g. taxonomy -> term ids).
func (s StateMap) Int64SliceMap(key string) map[string][]int64 {
	var out map[string][]int64
	switch v := s[key].(type) {
	case map[string][]int64:
		return v
	case map[string]interface{}:
		out = make(map[string][]int64, len(v))
		for k, item := range v {
			out[k] = toInt64Slice(item)
		}
	case StateMap:
		out = make(map[string][]int64, len(v))
		for k, item := range v {
			out[k] = toInt64Slice(item)
		}
	}
	return out
}

// Slice returns a list of nested maps.
func (s StateMap) Slice(key string) []StateMap {
	switch v := s[key].(type) {
	case []StateMap:
		return v
	case []interface{}:
		out := make([]StateMap, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case map[string]interface{}:
				out = append(out, StateMap(m))
			case StateMap:
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func toInt64Slice(v interface{}) []int64 {
	switch list := v.(type) {
	case []int64:
		return list
	case []interface{}:
		out := make([]int64, 0, len(list))
		for _, item := range list {
			if n, ok := toInt64(item); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}

// Operation is one captured state change.
type Operation struct {
	Type   string   `json:"type"`
	Target string   `json:"target"`
	Before StateMap `json:"before"`
	After  StateMap `json:"after"`
	Status string   `json:"status,omitempty"`
}

// Normalize returns s in the shape it has after a JSON round trip: numbers
// become float64, lists []interface{} and nested maps map[string]interface{}.
// Nil stays nil.
func (s StateMap) Normalize() (StateMap, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := StateMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeOperations is Normalize for a whole operation list, so that what
// is stored compares equal to what is read back.
func NormalizeOperations(ops []Operation) ([]Operation, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	out := []Operation{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type InstructionKind string

const (
	InstructionDeletePost        InstructionKind = "delete_post"
	InstructionRestorePost       InstructionKind = "restore_post"
	InstructionRecreatePost      InstructionKind = "recreate_post"
	InstructionRestoreMeta       InstructionKind = "restore_meta"
	InstructionDeleteMeta        InstructionKind = "delete_meta"
	InstructionRestoreOption     InstructionKind = "restore_option"
	InstructionDeleteOption      InstructionKind = "delete_option"
	InstructionRestoreTerm       InstructionKind = "restore_term"
	InstructionDeleteTerm        InstructionKind = "delete_term"
	InstructionRecreateTerm      InstructionKind = "recreate_term"
	InstructionRestoreMenu       InstructionKind = "restore_menu"
	InstructionRestoreWidget     InstructionKind = "restore_widget"
	InstructionRestoreACFGroup   InstructionKind = "restore_acf_group"
	InstructionDeleteCustomFile  InstructionKind = "delete_custom_file"
	InstructionRestoreCustomFile InstructionKind = "restore_custom_file"
	InstructionDeleteSnippet     InstructionKind = "delete_snippet"
	InstructionRestoreFromBefore InstructionKind = "restore_from_before"
)

// RollbackInstruction is the inverse of one Operation, frozen at snapshot creation.
type RollbackInstruction struct {
	OperationIndex int             `json:"operation_index"`
	Kind           InstructionKind `json:"kind"`
	Target         string          `json:"target"`
	EntityID       string          `json:"entity_id,omitempty"`
	Key            string          `json:"key,omitempty"`
	State          StateMap        `json:"state,omitempty"`
}

// Snapshot is the persisted record of a set of operations and their inverses.
type Snapshot struct {
	ID                   string                `json:"snapshot_id"`
	ChatID               string                `json:"chat_id"`
	MessageID            string                `json:"message_id"`
	ActionID             string                `json:"action_id"`
	Operations           []Operation           `json:"operations"`
	RollbackInstructions []RollbackInstruction `json:"rollback_instructions"`
	InstructionVersion   int                   `json:"instruction_version"`
	FilePath             string                `json:"file_path"`
	SizeBytes            int64                 `json:"size_bytes"`
	CreatedAt            time.Time             `json:"timestamp"`
	Deleted              bool                  `json:"deleted"`
	DeletedAt            *time.Time            `json:"deleted_at,omitempty"`
}

type RollbackStatus string

const (
	RollbackSuccess RollbackStatus = "success"
	RollbackPartial RollbackStatus = "partial"
	RollbackError   RollbackStatus = "error"
)

type OperationRollback struct {
	OperationIndex int             `json:"operation_index"`
	Kind           InstructionKind `json:"kind"`
	Target         string          `json:"target"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

// RollbackResult reports the overall and per-instruction outcome of a rollback.
type RollbackResult struct {
	Success    bool                `json:"success"`
	Status     RollbackStatus      `json:"status"`
	SnapshotID string              `json:"snapshot_id"`
	Message    string              `json:"message"`
	Restored   int                 `json:"restored"`
	Failed     int                 `json:"failed"`
	Operations []OperationRollback `json:"operations"`
	Timestamp  time.Time           `json:"timestamp"`
}
