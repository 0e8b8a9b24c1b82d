package snapshot

import (
	"strings"

	"github.com/michelebogoni/sitepilot/internal/models"
)

// InstructionVersion is stamped on every snapshot. Stored instructions are
// replayed as written; a snapshot is never re-derived under a newer mapping.
const InstructionVersion = 1

// operationAliases maps legacy noun_verb operation names to verb_noun.
var operationAliases = map[string]string{
	"post_create":   "create_post",
	"post_update":   "update_post",
	"post_delete":   "delete_post",
	"option_create": "create_option",
	"option_update": "update_option",
	"option_delete": "delete_option",
	"meta_update":   "update_meta",
	"term_create":   "create_term",
	"term_update":   "update_term",
	"term_delete":   "delete_term",
	"menu_create":   "create_menu",
	"menu_update":   "update_menu",
	"widget_update": "update_widget",
}

// NormalizeOperationType resolves aliases. Unknown types pass through.
func NormalizeOperationType(opType string) string {
	if canonical, ok := operationAliases[opType]; ok {
		return canonical
	}
	return opType
}

// BuildInstructions derives the inverse of every operation that captured a
// before state. Operations with a nil before are irreversible and skipped.
func BuildInstructions(ops []models.Operation) []models.RollbackInstruction {
	instructions := make([]models.RollbackInstruction, 0, len(ops))
	for i, op := range ops {
		if op.Before == nil {
			continue
		}
		instructions = append(instructions, instructionFor(i, op))
	}
	return instructions
}

func instructionFor(index int, op models.Operation) models.RollbackInstruction {
	in := models.RollbackInstruction{
		OperationIndex: index,
		Target:         op.Target,
		EntityID:       targetID(op.Target),
	}

	opType := NormalizeOperationType(op.Type)
	switch opType {
	case "create_post":
		in.Kind = models.InstructionDeletePost
		in.EntityID = firstNonEmpty(op.After.String("post_id"), in.EntityID)

	case "update_post":
		in.Kind = models.InstructionRestorePost
		in.EntityID = firstNonEmpty(in.EntityID, op.Before.String("post_id"))
		in.State = op.Before

	case "delete_post":
		in.Kind = models.InstructionRecreatePost
		in.EntityID = firstNonEmpty(op.Before.String("post_id"), in.EntityID)
		in.State = op.Before

	case "create_option":
		in.Kind = models.InstructionDeleteOption
		in.Key = firstNonEmpty(op.After.String("option_name"), in.EntityID)

	case "update_option", "delete_option":
		in.Kind = models.InstructionRestoreOption
		in.Key = firstNonEmpty(op.Before.String("option_name"), in.EntityID)
		in.State = op.Before

	case "create_term":
		in.Kind = models.InstructionDeleteTerm
		in.EntityID = firstNonEmpty(op.After.String("term_id"), in.EntityID)

	case "update_term":
		in.Kind = models.InstructionRestoreTerm
		in.State = op.Before

	case "delete_term":
		in.Kind = models.InstructionRecreateTerm
		in.EntityID = firstNonEmpty(op.Before.String("term_id"), in.EntityID)
		in.State = op.Before

	case "create_menu":
		in.Kind = models.InstructionDeleteTerm
		in.EntityID = firstNonEmpty(op.After.String("term_id"), in.EntityID)

	case "update_menu", "delete_menu":
		in.Kind = models.InstructionRestoreMenu
		in.State = op.Before

	case "create_widget", "update_widget", "delete_widget":
		in.Kind = models.InstructionRestoreWidget
		in.State = op.Before

	case "create_acf_group":
		in.Kind = models.InstructionDeletePost
		in.EntityID = firstNonEmpty(op.After.String("post_id"), in.EntityID)

	case "update_acf_group", "delete_acf_group":
		in.Kind = models.InstructionRestoreACFGroup
		in.State = op.Before

	case "custom_file_create":
		in.Kind = models.InstructionDeleteCustomFile
		in.EntityID = firstNonEmpty(op.After.String("file_id"), in.EntityID)

	case "custom_file_modify", "custom_file_delete":
		in.Kind = models.InstructionRestoreCustomFile
		in.EntityID = firstNonEmpty(op.After.String("file_id"), op.Before.String("file_id"), in.EntityID)
		in.State = op.Before

	case "create_snippet":
		in.Kind = models.InstructionDeleteSnippet
		in.EntityID = firstNonEmpty(op.After.String("snippet_id"), in.EntityID)

	default:
		if strings.HasSuffix(opType, "_meta") {
			in.Key = firstNonEmpty(op.Before.String("meta_key"), op.After.String("meta_key"))
			in.EntityID = firstNonEmpty(in.EntityID, op.Before.String("post_id"), op.After.String("post_id"))
			if len(op.Before) == 0 {
				in.Kind = models.InstructionDeleteMeta
			} else {
				in.Kind = models.InstructionRestoreMeta
				in.State = op.Before
			}
			return in
		}
		in.Kind = models.InstructionRestoreFromBefore
		in.State = op.Before
	}

	return in
}

// targetID strips the entity type from a "post:42" style target.
func targetID(target string) string {
	if _, id, ok := strings.Cut(target, ":"); ok {
		return id
	}
	return target
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
