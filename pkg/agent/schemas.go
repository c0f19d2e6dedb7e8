package agent

// JSON schemas for the reply contracts in prompts.go. ExtractJSON is
// deliberately permissive, so each decoded reply is validated here before
// its fields are trusted.
var (
	createPlanSchema = []byte(`{
		"type": "object",
		"required": ["message", "goal", "title", "language", "steps"],
		"properties": {
			"message": {"type": "string"},
			"goal": {"type": "string"},
			"title": {"type": "string"},
			"language": {"type": "string"},
			"steps": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "description"],
					"properties": {
						"id": {"type": "string"},
						"description": {"type": "string"}
					}
				}
			}
		}
	}`)

	// Steps echoed back without a description keep their current one, so
	// only the id is required here.
	updatePlanSchema = []byte(`{
		"type": "object",
		"required": ["steps"],
		"properties": {
			"steps": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id"],
					"properties": {
						"id": {"type": "string"},
						"description": {"type": "string"}
					}
				}
			}
		}
	}`)

	conclusionSchema = []byte(`{
		"type": "object",
		"required": ["success", "result"],
		"properties": {
			"success": {"type": "boolean"},
			"result": {"type": "string"},
			"attachments": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	summarySchema = []byte(`{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"type": "string"},
			"attachments": {"type": "array", "items": {"type": "string"}}
		}
	}`)
)
