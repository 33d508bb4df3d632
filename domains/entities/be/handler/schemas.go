package handler

const (
	schemaSetAttribute = "set-attribute"
	schemaUpdateData   = "update-data"
	schemaReset        = "reset"
)

var requestSchemas = map[string]string{
	schemaSetAttribute: `{
  "type": "object",
  "required": ["value"],
  "properties": {
    "value": {"type": ["string", "number", "boolean", "null"]},
    "reason": {"type": "string", "maxLength": 500}
  },
  "additionalProperties": false
}`,
	schemaUpdateData: `{
  "type": "object",
  "required": ["value"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "segments": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "value": {}
  },
  "anyOf": [{"required": ["path"]}, {"required": ["segments"]}],
  "additionalProperties": false
}`,
	schemaReset: `{
  "type": "object",
  "properties": {
    "reason": {"type": "string", "maxLength": 500}
  },
  "additionalProperties": false
}`,
}
