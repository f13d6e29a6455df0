package reqfile

const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["url"],
  "additionalProperties": false,
  "properties": {
    "method":   {"type": "string", "pattern": "^[A-Za-z]+$"},
    "url":      {"type": "string", "minLength": 1},
    "headers":  {"type": "object", "additionalProperties": {"type": "string"}},
    "query":    {"type": "object", "additionalProperties": {"type": "string"}},
    "body":     {"type": "string"},
    "json":     {},
    "bodyFile": {"type": "string", "minLength": 1},
    "timeout":  {"type": "integer", "minimum": 0},
    "vars":     {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`
