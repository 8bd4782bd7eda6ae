package httpapi

import "net/http"

// openapiDocument is the static OpenAPI description pinned at
// /v1/events/zabbix/openapi.json (spec §6).
const openapiDocument = `{
  "openapi": "3.0.3",
  "info": { "title": "zbxrtx", "version": "1" },
  "paths": {
    "/v1/events/zabbix/": {
      "get": {
        "summary": "Content-negotiated live stream, snapshot, or demo page",
        "parameters": [
          { "name": "family", "in": "query", "schema": { "type": "string", "enum": ["problems", "history", "main-process", "task-manager", "other"] } },
          { "name": "limit", "in": "query", "schema": { "type": "integer", "minimum": 1, "maximum": 10000, "default": 100 } },
          { "name": "sinceId", "in": "query", "schema": { "type": "integer", "minimum": 0, "default": 0 } }
        ],
        "responses": {
          "200": {
            "description": "text/event-stream live feed, or application/json snapshot, or text/html demo page depending on Accept",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "latestId": { "type": "integer" },
                    "items": {
                      "type": "array",
                      "items": { "$ref": "#/components/schemas/Envelope" }
                    }
                  }
                }
              },
              "text/event-stream": { "schema": { "type": "string" } }
            }
          }
        }
      }
    }
  },
  "components": {
    "schemas": {
      "Envelope": {
        "type": "object",
        "properties": {
          "id": { "type": "integer" },
          "time": { "type": "integer" },
          "source": {
            "type": "object",
            "properties": {
              "file": { "type": "string" },
              "family": { "type": "string" }
            }
          },
          "record": { "type": "string" }
        }
      }
    }
  }
}
`

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openapiDocument))
}
