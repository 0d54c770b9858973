package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Approval Gate API",
        "description": "Deploy approval gating service: pipelines block on a wait call until a human approves, rejects, or the request times out.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Approvals", "description": "Approval lifecycle and decisions"},
        {"name": "Builds", "description": "Build outcomes and console logs"},
        {"name": "Telegram", "description": "Telegram webhook intake"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/api/v1/approvals/wait": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Create an approval and block until it resolves",
                "parameters": [
                    {"name": "X-Pipeline-Token", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WaitRequest"}}
                ],
                "responses": {
                    "200": {"description": "Resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request or no owners configured"}
                }
            }
        },
        "/api/v1/approvals": {
            "get": {
                "tags": ["Approvals"],
                "summary": "List approvals",
                "parameters": [
                    {"name": "project", "in": "query", "type": "string"},
                    {"name": "env", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "description": "Comma-separated status filter"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals/stats": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Aggregate approval counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals/history/export": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Export the decision audit trail",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "days", "in": "query", "type": "integer", "default": 30}
                ],
                "responses": {
                    "200": {"description": "File attachment"}
                }
            }
        },
        "/api/v1/approvals/{id}": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Get an approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/api/v1/approvals/{id}/history": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Audit trail for one approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals/{id}/approve": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Approve a pending approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not an owner"},
                    "409": {"description": "Already decided"}
                }
            }
        },
        "/api/v1/approvals/{id}/reject": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Reject a pending approval",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not an owner"},
                    "409": {"description": "Already decided"}
                }
            }
        },
        "/api/v1/builds/result": {
            "post": {
                "tags": ["Builds"],
                "summary": "Report the outcome of an approved build",
                "parameters": [
                    {"name": "X-Pipeline-Token", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BuildOutcome"}}
                ],
                "responses": {
                    "200": {"description": "Recorded"}
                }
            }
        },
        "/api/v1/builds/{job}/{build}/logs": {
            "get": {
                "tags": ["Builds"],
                "summary": "Fetch console output for a build",
                "parameters": [
                    {"name": "job", "in": "path", "required": true, "type": "string"},
                    {"name": "build", "in": "path", "required": true, "type": "string"},
                    {"name": "tail", "in": "query", "type": "integer", "default": 100}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/telegram/webhook": {
            "post": {
                "tags": ["Telegram"],
                "summary": "Telegram webhook receiver",
                "responses": {
                    "200": {"description": "Accepted"}
                }
            }
        }
    },
    "definitions": {
        "WaitRequest": {
            "type": "object",
            "properties": {
                "project": {"type": "string"},
                "env": {"type": "string"},
                "build": {"type": "string"},
                "job": {"type": "string"},
                "version": {"type": "string"},
                "description": {"type": "string"},
                "action": {"type": "string"},
                "callback_url": {"type": "string"},
                "timeout_seconds": {"type": "integer"}
            },
            "required": ["project", "env", "build"]
        },
        "DecisionRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "comment": {"type": "string"},
                "token": {"type": "string"}
            },
            "required": ["username"]
        },
        "BuildOutcome": {
            "type": "object",
            "properties": {
                "project": {"type": "string"},
                "env": {"type": "string"},
                "build": {"type": "string"},
                "job": {"type": "string"},
                "version": {"type": "string"},
                "status": {"type": "string"},
                "duration_seconds": {"type": "number"},
                "build_url": {"type": "string"}
            },
            "required": ["project", "build"]
        },
        "DecisionResult": {
            "type": "object",
            "properties": {
                "approval_id": {"type": "string"},
                "result": {"type": "string", "enum": ["approved", "rejected", "timeout"]},
                "decided_by": {"type": "string"},
                "decided_by_role": {"type": "string"},
                "comment": {"type": "string"},
                "waited_seconds": {"type": "number"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
