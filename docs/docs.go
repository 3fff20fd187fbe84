// Package docs registers the OpenAPI description served at /swagger.
// Regenerate with `swag init` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Detailed health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthCheck"}}
                }
            }
        },
        "/health/readiness": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthCheck"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.HealthCheck"}}
                }
            }
        },
        "/realtime": {
            "get": {
                "produces": ["application/json"],
                "tags": ["realtime"],
                "summary": "Open a push connection or long-poll a polling session",
                "parameters": [
                    {"type": "string", "description": "polling for long-polls", "name": "transport", "in": "query"},
                    {"type": "string", "description": "Session id", "name": "sid", "in": "query"},
                    {"type": "string", "description": "Access token", "name": "token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PollResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Unknown session", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["realtime"],
                "summary": "Open a polling session or post client events",
                "parameters": [
                    {"type": "string", "description": "Must be polling", "name": "transport", "in": "query", "required": true},
                    {"type": "string", "description": "Session id", "name": "sid", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PollingHandshake"}},
                    "204": {"description": "Events accepted"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "503": {"description": "Connection ceiling reached", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["realtime"],
                "summary": "Close a session",
                "parameters": [
                    {"type": "string", "description": "Session id", "name": "sid", "in": "query", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/v1/notifications": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["notifications"],
                "summary": "List notifications",
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "boolean", "name": "unreadOnly", "in": "query"},
                    {"type": "string", "name": "type", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.NotificationListResponse"}},
                    "400": {"description": "Invalid type filter", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["notifications"],
                "summary": "Delete all notifications, optionally of one type",
                "parameters": [
                    {"type": "string", "name": "type", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.countResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/v1/notifications/unread-count": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["notifications"],
                "summary": "Unread notification count",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.unreadCountResponse"}}
                }
            }
        },
        "/v1/notifications/read-all": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["notifications"],
                "summary": "Mark every notification as read",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.countResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/v1/notifications/{id}/read": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["notifications"],
                "summary": "Mark a notification as read",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Notification belongs to another user", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        },
        "/v1/notifications/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["notifications"],
                "summary": "Delete a notification",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Notification belongs to another user", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "middleware.ErrorResponse": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"},
                "detail": {"type": "string"}
            }
        },
        "handlers.countResponse": {
            "type": "object",
            "properties": {"count": {"type": "integer"}}
        },
        "handlers.unreadCountResponse": {
            "type": "object",
            "properties": {
                "unreadCount": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "types.Notification": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "ownerId": {"type": "string"},
                "type": {"type": "string", "enum": ["system", "invitation", "message", "like", "join", "reminder"]},
                "title": {"type": "string"},
                "body": {"type": "string"},
                "link": {"type": "string"},
                "isRead": {"type": "boolean"},
                "createdAt": {"type": "string"}
            }
        },
        "types.PaginationInfo": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "limit": {"type": "integer"},
                "totalPages": {"type": "integer"}
            }
        },
        "types.NotificationListResponse": {
            "type": "object",
            "properties": {
                "notifications": {"type": "array", "items": {"$ref": "#/definitions/types.Notification"}},
                "pagination": {"$ref": "#/definitions/types.PaginationInfo"},
                "unreadCount": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "types.Event": {
            "type": "object",
            "properties": {
                "event": {"type": "string"},
                "data": {"type": "object"}
            }
        },
        "types.PollResponse": {
            "type": "object",
            "properties": {
                "events": {"type": "array", "items": {"$ref": "#/definitions/types.Event"}}
            }
        },
        "types.PollingHandshake": {
            "type": "object",
            "properties": {
                "sid": {"type": "string"},
                "pollWaitMs": {"type": "integer"},
                "pingIntervalMs": {"type": "integer"}
            }
        },
        "types.HealthComponent": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "types.HealthCheck": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["UP", "DEGRADED", "DOWN"]},
                "components": {"type": "object", "additionalProperties": {"$ref": "#/definitions/types.HealthComponent"}},
                "version": {"type": "string"},
                "timestamp": {"type": "string"},
                "uptime": {"type": "string"},
                "activeConnections": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Nomad Realtime API",
	Description:      "Notification inbox and realtime delivery.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
