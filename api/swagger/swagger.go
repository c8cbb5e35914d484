package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Enrollment Admin API",
        "description": "Administrative enrollment status transitions with course, region and waitlist capacity enforcement",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Enrollments", "description": "Course enrollment listing and status transitions"},
        {"name": "Capacity", "description": "Course and region capacity reporting"},
        {"name": "Observability", "description": "Health and metrics"}
    ],
    "paths": {
        "/courses/{courseId}/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List course enrollments",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["PENDING_REGION", "CONFIRMED", "WAITLIST", "REJECTED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Course not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{courseId}/enrollments/{id}/status": {
            "patch": {
                "tags": ["Enrollments"],
                "summary": "Change enrollment status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "Applied or no changes", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Capacity or validation rejection", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Enrollment not found for course", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Persistence failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{courseId}/capacity": {
            "get": {
                "tags": ["Capacity"],
                "summary": "Course capacity summary",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Course not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{courseId}/capacity/reconcile": {
            "post": {
                "tags": ["Capacity"],
                "summary": "Recompute region quota counters from enrollment rows",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Course not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "In-process metrics snapshot",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "TransitionRequest": {
            "type": "object",
            "properties": {
                "targetStatus": {"type": "string", "enum": ["PENDING_REGION", "CONFIRMED", "WAITLIST", "REJECTED"]},
                "regionQuotaId": {"type": "string"},
                "notifyUser": {"type": "boolean", "default": true},
                "message": {"type": "string", "maxLength": 500}
            },
            "required": ["targetStatus"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "kind": {"type": "string", "enum": ["NOT_FOUND", "REJECTED", "INTERNAL"]},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
