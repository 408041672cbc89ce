// Package docs is generated by swaggo/swag from the handler annotations.
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
        "/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List recent jobs",
                "parameters": [
                    {"type": "integer", "description": "max jobs (default 20, max 200)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.listJobsResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            },
            "post": {
                "description": "Validates the request, registers a queued job and starts the pipeline in the background.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create a video job",
                "parameters": [
                    {"type": "string", "description": "correlation id", "name": "X-Correlation-ID", "in": "header"},
                    {"description": "brief, plan, voice and render specs", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.createJobDTO"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.createResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/progress": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get aggregated progress",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/progress.AggregatedProgress"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/events": {
            "get": {
                "produces": ["text/event-stream"],
                "tags": ["jobs"],
                "summary": "Stream job events",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "last event id seen", "name": "Last-Event-ID", "in": "header"},
                    {"type": "string", "description": "last event id seen", "name": "lastEventId", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/cancellation.Result"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/pause": {
            "post": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Pause a job at the next stage boundary",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.controlResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/resume": {
            "post": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Resume a paused job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.controlResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/retry": {
            "post": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Retry a failed job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "cancellation.Result": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "success": {"type": "boolean"},
                "noActionNeeded": {"type": "boolean"},
                "message": {"type": "string"},
                "providerStatuses": {"type": "array", "items": {"type": "object"}}
            }
        },
        "progress.AggregatedProgress": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "stage": {"type": "string"},
                "phase": {"type": "string"},
                "stagePercent": {"type": "number"},
                "percent": {"type": "integer"},
                "message": {"type": "string"},
                "substageDetail": {"type": "string"},
                "currentItem": {"type": "integer"},
                "totalItems": {"type": "integer"},
                "etaSeconds": {"type": "number"},
                "elapsedSeconds": {"type": "number"},
                "updatedAt": {"type": "string"}
            }
        },
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "remediation": {"type": "string"},
                "correlationId": {"type": "string"},
                "fields": {"type": "array", "items": {"type": "object"}},
                "retryAfterSeconds": {"type": "integer"}
            }
        },
        "httptransport.createJobDTO": {
            "type": "object",
            "properties": {
                "brief": {"type": "object"},
                "planSpec": {"type": "object"},
                "voiceSpec": {"type": "object"},
                "renderSpec": {"type": "object"},
                "correlationId": {"type": "string"}
            }
        },
        "httptransport.controlResp": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "httptransport.createResp": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string"},
                "stage": {"type": "string"},
                "correlationId": {"type": "string"}
            }
        },
        "httptransport.jobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["queued", "running", "paused", "succeeded", "failed", "canceled"]},
                "stage": {"type": "string"},
                "phase": {"type": "string"},
                "percent": {"type": "integer"},
                "etaSeconds": {"type": "number"},
                "progressMessage": {"type": "string"},
                "errorMessage": {"type": "string"},
                "correlationId": {"type": "string"},
                "retryCount": {"type": "integer"},
                "pauseRequested": {"type": "boolean"},
                "cancelRequested": {"type": "boolean"},
                "outputPath": {"type": "string"},
                "request": {"type": "object"},
                "artifacts": {"type": "array", "items": {"type": "object"}},
                "errors": {"type": "array", "items": {"type": "object"}},
                "failureDetails": {"type": "object"},
                "logs": {"type": "array", "items": {"type": "object"}},
                "createdAt": {"type": "string"},
                "startedAt": {"type": "string"},
                "completedAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "httptransport.listJobsResp": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/httptransport.jobResp"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Video Job Orchestrator API",
	Description:      "Creates video generation jobs, steers them and streams their progress.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
