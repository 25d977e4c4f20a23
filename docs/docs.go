// Package docs holds the OpenAPI description served at /swagger. Regenerate
// with `swag init` after changing controller annotations.
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
		"/oauth/{provider}/callback": {
			"get": {
				"summary": "OAuth redirect target",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "google or microsoft",
						"name": "provider",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "signed state",
						"name": "state",
						"in": "query",
						"required": true
					},
					{
						"type": "string",
						"description": "authorization code",
						"name": "code",
						"in": "query",
						"required": false
					},
					{
						"type": "string",
						"description": "provider error",
						"name": "error",
						"in": "query",
						"required": false
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections": {
			"get": {
				"summary": "List connections with their sources",
				"tags": [
					"Connection"
				],
				"parameters": [],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "array",
											"items": {
												"$ref": "#/definitions/dto.ConnectionResponse"
											}
										}
									}
								}
							]
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections/caldav": {
			"post": {
				"summary": "Connect a CalDAV account",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"description": "server and credentials",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/dto.CalDAVConnectRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections/{provider}/authorize": {
			"post": {
				"summary": "Start OAuth for a provider",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "google or microsoft",
						"name": "provider",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/dto.AuthURLResponse"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections/{id}/reauthorize": {
			"post": {
				"summary": "Restart OAuth for an expired connection",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "connection id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/dto.AuthURLResponse"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections/{id}/resync": {
			"post": {
				"summary": "Queue a full resync of a connection",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "connection id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/connections/{id}": {
			"delete": {
				"summary": "Remove a connection and its imported data",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "connection id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/sources/{id}": {
			"patch": {
				"summary": "Change direction, privacy, color or enabled on a source",
				"tags": [
					"Connection"
				],
				"parameters": [
					{
						"type": "string",
						"description": "source id",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "fields to change",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/dto.UpdateSourceRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/dto.SourceResponse"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/sources/{id}/outbound": {
			"post": {
				"summary": "Queue a planner item write to a source",
				"tags": [
					"Sync"
				],
				"parameters": [
					{
						"type": "string",
						"description": "source id",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "item and action",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/controller.OutboundRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/focus-blocks": {
			"post": {
				"summary": "Create a focus block",
				"tags": [
					"Focus"
				],
				"parameters": [
					{
						"description": "focus block",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/dto.FocusBlockRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/dto.FocusBlockResponse"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/private/focus-blocks/{id}": {
			"put": {
				"summary": "Move or rename a focus block",
				"tags": [
					"Focus"
				],
				"parameters": [
					{
						"type": "string",
						"description": "focus block id",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "focus block",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/dto.FocusBlockRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/controller.SuccessResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/dto.FocusBlockResponse"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				]
			},
			"delete": {
				"summary": "Delete a focus block",
				"tags": [
					"Focus"
				],
				"parameters": [
					{
						"type": "string",
						"description": "focus block id",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/controller.SuccessResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/controller.ErrorResponse"
						}
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				]
			}
		},
		"/webhooks/google/{connection_id}/{source_id}": {
			"post": {
				"summary": "Google push notification",
				"tags": [
					"Webhook"
				],
				"parameters": [
					{
						"type": "string",
						"description": "connection id",
						"name": "connection_id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "source id",
						"name": "source_id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "channel id",
						"name": "X-Goog-Channel-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"description": "sync, exists or not_exists",
						"name": "X-Goog-Resource-State",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"description": "channel token",
						"name": "X-Goog-Channel-Token",
						"in": "header",
						"required": false
					}
				],
				"responses": {
					"200": {
						"description": "OK"
					}
				}
			}
		},
		"/webhooks/microsoft/{connection_id}/{source_id}": {
			"post": {
				"summary": "Microsoft Graph change or lifecycle notification",
				"tags": [
					"Webhook"
				],
				"parameters": [
					{
						"type": "string",
						"description": "connection id",
						"name": "connection_id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "source id",
						"name": "source_id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "subscription handshake",
						"name": "validationToken",
						"in": "query",
						"required": false
					}
				],
				"responses": {
					"200": {
						"description": "validation token echo",
						"schema": {
							"type": "string"
						}
					},
					"202": {
						"description": "Accepted"
					}
				},
				"consumes": [
					"application/json"
				],
				"produces": [
					"text/plain"
				]
			}
		}
	},
	"definitions": {
		"controller.SuccessResponse": {
			"type": "object",
			"properties": {
				"status": {
					"type": "integer"
				},
				"message": {
					"type": "string"
				},
				"data": {},
				"timestamp": {
					"type": "string",
					"format": "date-time"
				}
			}
		},
		"controller.ErrorResponse": {
			"type": "object",
			"properties": {
				"status": {
					"type": "string"
				},
				"code": {
					"type": "string"
				},
				"message": {
					"type": "string"
				},
				"details": {},
				"timestamp": {
					"type": "string",
					"format": "date-time"
				}
			}
		},
		"controller.OutboundRequest": {
			"type": "object",
			"properties": {
				"item_id": {
					"type": "string"
				},
				"action": {
					"type": "string",
					"enum": [
						"create",
						"update",
						"delete"
					]
				}
			}
		},
		"dto.AuthURLResponse": {
			"type": "object",
			"properties": {
				"url": {
					"type": "string"
				},
				"connection_id": {
					"type": "string"
				}
			}
		},
		"dto.CalDAVConnectRequest": {
			"type": "object",
			"properties": {
				"server_url": {
					"type": "string"
				},
				"username": {
					"type": "string"
				},
				"password": {
					"type": "string"
				}
			}
		},
		"dto.UpdateSourceRequest": {
			"type": "object",
			"properties": {
				"direction": {
					"type": "string",
					"enum": [
						"bidirectional",
						"read-only",
						"write-only"
					]
				},
				"privacy": {
					"type": "string",
					"enum": [
						"full",
						"title-only",
						"busy-only"
					]
				},
				"enabled": {
					"type": "boolean"
				},
				"color": {
					"type": "string"
				}
			}
		},
		"dto.SourceResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"name": {
					"type": "string"
				},
				"color": {
					"type": "string"
				},
				"direction": {
					"type": "string",
					"enum": [
						"bidirectional",
						"read-only",
						"write-only"
					]
				},
				"privacy": {
					"type": "string",
					"enum": [
						"full",
						"title-only",
						"busy-only"
					]
				},
				"enabled": {
					"type": "boolean"
				},
				"read_only": {
					"type": "boolean"
				},
				"is_primary": {
					"type": "boolean"
				},
				"last_synced_at": {
					"type": "string",
					"format": "date-time"
				},
				"webhook": {
					"type": "boolean"
				}
			}
		},
		"dto.ConnectionResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"provider": {
					"type": "string"
				},
				"status": {
					"type": "string",
					"enum": [
						"connecting",
						"active",
						"initial-sync",
						"token-expired",
						"error",
						"disconnected"
					]
				},
				"enabled": {
					"type": "boolean"
				},
				"account_email": {
					"type": "string"
				},
				"last_error": {
					"type": "string"
				},
				"sources": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/dto.SourceResponse"
					}
				}
			}
		},
		"dto.FocusBlockRequest": {
			"type": "object",
			"properties": {
				"title": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"start_at": {
					"type": "string",
					"format": "date-time"
				},
				"end_at": {
					"type": "string",
					"format": "date-time"
				}
			}
		},
		"dto.FocusBlockResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"day_id": {
					"type": "string"
				},
				"title": {
					"type": "string"
				},
				"start_at": {
					"type": "string",
					"format": "date-time"
				},
				"end_at": {
					"type": "string",
					"format": "date-time"
				}
			}
		}
	},
	"securityDefinitions": {
		"BearerAuth": {
			"description": "JWT Bearer token. Example: \"Bearer {token}\"",
			"type": "apiKey",
			"name": "Authorization",
			"in": "header"
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Calendar Sync API",
	Description:      "Connects Google, Microsoft and CalDAV calendars to the planner and keeps busy time mirrored across them.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
