// Package swagger embeds the generated OpenAPI document for the scan API.
package swagger

import (
	"embed"
)

//go:embed swagger.json swagger.yaml
var SwaggerFiles embed.FS

// GetSwaggerJSON returns the swagger.json content as a byte slice
func GetSwaggerJSON() ([]byte, error) {
	return SwaggerFiles.ReadFile("swagger.json")
}

// GetSwaggerYAML returns the swagger.yaml content as a byte slice
func GetSwaggerYAML() ([]byte, error) {
	return SwaggerFiles.ReadFile("swagger.yaml")
}
