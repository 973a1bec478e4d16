package constants

const (
	DefaultAPIURL      = "https://api.beto.group"
	DefaultFrontendURL = "https://marketplace.beto.group"

	KeyEndpointPath = "/api/security/key"
	OpsEndpointPath = "/api/ops"

	DefaultDownloadFolder = "_RESOURCES/DATACORE"
)

// Header names sent to the registry.
const (
	HeaderDeviceID     = "X-Device-Id"
	HeaderPluginName   = "X-Plugin-Name"
	HeaderPluginSource = "X-Plugin-Source"
)

// ClientHeaders identify this client on every registry call.
var ClientHeaders = map[string]string{
	HeaderPluginName:   "beto-nexus",
	HeaderPluginSource: "nexus-cli",
}
