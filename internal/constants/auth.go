package constants

// Protocol link actions handled by the deploy package.
const (
	ProtocolActionDeploy = "deploy-datacore"
	ProtocolActionAuth   = "beto-auth"
)

// Encrypted operation names carried in the "_action" field of an ops payload.
const (
	ActionExchangeCode      = "auth/exchange-code"
	ActionMe                = "auth/me"
	ActionComponentDownload = "components/download"
	ActionComponentGet      = "components/get"
)
