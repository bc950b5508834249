package ir

// Version constants for the wire model and the connector.
const (
	// ModelVersion is the information model version written into outbound headers.
	ModelVersion = "4.0.0"

	// ConnectorVersion is the connector build version.
	ConnectorVersion = "0.1.0"
)

// SupportedModelVersions lists the inbound model versions the connector accepts.
var SupportedModelVersions = []string{"4.0.0", "4.0.3", "4.1.0"}

// IsSupportedModelVersion reports whether v is an accepted inbound model version.
func IsSupportedModelVersion(v string) bool {
	for _, s := range SupportedModelVersions {
		if s == v {
			return true
		}
	}
	return false
}
