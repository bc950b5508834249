package ir

import (
	"fmt"
	"time"
)

// ResourceKind tags a resource as offered by this connector or requested
// from a remote one.
type ResourceKind int

const (
	ResourceOffered ResourceKind = iota
	ResourceRequested
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceOffered:
		return "offered"
	case ResourceRequested:
		return "requested"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// ParseResourceKind is the inverse of ResourceKind.String.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch s {
	case "offered":
		return ResourceOffered, nil
	case "requested":
		return ResourceRequested, nil
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// Resource is a locally stored resource. Requested resources carry the id
// of the remote resource they were derived from and the agreement used to
// fetch their artifacts.
type Resource struct {
	ID               string           `json:"id"`
	Kind             ResourceKind     `json:"kind"`
	OriginID         string           `json:"origin_id,omitempty"`
	TransferContract string           `json:"transfer_contract,omitempty"`
	Metadata         ResourceMetadata `json:"metadata"`
}

// ResourceMetadata is the internal metadata model.
type ResourceMetadata struct {
	Title           string                    `json:"title"`
	Description     string                    `json:"description"`
	Keywords        []string                  `json:"keywords"`
	Representations map[string]Representation `json:"representations"`
	Publisher       string                    `json:"publisher"`
	License         string                    `json:"license"`
	Version         string                    `json:"version"`
	PolicyRDF       string                    `json:"policy"`
}

// Representation describes one format a resource is available in.
type Representation struct {
	ID            string   `json:"id"`
	MediaType     string   `json:"media_type"`
	ByteSize      int64    `json:"byte_size"`
	FileName      string   `json:"file_name"`
	BackendSource string   `json:"backend_source,omitempty"`
	Artifacts     []string `json:"artifacts,omitempty"`
}

// Artifact owns a data payload and its usage bookkeeping.
type Artifact struct {
	ID          string     `json:"id"`
	RemoteID    string     `json:"remote_id,omitempty"`
	ResourceID  string     `json:"resource_id,omitempty"`
	Data        []byte     `json:"-"`
	NumAccessed int64      `json:"num_accessed"`
	FirstAccess *time.Time `json:"first_access,omitempty"`
}

// Text is a language-tagged string as used by remote resource descriptions.
type Text struct {
	Value    string `json:"@value"`
	Language string `json:"@language,omitempty"`
}

// RemoteResource is the wire description of a resource as announced by a
// provider in description responses and resource updates.
type RemoteResource struct {
	ID              string                 `json:"@id"`
	Title           []Text                 `json:"title,omitempty"`
	Description     []Text                 `json:"description,omitempty"`
	Keywords        []Text                 `json:"keyword,omitempty"`
	Publisher       string                 `json:"publisher,omitempty"`
	StandardLicense string                 `json:"standardLicense,omitempty"`
	Version         string                 `json:"version,omitempty"`
	Representations []RemoteRepresentation `json:"representation,omitempty"`
	ContractOffers  []Contract             `json:"contractOffer,omitempty"`
}

// RemoteRepresentation is a representation inside a RemoteResource.
type RemoteRepresentation struct {
	ID        string           `json:"@id"`
	MediaType string           `json:"mediaType,omitempty"`
	Instances []RemoteArtifact `json:"instance,omitempty"`
}

// RemoteArtifact is an artifact instance inside a RemoteRepresentation.
type RemoteArtifact struct {
	ID       string `json:"@id"`
	ByteSize int64  `json:"byteSize,omitempty"`
	FileName string `json:"fileName,omitempty"`
}
