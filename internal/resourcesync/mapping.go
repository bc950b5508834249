package resourcesync

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/roach88/connector/internal/ir"
)

// MapMetadata merges a remote resource description into prior. Fields the
// remote description leaves out keep their prior value; representations
// the remote no longer lists are kept as they were.
func MapMetadata(prior ir.ResourceMetadata, remote ir.RemoteResource) ir.ResourceMetadata {
	md := prior
	md.Keywords = slices.Clone(prior.Keywords)
	md.Representations = maps.Clone(prior.Representations)
	if md.Representations == nil {
		md.Representations = make(map[string]ir.Representation)
	}

	if v := firstText(remote.Title); v != "" {
		md.Title = v
	}
	if v := firstText(remote.Description); v != "" {
		md.Description = v
	}
	if kw := keywords(remote.Keywords); len(kw) > 0 {
		md.Keywords = kw
	}
	if remote.Publisher != "" {
		md.Publisher = remote.Publisher
	}
	if remote.StandardLicense != "" {
		md.License = remote.StandardLicense
	}
	if remote.Version != "" {
		md.Version = remote.Version
	}
	if len(remote.ContractOffers) > 0 {
		if b, err := json.Marshal(remote.ContractOffers[0]); err == nil {
			md.PolicyRDF = string(b)
		}
	}

	for _, rr := range remote.Representations {
		rep, ok := md.Representations[rr.ID]
		if !ok {
			rep = ir.Representation{ID: rr.ID}
		}
		if rr.MediaType != "" {
			rep.MediaType = rr.MediaType
		}
		if len(rr.Instances) > 0 {
			first := rr.Instances[0]
			if first.ByteSize > 0 {
				rep.ByteSize = first.ByteSize
			}
			if first.FileName != "" {
				rep.FileName = first.FileName
			}
			rep.Artifacts = make([]string, 0, len(rr.Instances))
			for _, inst := range rr.Instances {
				rep.Artifacts = append(rep.Artifacts, inst.ID)
			}
		}
		md.Representations[rr.ID] = rep
	}
	return md
}

// ToRemote renders a local resource in the wire description format.
func ToRemote(r ir.Resource, offers []ir.Contract) ir.RemoteResource {
	remote := ir.RemoteResource{
		ID:              r.ID,
		Publisher:       r.Metadata.Publisher,
		StandardLicense: r.Metadata.License,
		Version:         r.Metadata.Version,
		ContractOffers:  offers,
	}
	if r.Metadata.Title != "" {
		remote.Title = []ir.Text{{Value: r.Metadata.Title}}
	}
	if r.Metadata.Description != "" {
		remote.Description = []ir.Text{{Value: r.Metadata.Description}}
	}
	for _, kw := range r.Metadata.Keywords {
		remote.Keywords = append(remote.Keywords, ir.Text{Value: kw})
	}

	for _, id := range slices.Sorted(maps.Keys(r.Metadata.Representations)) {
		rep := r.Metadata.Representations[id]
		rr := ir.RemoteRepresentation{ID: rep.ID, MediaType: rep.MediaType}
		for _, artifact := range rep.Artifacts {
			rr.Instances = append(rr.Instances, ir.RemoteArtifact{ID: artifact, ByteSize: rep.ByteSize, FileName: rep.FileName})
		}
		remote.Representations = append(remote.Representations, rr)
	}
	return remote
}

// RemoteArtifactIDs returns the ids of every artifact instance the remote
// resource offers.
func RemoteArtifactIDs(remote ir.RemoteResource) map[string]bool {
	ids := make(map[string]bool)
	for _, rr := range remote.Representations {
		for _, inst := range rr.Instances {
			ids[inst.ID] = true
		}
	}
	return ids
}

func firstText(texts []ir.Text) string {
	for _, t := range texts {
		if t.Value != "" {
			return t.Value
		}
	}
	return ""
}

func keywords(texts []ir.Text) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range texts {
		if t.Value == "" || seen[t.Value] {
			continue
		}
		seen[t.Value] = true
		out = append(out, t.Value)
	}
	return out
}
