package offers

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"

	"github.com/roach88/connector/internal/ir"
)

// CompileResource turns a resource struct into an offered resource and the
// artifacts of its representations. Artifact files resolve against dir.
func CompileResource(v cue.Value, dir string) (*ir.Resource, []ir.Artifact, error) {
	if err := v.Err(); err != nil {
		return nil, nil, formatCUEError(err)
	}

	res := &ir.Resource{Kind: ir.ResourceOffered}
	var err error
	if res.ID, err = requiredString(v, "id"); err != nil {
		return nil, nil, err
	}
	md := &res.Metadata
	if md.Title, err = requiredString(v, "title"); err != nil {
		return nil, nil, err
	}
	for field, dst := range map[string]*string{
		"description": &md.Description,
		"publisher":   &md.Publisher,
		"license":     &md.License,
		"version":     &md.Version,
	} {
		if *dst, err = optionalString(v, field); err != nil {
			return nil, nil, err
		}
	}
	if md.Keywords, err = stringList(v, "keywords"); err != nil {
		return nil, nil, err
	}

	list := v.LookupPath(cue.ParsePath("representation"))
	if !list.Exists() {
		return res, nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, nil, formatCUEError(err)
	}
	md.Representations = make(map[string]ir.Representation)
	var artifacts []ir.Artifact
	for iter.Next() {
		rep, repArtifacts, err := compileRepresentation(iter.Value(), res.ID, dir)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := md.Representations[rep.ID]; dup {
			return nil, nil, &CompileError{
				Field:   "representation",
				Message: fmt.Sprintf("duplicate representation %s", rep.ID),
				Pos:     iter.Value().Pos(),
			}
		}
		md.Representations[rep.ID] = rep
		artifacts = append(artifacts, repArtifacts...)
	}
	return res, artifacts, nil
}

func compileRepresentation(v cue.Value, resourceID, dir string) (ir.Representation, []ir.Artifact, error) {
	var rep ir.Representation
	var err error
	if rep.ID, err = requiredString(v, "id"); err != nil {
		return rep, nil, err
	}
	if rep.MediaType, err = optionalString(v, "mediaType"); err != nil {
		return rep, nil, err
	}
	if rep.FileName, err = optionalString(v, "fileName"); err != nil {
		return rep, nil, err
	}
	if rep.BackendSource, err = optionalString(v, "backendSource"); err != nil {
		return rep, nil, err
	}

	list := v.LookupPath(cue.ParsePath("artifact"))
	if !list.Exists() {
		return rep, nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return rep, nil, formatCUEError(err)
	}
	var artifacts []ir.Artifact
	for iter.Next() {
		a, err := compileArtifact(iter.Value(), dir)
		if err != nil {
			return rep, nil, err
		}
		a.ResourceID = resourceID
		rep.Artifacts = append(rep.Artifacts, a.ID)
		rep.ByteSize += int64(len(a.Data))
		artifacts = append(artifacts, a)
	}
	return rep, artifacts, nil
}

func compileArtifact(v cue.Value, dir string) (ir.Artifact, error) {
	id, err := requiredString(v, "id")
	if err != nil {
		return ir.Artifact{}, err
	}
	a := ir.Artifact{ID: id}

	file, err := optionalString(v, "file")
	if err != nil {
		return ir.Artifact{}, err
	}
	data := v.LookupPath(cue.ParsePath("data"))
	switch {
	case file != "" && data.Exists():
		return ir.Artifact{}, &CompileError{Field: "artifact", Message: "artifact sets both file and data", Pos: v.Pos()}
	case file != "":
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return ir.Artifact{}, &CompileError{Field: "file", Message: err.Error(), Pos: v.Pos()}
		}
		a.Data = b
	case data.Exists():
		s, err := data.String()
		if err != nil {
			return ir.Artifact{}, formatCUEError(err)
		}
		a.Data = []byte(s)
	}
	return a, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	list := v.LookupPath(cue.ParsePath(field))
	if !list.Exists() {
		return nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
